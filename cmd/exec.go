package cmd

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib/awscreds"
)

var execFlags requestFlags

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec [profile] -- <command>",
	Short: "exec will run the command specified with aws credentials set in the environment",
	RunE:  execRun,
}

func init() {
	RootCmd.AddCommand(execCmd)
	execFlags.register(execCmd.Flags())
}

func execRun(cmd *cobra.Command, args []string) error {
	dashIx := cmd.ArgsLenAtDash()
	if dashIx == -1 || dashIx == len(args) {
		return ErrCommandMissing
	}
	args, commandPart := args[:dashIx], args[dashIx:]

	req, creds, err := retrieve(cmd.Context(), &execFlags, args)
	if err != nil {
		return err
	}

	env := execEnviron(os.Environ(), req.Target, creds)
	log.Debugf("running %s with credentials for %s", commandPart[0], req.Target)

	ecmd := exec.Command(commandPart[0], commandPart[1:]...)
	ecmd.Stdin = os.Stdin
	ecmd.Stdout = os.Stdout
	ecmd.Stderr = os.Stderr
	ecmd.Env = env

	// Forward SIGINT, SIGTERM to the child command
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		if ecmd.Process != nil {
			ecmd.Process.Signal(sig)
		}
	}()

	if err := ecmd.Run(); err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			os.Exit(exitError.ExitCode())
		}
		return err
	}
	return nil
}

// execEnviron replaces any AWS identity in base with creds.
func execEnviron(base []string, profile string, creds awscreds.Creds) []string {
	env := environ(base)
	for _, key := range managedVars {
		if creds.IsSentinel() && isKeyVar(key) {
			continue
		}
		env.Unset(key)
	}
	env.Unset("AWS_CREDENTIAL_FILE")
	for _, v := range credentialVars(profile, creds) {
		env.Set(v.key, v.value)
	}
	return env
}
