package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib"
	"github.com/segmentio/aws-assume/lib/autorefresh"
)

var autoRefreshCmd = &cobra.Command{
	Use:    autorefresh.CommandName,
	Short:  "autorefresh keeps auto-refresh profiles fresh until their source expires",
	Hidden: true,
	RunE:   autoRefreshRun,
}

var killCmd = &cobra.Command{
	Use:   "kill [profile]",
	Short: "kill stops auto-refreshing a profile, or every profile when none is given",
	RunE:  killRun,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "clean removes expired credentials written by aws-assume from the credentials file",
	RunE:  cleanRun,
}

func init() {
	RootCmd.AddCommand(autoRefreshCmd)
	RootCmd.AddCommand(killCmd)
	RootCmd.AddCommand(cleanCmd)
}

func autoRefreshRun(cmd *cobra.Command, args []string) error {
	// stderr is the daemon log file when started by Spawn
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	logger.SetLevel(logrus.InfoLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := &autorefresh.Daemon{
		Store:     cfg.ProfileStore(),
		Refresher: commandRefresher{config: cfg},
		Log:       logger.WithField("pid", os.Getpid()),
	}
	err := d.Run(ctx)
	if err == context.Canceled {
		logger.Info("stopped")
		return nil
	}
	return err
}

func killRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return ErrTooManyArguments
	}
	var target string
	if len(args) == 1 {
		target = args[0]
	}

	k, err := autorefresh.NewKiller(cfg.ProfileStore(), cfg.CredentialsFile)
	if err != nil {
		return err
	}
	n, err := k.Kill(target)
	if err != nil {
		return err
	}
	if target != "" {
		fmt.Fprintf(os.Stderr, "Stopped auto-refreshing %s\n", target)
	}
	if n > 0 {
		fmt.Fprintf(os.Stderr, "Stopped %d auto-refresh process(es)\n", n)
	}
	return nil
}

// restartDaemon stops the daemons looking after the credentials file and
// starts one in their place, so at most one rewrites the file.
func restartDaemon(c *lib.Config) error {
	k, err := autorefresh.NewKiller(c.ProfileStore(), c.CredentialsFile)
	if err != nil {
		return err
	}
	n, err := k.StopDaemons()
	if err != nil {
		return err
	}
	if n > 0 {
		logrus.Debugf("stopped %d running auto-refresh process(es)", n)
	}
	_, err = autorefresh.Spawn(c.LogFile, daemonFlags(c, debug)...)
	return err
}

// daemonFlags are the global flags a spawned daemon needs to read the same
// files as the command that started it.
func daemonFlags(c *lib.Config, debug bool) []string {
	args := []string{
		"--config-file", c.ConfigFile,
		autorefresh.CredentialsFileFlag, c.CredentialsFile,
	}
	if debug {
		args = append(args, "--debug")
	}
	return args
}

func cleanRun(cmd *cobra.Command, args []string) error {
	removed, err := cfg.ProfileStore().RemoveExpired(time.Now())
	if err != nil {
		return err
	}
	for _, name := range removed {
		fmt.Fprintf(os.Stderr, "Removed expired profile %s\n", name)
	}
	return nil
}
