package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib"
)

// Errors returned from frontend commands
var (
	ErrCommandMissing   = errors.New("must specify command to run")
	ErrTooManyArguments = errors.New("too many arguments")
	ErrTooFewArguments  = errors.New("too few arguments")
)

// global flags
var (
	debug     bool
	info      bool
	pathFlags lib.PathFlags
	version   string
)

// cfg is built once in prerun and shared by every command.
var cfg *lib.Config

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:               "aws-assume",
	Short:             "aws-assume resolves AWS role chains into temporary credentials",
	Example:           "  eval $(aws-assume env admin)",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: prerun,
}

// Execute adds all child commands to the root command sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(vers string) {
	version = vers
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		switch err {
		case ErrTooFewArguments, ErrTooManyArguments:
			RootCmd.Usage()
		}
		os.Exit(1)
	}
}

func prerun(cmd *cobra.Command, args []string) error {
	switch {
	case debug:
		log.SetLevel(log.DebugLevel)
	case info:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	if cmd.Name() == "help" || cmd.Name() == "version" {
		return nil
	}

	var err error
	cfg, err = lib.NewConfig(afero.NewOsFs(), os.Getenv, pathFlags)
	if err != nil {
		return err
	}
	log.Debugf("using config %s and credentials %s", cfg.ConfigFile, cfg.CredentialsFile)
	return nil
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&info, "info", false, "Enable info logging")
	RootCmd.PersistentFlags().StringVar(&pathFlags.ConfigFile, "config-file", "", "AWS config file (default ~/.aws/config)")
	RootCmd.PersistentFlags().StringVar(&pathFlags.CredentialsFile, "credentials-file", "", "AWS credentials file (default ~/.aws/credentials)")
}
