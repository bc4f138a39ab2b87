package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config changes aws-assume's own settings",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "set a setting",
	Long:  "set a setting. Keys: " + strings.Join(lib.SettingKeys(), ", "),
	RunE:  configSetRun,
}

var configResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "reset a setting to its default",
	RunE:  configResetRun,
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

func configSetRun(cmd *cobra.Command, args []string) error {
	if len(args) < 2 {
		return ErrTooFewArguments
	}
	if len(args) > 2 {
		return ErrTooManyArguments
	}
	if err := cfg.Settings.Set(args[0], args[1]); err != nil {
		return err
	}
	return cfg.SaveSettings()
}

func configResetRun(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return ErrTooFewArguments
	}
	if len(args) > 1 {
		return ErrTooManyArguments
	}
	if err := cfg.Settings.Reset(args[0]); err != nil {
		return err
	}
	if err := cfg.SaveSettings(); err != nil {
		return err
	}
	fmt.Printf("%s reset\n", args[0])
	return nil
}
