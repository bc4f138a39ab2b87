package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/lib/configload"
	"github.com/segmentio/aws-assume/profiles"
)

var (
	exportFlags   requestFlags
	exportProfile string
	exportForce   bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:     "export <profile> --output-profile <name>",
	Short:   "export copies credentials of the specified profile to your credentials file",
	RunE:    exportRun,
	Example: "aws-assume export admin --output-profile admin-session",
}

func init() {
	RootCmd.AddCommand(exportCmd)
	exportFlags.register(exportCmd.Flags())
	exportCmd.Flags().StringVarP(&exportProfile, "output-profile", "o", "", "Profile to write the credentials to")
	exportCmd.Flags().BoolVarP(&exportForce, "force", "f", false, "Overwrite a profile not written by aws-assume")
	exportCmd.MarkFlagRequired("output-profile")
}

func exportRun(cmd *cobra.Command, args []string) error {
	_, creds, err := retrieve(cmd.Context(), &exportFlags, args)
	if err != nil {
		return err
	}
	name := exportProfile

	store := cfg.ProfileStore()
	ps, err := store.Load()
	if err != nil {
		return err
	}
	if err := checkExport(ps, name, creds, exportForce); err != nil {
		return err
	}
	if err := store.AddOrReplace(name, exportFields(creds), true); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Credentials written to profile %s\n", name)
	return nil
}

// checkExport refuses to write creds into name when that would clobber a
// profile or store no keys at all.
func checkExport(ps profiles.Profiles, name string, creds awscreds.Creds, force bool) error {
	if name == "" || profiles.IsBookkeeping(name) {
		return fmt.Errorf("cannot write credentials to profile %q", name)
	}
	if creds.IsSentinel() {
		return fmt.Errorf("credential_source %s has no credentials to write", creds.CredentialSource)
	}
	if !force && !managed(ps, name) {
		return fmt.Errorf("profile %s exists and was not written by aws-assume; use --force to overwrite it", name)
	}
	return nil
}

// managed reports whether name is absent or was written by this tool.
func managed(ps profiles.Profiles, name string) bool {
	p, ok := ps[name]
	return !ok || p[configload.ManagerKey] == configload.ManagerValue
}

func exportFields(creds awscreds.Creds) map[string]string {
	fields := map[string]string{
		profiles.KeyAccessKeyID:     creds.AccessKeyID,
		profiles.KeySecretAccessKey: creds.SecretAccessKey,
	}
	if creds.SessionToken != "" {
		fields[profiles.KeySessionToken] = creds.SessionToken
		fields["aws_security_token"] = creds.SessionToken
	}
	if creds.Region != "" {
		fields[profiles.KeyRegion] = creds.Region
	}
	if creds.HasExpiration() {
		fields[configload.ExpirationKey] = awscreds.FormatTime(creds.Expiration)
	}
	return fields
}
