package cmd

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/profiles"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list will show you the profiles currently configured",
	RunE:  listRun,
}

func init() {
	RootCmd.AddCommand(listCmd)
}

func listRun(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return ErrTooManyArguments
	}
	ps, err := cfg.ProfileStore().Load()
	if err != nil {
		return err
	}
	for _, line := range profileTable(ps) {
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

// profileTable renders one row per profile, bookkeeping profiles left out.
func profileTable(ps profiles.Profiles) []string {
	var buf bytes.Buffer
	w := new(tabwriter.Writer)
	w.Init(&buf, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tTYPE\tSOURCE\tMFA?\tREGION\tACCOUNT")
	for _, name := range ps.Names() {
		p := ps[name]
		kind, source := "User", "None"
		if p.IsRole() {
			kind = "Role"
		}
		switch {
		case p.SourceProfile() != "":
			source = p.SourceProfile()
		case p.CredentialSource() != "":
			source = p.CredentialSource()
		case p.CredentialProcess() != "":
			source = "credential_process"
		}
		mfa := "No"
		if p.MFASerial() != "" {
			mfa = "Yes"
		}
		region := p.Region()
		if region == "" {
			region = "None"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", name, kind, source, mfa, region, p.AccountID())
	}
	w.Flush()
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}
