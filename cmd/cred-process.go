package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib/credprocess"
)

var (
	credProcessFlags requestFlags
	pretty           bool
)

// credProcessCmd represents the cred-process command
var credProcessCmd = &cobra.Command{
	Use:     "cred-process <profile>",
	Short:   "cred-process generates a credential_process ready output",
	RunE:    credProcessRun,
	Example: "[profile foo]\ncredential_process = aws-assume cred-process admin",
}

func init() {
	RootCmd.AddCommand(credProcessCmd)
	credProcessFlags.register(credProcessCmd.Flags())
	credProcessCmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "Pretty print display")
}

func credProcessRun(cmd *cobra.Command, args []string) error {
	_, creds, err := retrieve(cmd.Context(), &credProcessFlags, args)
	if err != nil {
		return err
	}

	output, err := credprocess.Format(creds)
	if err != nil {
		return err
	}
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, output, "", "    "); err != nil {
			return err
		}
		output = buf.Bytes()
	}

	fmt.Println(string(output))
	return nil
}
