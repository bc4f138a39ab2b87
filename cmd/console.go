package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/segmentio/aws-assume/lib/awscreds"
)

const federationEndpoint = "https://signin.aws.amazon.com/federation"

var (
	consoleFlags requestFlags
	consolePrint bool
)

var consoleCmd = &cobra.Command{
	Use:     "console [profile]",
	Aliases: []string{"login"},
	Short:   "console opens the AWS console logged into the given profile",
	RunE:    consoleRun,
}

func init() {
	RootCmd.AddCommand(consoleCmd)
	consoleFlags.register(consoleCmd.Flags())
	consoleCmd.Flags().BoolVar(&consolePrint, "print", false, "Print the sign-in URL instead of opening it")
}

func consoleRun(cmd *cobra.Command, args []string) error {
	_, creds, err := retrieve(cmd.Context(), &consoleFlags, args)
	if err != nil {
		return err
	}

	loginURL, err := signinURL(cmd.Context(), http.DefaultClient, federationEndpoint, creds)
	if err != nil {
		return err
	}
	if consolePrint {
		fmt.Println(loginURL)
		return nil
	}
	return open.Run(loginURL)
}

// signinURL exchanges creds for a federated console login URL.
func signinURL(ctx context.Context, client *http.Client, endpoint string, creds awscreds.Creds) (string, error) {
	if creds.SessionToken == "" {
		return "", errors.New("the console needs temporary credentials; use a role or MFA profile")
	}

	jsonBytes, err := json.Marshal(map[string]string{
		"sessionId":    creds.AccessKeyID,
		"sessionKey":   creds.SecretAccessKey,
		"sessionToken": creds.SessionToken,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	q := req.URL.Query()
	q.Add("Action", "getSigninToken")
	q.Add("Session", string(jsonBytes))
	req.URL.RawQuery = q.Encode()

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Call to getSigninToken failed with %v", resp.Status)
	}

	var respParsed map[string]string
	if err = json.Unmarshal(body, &respParsed); err != nil {
		return "", err
	}
	signinToken, ok := respParsed["SigninToken"]
	if !ok {
		return "", errors.New("getSigninToken returned no SigninToken")
	}

	destination := "https://console.aws.amazon.com/"
	if creds.Region != "" {
		destination = fmt.Sprintf(
			"https://%s.console.aws.amazon.com/console/home?region=%s",
			creds.Region, creds.Region,
		)
	}

	return fmt.Sprintf(
		"%s?Action=login&Issuer=aws-assume&Destination=%s&SigninToken=%s",
		endpoint,
		url.QueryEscape(destination),
		url.QueryEscape(signinToken),
	), nil
}
