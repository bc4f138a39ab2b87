// Package credprocess runs credential_process commands and parses their
// output.
package credprocess

//go:generate mockgen -source=credprocess.go -destination=mock_credprocess/mock_credprocess.go -package=mock_credprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/lib/awscreds"
)

// ErrNoOutput is returned when the process printed nothing.
var ErrNoOutput = xerrors.New("credential process produced no output")

// Runner executes argv and returns its standard output.
type Runner interface {
	Run(ctx context.Context, argv []string) ([]byte, error)
}

// ExecRunner runs the command directly, passing its stderr through.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Output is the JSON document a credential process prints.
type Output struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken,omitempty"`
	Expiration      string `json:"Expiration,omitempty"`
}

// Split turns a credential_process command line into argv.
func Split(commandLine string) ([]string, error) {
	argv, err := shellwords.Parse(commandLine)
	if err != nil {
		return nil, xerrors.Errorf("parsing %q: %w", commandLine, err)
	}
	if len(argv) == 0 {
		return nil, xerrors.Errorf("empty credential_process")
	}
	return argv, nil
}

// Retrieve runs commandLine and parses its output. The region is attached to
// the result.
func Retrieve(ctx context.Context, r Runner, commandLine, region string) (awscreds.Creds, error) {
	argv, err := Split(commandLine)
	if err != nil {
		return awscreds.Creds{}, err
	}
	log.Debugf("running credential process %s", argv[0])
	out, err := r.Run(ctx, argv)
	if err != nil {
		return awscreds.Creds{}, xerrors.Errorf("running %s: %w", argv[0], err)
	}
	return Parse(out, region)
}

// Parse decodes credential process output. A result without an expiration is
// a long-lived credential.
func Parse(out []byte, region string) (awscreds.Creds, error) {
	if len(strings.TrimSpace(string(out))) == 0 {
		return awscreds.Creds{}, ErrNoOutput
	}
	var o Output
	if err := json.Unmarshal(out, &o); err != nil {
		return awscreds.Creds{}, xerrors.Errorf("decoding credential process output: %w", err)
	}
	if o.Version != 1 {
		return awscreds.Creds{}, xerrors.Errorf("unsupported credential process output version %d", o.Version)
	}
	if o.AccessKeyID == "" || o.SecretAccessKey == "" {
		return awscreds.Creds{}, xerrors.Errorf("credential process output is missing AccessKeyId or SecretAccessKey")
	}

	creds := awscreds.Creds{
		AccessKeyID:     o.AccessKeyID,
		SecretAccessKey: o.SecretAccessKey,
		SessionToken:    o.SessionToken,
		Region:          region,
	}
	if o.Expiration != "" {
		exp, err := time.Parse(time.RFC3339, o.Expiration)
		if err != nil {
			return awscreds.Creds{}, xerrors.Errorf("parsing Expiration: %w", err)
		}
		creds.Expiration = awscreds.Truncate(exp)
	}
	return creds, nil
}

// Format renders creds the way a credential process prints them. It backs the
// cred-process command.
func Format(creds awscreds.Creds) ([]byte, error) {
	if creds.IsSentinel() {
		return nil, xerrors.Errorf("credential_source %s has no credentials to print", creds.CredentialSource)
	}
	o := Output{
		Version:         1,
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}
	if creds.HasExpiration() {
		o.Expiration = creds.Expiration.UTC().Format(time.RFC3339)
	}
	return json.Marshal(o)
}
