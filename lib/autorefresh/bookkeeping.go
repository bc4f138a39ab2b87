// Package autorefresh keeps role credentials written for auto-refresh alive
// until their source identity expires.
package autorefresh

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/lib/configload"
	"github.com/segmentio/aws-assume/profiles"
)

// Bookkeeping profile keys beyond the credential keys.
const (
	KeyExpiration       = configload.ExpirationKey
	KeySourceExpiration = "source_expiration"
	KeyRefreshCommand   = "refresh_command"
)

// Bookkeeping is the record kept for one auto-refreshed profile.
type Bookkeeping struct {
	// Name is the profile section name, Target the profile it refreshes.
	Name   string
	Target string
	Creds  awscreds.Creds
	// Command is the argument vector, without the binary, that resolves
	// Target again.
	Command []string
}

func NewBookkeeping(target string, creds awscreds.Creds, command []string) Bookkeeping {
	return Bookkeeping{
		Name:    profiles.BookkeepingName(target),
		Target:  target,
		Creds:   creds,
		Command: command,
	}
}

// Fields renders b as profile keys.
func (b Bookkeeping) Fields() map[string]string {
	quoted := make([]string, len(b.Command))
	for i, arg := range b.Command {
		quoted[i] = shellescape.Quote(arg)
	}
	fields := map[string]string{
		profiles.KeyAccessKeyID:     b.Creds.AccessKeyID,
		profiles.KeySecretAccessKey: b.Creds.SecretAccessKey,
		profiles.KeySessionToken:    b.Creds.SessionToken,
		KeyExpiration:               awscreds.FormatTime(b.Creds.Expiration),
		KeyRefreshCommand:           strings.Join(quoted, " "),
	}
	if b.Creds.Region != "" {
		fields[profiles.KeyRegion] = b.Creds.Region
	}
	if !b.Creds.SourceExpiration.IsZero() {
		fields[KeySourceExpiration] = awscreds.FormatTime(b.Creds.SourceExpiration)
	}
	return fields
}

// ParseBookkeeping reads a bookkeeping profile back.
func ParseBookkeeping(name string, p profiles.Profile) (Bookkeeping, error) {
	if !profiles.IsBookkeeping(name) {
		return Bookkeeping{}, fmt.Errorf("%s is not an auto-refresh profile", name)
	}
	b := Bookkeeping{Name: name, Target: strings.TrimPrefix(name, profiles.BookkeepingPrefix)}

	id, secret, token := p.StaticCredentials()
	b.Creds = awscreds.Creds{AccessKeyID: id, SecretAccessKey: secret, SessionToken: token, Region: p.Region()}

	var err error
	if p[KeyExpiration] == "" {
		return Bookkeeping{}, fmt.Errorf("%s has no %s", name, KeyExpiration)
	}
	if b.Creds.Expiration, err = awscreds.ParseTime(p[KeyExpiration]); err != nil {
		return Bookkeeping{}, fmt.Errorf("%s: bad %s: %s", name, KeyExpiration, err)
	}
	if b.Creds.SourceExpiration, err = awscreds.ParseTime(p[KeySourceExpiration]); err != nil {
		return Bookkeeping{}, fmt.Errorf("%s: bad %s: %s", name, KeySourceExpiration, err)
	}

	if b.Command, err = shellwords.Parse(p[KeyRefreshCommand]); err != nil {
		return Bookkeeping{}, fmt.Errorf("%s: bad %s: %s", name, KeyRefreshCommand, err)
	}
	if len(b.Command) == 0 {
		return Bookkeeping{}, fmt.Errorf("%s has no %s", name, KeyRefreshCommand)
	}
	return b, nil
}
