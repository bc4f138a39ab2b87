// Package awscreds holds the credential set produced by a resolution.
package awscreds

import (
	"time"

	"github.com/aws/aws-sdk-go/service/sts"
)

// TimeFormat is the canonical local-time layout used wherever an expiration is
// written to disk.
const TimeFormat = "2006-01-02 15:04:05"

// Creds is an immutable credential set. Expiration and SourceExpiration are
// zero for long-lived credentials. A set with CredentialSource and no keys is
// a sentinel telling the caller to use the ambient credentials it names.
type Creds struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string

	Expiration       time.Time
	SourceExpiration time.Time

	CredentialSource string
}

// FromSTS converts an STS response. Expiration is truncated to whole seconds so
// the set survives a trip through TimeFormat unchanged.
func FromSTS(c *sts.Credentials, region string) Creds {
	if c == nil {
		return Creds{Region: region}
	}
	creds := Creds{Region: region}
	if c.AccessKeyId != nil {
		creds.AccessKeyID = *c.AccessKeyId
	}
	if c.SecretAccessKey != nil {
		creds.SecretAccessKey = *c.SecretAccessKey
	}
	if c.SessionToken != nil {
		creds.SessionToken = *c.SessionToken
	}
	if c.Expiration != nil {
		creds.Expiration = Truncate(*c.Expiration)
	}
	return creds
}

// Truncate drops sub-second precision and moves t to local time.
func Truncate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Truncate(time.Second).Local()
}

// FormatTime renders t in TimeFormat, local time. Zero renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(TimeFormat)
}

// ParseTime is the inverse of FormatTime.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimeFormat, s, time.Local)
}

func (c Creds) HasExpiration() bool {
	return !c.Expiration.IsZero()
}

// Expired reports whether the credentials have an expiration at or before now.
func (c Creds) Expired(now time.Time) bool {
	return c.HasExpiration() && !c.Expiration.After(now)
}

// IsSentinel reports whether c only names an ambient credential source.
func (c Creds) IsSentinel() bool {
	return c.CredentialSource != "" && c.AccessKeyID == ""
}

// WithRegion returns a copy of c with the region replaced.
func (c Creds) WithRegion(region string) Creds {
	c.Region = region
	return c
}

// Upstream returns the expiration a set derived from c should record as its
// SourceExpiration: the earliest known identity expiry up the chain.
func (c Creds) Upstream() time.Time {
	if !c.SourceExpiration.IsZero() {
		return c.SourceExpiration
	}
	return c.Expiration
}

// ShortKey returns the last four characters of the access key id for logging.
func (c Creds) ShortKey() string {
	if len(c.AccessKeyID) <= 4 {
		return c.AccessKeyID
	}
	return c.AccessKeyID[len(c.AccessKeyID)-4:]
}
