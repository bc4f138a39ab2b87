// Package profiles models the merged view of the AWS config and credentials
// files: a flat mapping of profile name to key/value pairs.
package profiles

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Recognized profile keys.
const (
	KeyRoleARN           = "role_arn"
	KeySourceProfile     = "source_profile"
	KeyMFASerial         = "mfa_serial"
	KeyRegion            = "region"
	KeyExternalID        = "external_id"
	KeyDurationSeconds   = "duration_seconds"
	KeyRoleSessionName   = "role_session_name"
	KeyCredentialSource  = "credential_source"
	KeyCredentialProcess = "credential_process"

	KeyAccessKeyID     = "aws_access_key_id"
	KeySecretAccessKey = "aws_secret_access_key"
	KeySessionToken    = "aws_session_token"
)

// DefaultProfile is consulted last when looking up a region.
const DefaultProfile = "default"

// BookkeepingPrefix marks profiles written for the auto-refresh daemon. They
// are hidden from listing and never resolved directly.
const BookkeepingPrefix = "auto-refresh-"

// Supported credential_source values.
const (
	CredentialSourceEnvironment  = "Environment"
	CredentialSourceEc2Metadata  = "Ec2InstanceMetadata"
	CredentialSourceEcsContainer = "EcsContainer"
)

var validCredentialSources = map[string]bool{
	CredentialSourceEnvironment:  true,
	CredentialSourceEc2Metadata:  true,
	CredentialSourceEcsContainer: true,
}

// keys accepted as spellings of the static credential fields, preferred first
var (
	accessKeyIDKeys     = []string{KeyAccessKeyID, "access_key_id"}
	secretAccessKeyKeys = []string{KeySecretAccessKey, "secret_access_key"}
	sessionTokenKeys    = []string{KeySessionToken, "session_token"}
)

// Profile is a single named section.
type Profile map[string]string

// Profiles maps a profile name to its section.
type Profiles map[string]Profile

// IsBookkeeping reports whether name is reserved for the auto-refresh daemon.
func IsBookkeeping(name string) bool {
	return strings.HasPrefix(name, BookkeepingPrefix)
}

// BookkeepingName returns the reserved profile name used to auto-refresh target.
func BookkeepingName(target string) string {
	return BookkeepingPrefix + target
}

// With returns a copy of p with key set to value. p is left untouched.
func (p Profile) With(key, value string) Profile {
	c := make(Profile, len(p)+1)
	for k, v := range p {
		c[k] = v
	}
	c[key] = value
	return c
}

func (p Profile) IsRole() bool {
	return p[KeyRoleARN] != ""
}

func (p Profile) RoleARN() string           { return p[KeyRoleARN] }
func (p Profile) SourceProfile() string     { return p[KeySourceProfile] }
func (p Profile) MFASerial() string         { return p[KeyMFASerial] }
func (p Profile) Region() string            { return p[KeyRegion] }
func (p Profile) ExternalID() string        { return p[KeyExternalID] }
func (p Profile) RoleSessionName() string   { return p[KeyRoleSessionName] }
func (p Profile) CredentialSource() string  { return p[KeyCredentialSource] }
func (p Profile) CredentialProcess() string { return p[KeyCredentialProcess] }

// DurationSeconds parses duration_seconds. A missing or zero value returns 0.
func (p Profile) DurationSeconds() (time.Duration, error) {
	raw := strings.TrimSpace(p[KeyDurationSeconds])
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid duration_seconds %q", raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func (p Profile) lookup(keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			return v, true
		}
	}
	return "", false
}

// StaticCredentials returns the long-lived keys stored on the profile.
func (p Profile) StaticCredentials() (accessKeyID, secretAccessKey, sessionToken string) {
	accessKeyID, _ = p.lookup(accessKeyIDKeys)
	secretAccessKey, _ = p.lookup(secretAccessKeyKeys)
	sessionToken, _ = p.lookup(sessionTokenKeys)
	return
}

// HasStaticCredentials reports whether both the key id and the secret are set.
func (p Profile) HasStaticCredentials() bool {
	id, secret, _ := p.StaticCredentials()
	return id != "" && secret != ""
}

// AccountID derives the account from role_arn or mfa_serial.
func (p Profile) AccountID() string {
	for _, arn := range []string{p.RoleARN(), p.MFASerial()} {
		if arn == "" {
			continue
		}
		parts := strings.Split(arn, ":")
		if len(parts) > 4 && parts[4] != "" {
			return parts[4]
		}
	}
	return "Unavailable"
}

// Names returns the sorted profile names, bookkeeping profiles excluded.
func (ps Profiles) Names() []string {
	var names []string
	for name := range ps {
		if IsBookkeeping(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named profile or a *NotFoundError.
func (ps Profiles) Get(name string) (Profile, error) {
	p, ok := ps[name]
	if !ok {
		return nil, &NotFoundError{Profile: name}
	}
	return p, nil
}

// Merge copies every key of other into ps, overriding existing keys.
func (ps Profiles) Merge(other Profiles) {
	for name, section := range other {
		dst, ok := ps[name]
		if !ok {
			dst = Profile{}
			ps[name] = dst
		}
		for k, v := range section {
			dst[k] = v
		}
	}
}
