// sessioncache caches session-token credentials per identity
//
// sessioncache splits Stores (the way cache items are stored) from Keys
// (the way cache items are looked up/replaced)
package sessioncache

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/aws-assume/lib/awscreds"

	// use xerrors until 1.13 is stable/oldest supported version
	"golang.org/x/xerrors"
)

// Entry is the serialized form of a cached credential set. Expiration is kept
// in awscreds.TimeFormat, local time.
type Entry struct {
	AccessKeyID     string `json:"AccessKeyId,omitempty"`
	SecretAccessKey string `json:"SecretAccessKey,omitempty"`
	SessionToken    string `json:"SessionToken,omitempty"`
	Region          string `json:"Region,omitempty"`
	Expiration      string `json:"Expiration,omitempty"`
}

// NewEntry converts a credential set for storage.
func NewEntry(c awscreds.Creds) *Entry {
	return &Entry{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Region:          c.Region,
		Expiration:      awscreds.FormatTime(c.Expiration),
	}
}

// Creds restores the credential set, parsing the expiration back into a time.
func (e *Entry) Creds() (awscreds.Creds, error) {
	exp, err := awscreds.ParseTime(e.Expiration)
	if err != nil {
		return awscreds.Creds{}, err
	}
	return awscreds.Creds{
		AccessKeyID:     e.AccessKeyID,
		SecretAccessKey: e.SecretAccessKey,
		SessionToken:    e.SessionToken,
		Region:          e.Region,
		Expiration:      exp,
	}, nil
}

func (e *Entry) Bytes() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// Valid applies the cache validity rule: the entry must carry all three
// credential fields, and when it has an expiration that expiration must be
// after now. An entry without an expiration but with every field is valid.
func Valid(e *Entry, now time.Time) bool {
	if e == nil {
		return false
	}
	if e.Expiration != "" {
		exp, err := awscreds.ParseTime(e.Expiration)
		if err != nil || !exp.After(now) {
			return false
		}
	}
	return e.AccessKeyID != "" && e.SecretAccessKey != "" && e.SessionToken != ""
}

// Key is used to compute the cache key for an entry
type Key interface {
	Key() string
}

// IdentityKey keys entries by the access key id of the identity that obtained
// the session, so every profile alias of that identity shares one entry.
type IdentityKey struct {
	AccessKeyID string
}

func (k IdentityKey) Key() string {
	return "aws-credentials-" + k.AccessKeyID
}

// Store is implemented by every cache backend.
type Store interface {
	Get(Key) (*Entry, error)
	Put(Key, *Entry) error
}

var (
	ErrNotFound       = errors.New("session not found")
	ErrSessionExpired = errors.New("session expired")
)

// Lookup returns the cached credentials for k when present and valid.
//
// a missing entry returns wrapped ErrNotFound; an invalid one ErrSessionExpired
func Lookup(s Store, k Key, now time.Time) (awscreds.Creds, error) {
	e, err := s.Get(k)
	if err != nil {
		return awscreds.Creds{}, err
	}
	if !Valid(e, now) {
		return awscreds.Creds{}, xerrors.Errorf("session for %q: %w", k.Key(), ErrSessionExpired)
	}
	return e.Creds()
}
