package sessioncache

import (
	"testing"
	"time"

	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/stretchr/testify/assert"
	"golang.org/x/xerrors"
)

var theDistantFuture = time.Date(3000, 1, 1, 0, 0, 0, 0, time.Local)
var theDistantPast = time.Date(1000, 1, 1, 0, 0, 0, 0, time.Local)

type fixedKey struct {
	v string
}

func (k *fixedKey) Key() string {
	return k.v
}

func testStore(t *testing.T, storeFactory func() Store) {
	tName := "put-get"
	t.Run(tName, func(t *testing.T) {
		st := storeFactory()
		creds := awscreds.Creds{
			AccessKeyID:     "ASIAPUTGET",
			SecretAccessKey: "secret",
			SessionToken:    "token",
			Region:          "us-west-2",
			Expiration:      theDistantFuture,
		}
		key := fixedKey{tName}

		err := st.Put(&key, NewEntry(creds))
		if err != nil {
			t.Fatalf("error on put: %s", err)
		}

		got, err := Lookup(st, &key, time.Now())
		if err != nil {
			t.Fatalf("error on get: %s", err)
		}
		assert.Equal(t, creds.AccessKeyID, got.AccessKeyID)
		assert.Equal(t, creds.SecretAccessKey, got.SecretAccessKey)
		assert.Equal(t, creds.SessionToken, got.SessionToken)
		assert.Equal(t, creds.Region, got.Region)
		assert.True(t, creds.Expiration.Equal(got.Expiration), "%s != %s", creds.Expiration, got.Expiration)
	})

	tName = "overwrite"
	t.Run(tName, func(t *testing.T) {
		st := storeFactory()
		key := fixedKey{tName}

		assert.NoError(t, st.Put(&key, &Entry{AccessKeyID: "ASIAOLD", SecretAccessKey: "s", SessionToken: "t"}))
		assert.NoError(t, st.Put(&key, &Entry{AccessKeyID: "ASIANEW", SecretAccessKey: "s", SessionToken: "t"}))

		got, err := st.Get(&key)
		if assert.NoError(t, err) {
			assert.Equal(t, "ASIANEW", got.AccessKeyID)
		}
	})

	tName = "get missing should return ErrNotFound"
	t.Run(tName, func(t *testing.T) {
		st := storeFactory()
		_, err := st.Get(&fixedKey{tName})
		if !xerrors.Is(err, ErrNotFound) {
			t.Fatalf("expected get err to be ErrNotFound; is %s", err)
		}
	})

	tName = "lookup expired should return ErrSessionExpired"
	t.Run(tName, func(t *testing.T) {
		st := storeFactory()
		creds := awscreds.Creds{
			AccessKeyID:     "ASIAEXPIRED",
			SecretAccessKey: "secret",
			SessionToken:    "token",
			Expiration:      theDistantPast,
		}
		key := fixedKey{tName}

		err := st.Put(&key, NewEntry(creds))
		if err != nil {
			t.Fatalf("error on put: %s", err)
		}

		_, err = Lookup(st, &key, time.Now())
		if !xerrors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected get err to be ErrSessionExpired; is %s", err)
		}
	})
}
