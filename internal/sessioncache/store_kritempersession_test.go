package sessioncache

import (
	"testing"

	"github.com/99designs/keyring"
)

func TestKrItemPerSessionStore(t *testing.T) {
	testStore(t, func() Store {
		return &KrItemPerSessionStore{
			Keyring: keyring.NewArrayKeyring([]keyring.Item{}),
		}
	})
}

func TestSingleKrItemStore(t *testing.T) {
	testStore(t, func() Store {
		return &SingleKrItemStore{
			Keyring: keyring.NewArrayKeyring([]keyring.Item{}),
		}
	})
}
