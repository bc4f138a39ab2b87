package sessioncache

import (
	"encoding/json"

	"github.com/99designs/keyring"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// KrItemPerSessionStore stores each identity's session in its own keyring item
type KrItemPerSessionStore struct {
	Keyring keyring.Keyring
}

// Get returns wrapped ErrNotFound when the keyring has no item for k.
func (s *KrItemPerSessionStore) Get(k Key) (*Entry, error) {
	item, err := s.Keyring.Get(k.Key())
	if xerrors.Is(err, keyring.ErrKeyNotFound) {
		log.Debugf("cache get `%s`: miss", k.Key())
		return nil, xerrors.Errorf("keyring item %q: %w", k.Key(), ErrNotFound)
	} else if err != nil {
		return nil, xerrors.Errorf("failed Keyring.Get(%q): %w", k.Key(), err)
	}

	var e Entry
	if err = json.Unmarshal(item.Data, &e); err != nil {
		return nil, xerrors.Errorf("failed unmarshal for %q: %w", k.Key(), err)
	}

	log.Debugf("cache get `%s`: hit", k.Key())
	return &e, nil
}

func (s *KrItemPerSessionStore) Put(k Key, e *Entry) error {
	bytes, err := e.Bytes()
	if err != nil {
		return err
	}

	log.Debugf("Writing session for %s to keyring", k.Key())
	err = s.Keyring.Set(keyring.Item{
		Key:                         k.Key(),
		Label:                       "aws-assume session " + k.Key(),
		Data:                        bytes,
		KeychainNotTrustApplication: false,
	})
	if err != nil {
		return xerrors.Errorf("writing keyring item %q: %w", k.Key(), err)
	}
	return nil
}
