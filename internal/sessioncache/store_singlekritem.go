package sessioncache

import (
	"encoding/json"

	"github.com/99designs/keyring"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const KeyringItemKey = "session-cache"
const KeyringItemLabel = "aws-assume session cache"

type singleKrItemDb struct {
	Sessions map[string]Entry
}

// SingleKrItemStore stores all sessions in a single keyring item
//
// This is mostly for MacOS keychain, where the user needs to reauth the binary
// for every item on every upgrade. By collapsing all sessions into a single
// item, we only need to reauth once per upgrade/build
type SingleKrItemStore struct {
	Keyring keyring.Keyring
}

// getDb gets our item from the keyring and unmarshals it
//
// if the keyring item is not found, returns wrapped keyring.ErrKeyNotFound
func (s *SingleKrItemStore) getDb() (*singleKrItemDb, error) {
	item, err := s.Keyring.Get(KeyringItemKey)
	if err != nil {
		return nil, xerrors.Errorf("failed Keyring.Get(%q): %w", KeyringItemKey, err)
	}

	var unmarshalled singleKrItemDb
	if err := json.Unmarshal(item.Data, &unmarshalled); err != nil {
		return nil, xerrors.Errorf("failed unmarshal for %q: %w", KeyringItemKey, err)
	}

	return &unmarshalled, nil
}

// Get loads the db from the keyring, and returns the entry at k.Key()
//
// If the db hasn't been written or the key is not in it, returns wrapped
// ErrNotFound
func (s *SingleKrItemStore) Get(k Key) (*Entry, error) {
	keyStr := k.Key()

	currentDb, err := s.getDb()
	if xerrors.Is(err, keyring.ErrKeyNotFound) {
		log.Debugf("cache get `%s`: miss (no db)", keyStr)
		return nil, xerrors.Errorf("loading db for %q: %w", keyStr, ErrNotFound)
	} else if err != nil {
		log.Debugf("cache get `%s`: miss (read error): %s", keyStr, err)
		return nil, xerrors.Errorf("failed loading db for %q: %w", keyStr, err)
	}

	e, ok := currentDb.Sessions[keyStr]
	if !ok {
		log.Debugf("cache get `%s`: miss", keyStr)
		return nil, xerrors.Errorf("failed finding session for %q: %w", keyStr, ErrNotFound)
	}

	log.Debugf("cache get `%s`: hit", keyStr)
	return &e, nil
}

func (s *SingleKrItemStore) Put(k Key, e *Entry) error {
	keyStr := k.Key()

	currentDb, err := s.getDb()
	if xerrors.Is(err, keyring.ErrKeyNotFound) || (currentDb != nil && currentDb.Sessions == nil) {
		log.Debugf("cache put: new db")
		currentDb = &singleKrItemDb{
			Sessions: map[string]Entry{},
		}
	} else if err != nil {
		log.Debugf("cache put `%s`: error (reading): %s", keyStr, err)
		return xerrors.Errorf("loading db for %q: %w", keyStr, err)
	}

	currentDb.Sessions[keyStr] = *e

	bytes, err := json.Marshal(*currentDb)
	if err != nil {
		log.Debugf("cache put `%s`: error (marshalling): %s", keyStr, err)
		return xerrors.Errorf("marshalling db for %q: %w", keyStr, err)
	}

	// keyring offers no check-and-set, a concurrent writer can still lose an entry
	item := keyring.Item{
		Key:                         KeyringItemKey,
		Label:                       KeyringItemLabel,
		Data:                        bytes,
		KeychainNotTrustApplication: false,
	}
	if err := s.Keyring.Set(item); err != nil {
		log.Debugf("cache put `%s`: error (writing): %s", keyStr, err)
		return xerrors.Errorf("writing db for %q: %w", keyStr, err)
	}
	log.Debugf("cache put `%s`: success", keyStr)

	return nil
}
