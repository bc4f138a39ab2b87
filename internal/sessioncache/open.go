package sessioncache

import (
	"fmt"

	"github.com/99designs/keyring"
)

// Backend names accepted by Open.
const (
	BackendFile          = "file"
	BackendKeyring       = "keyring"
	BackendKeyringSingle = "keyring-single"
)

// Open returns the store for backend. The keyring is only opened for the
// keyring backends.
func Open(backend, dir string, krConfig keyring.Config) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dir), nil
	case BackendKeyring, BackendKeyringSingle:
		kr, err := keyring.Open(krConfig)
		if err != nil {
			return nil, err
		}
		if backend == BackendKeyring {
			return &KrItemPerSessionStore{Keyring: kr}, nil
		}
		return &SingleKrItemStore{Keyring: kr}, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", backend)
}
