package sessioncache

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

const (
	dirPerm  os.FileMode = 0700
	filePerm os.FileMode = 0600
)

// FileStore keeps one JSON file per key under Dir. The directory and the
// files are readable by the owner only since they hold live secrets.
type FileStore struct {
	Fs  afero.Fs
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Fs: afero.NewOsFs(), Dir: dir}
}

func (s *FileStore) ensureDir() error {
	if err := s.Fs.MkdirAll(s.Dir, dirPerm); err != nil {
		return xerrors.Errorf("creating cache dir %q: %w", s.Dir, err)
	}
	if err := s.Fs.Chmod(s.Dir, dirPerm); err != nil {
		return xerrors.Errorf("securing cache dir %q: %w", s.Dir, err)
	}
	return nil
}

func (s *FileStore) path(k Key) string {
	return filepath.Join(s.Dir, k.Key())
}

// Get reads the entry for k.
//
// If the file does not exist, returns wrapped ErrNotFound. The entry is
// returned as stored; use Valid or Lookup to check it.
func (s *FileStore) Get(k Key) (*Entry, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	p := s.path(k)
	log.Debugf("cache file path: %s", p)

	data, err := afero.ReadFile(s.Fs, p)
	if os.IsNotExist(err) {
		log.Debugf("cache get `%s`: miss", k.Key())
		return nil, xerrors.Errorf("reading %q: %w", p, ErrNotFound)
	} else if err != nil {
		return nil, xerrors.Errorf("reading %q: %w", p, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Debugf("cache get `%s`: unreadable: %s", k.Key(), err)
		return nil, xerrors.Errorf("unmarshal %q: %w", p, err)
	}
	log.Debugf("cache get `%s`: hit", k.Key())
	return &e, nil
}

// Put writes the entry for k, replacing any previous file.
func (s *FileStore) Put(k Key, e *Entry) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	data, err := e.Bytes()
	if err != nil {
		return xerrors.Errorf("marshalling %q: %w", k.Key(), err)
	}

	p := s.path(k)
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.Fs, tmp, data, filePerm); err != nil {
		return xerrors.Errorf("writing %q: %w", tmp, err)
	}
	if err := s.Fs.Chmod(tmp, filePerm); err != nil {
		return xerrors.Errorf("securing %q: %w", tmp, err)
	}
	if err := s.Fs.Rename(tmp, p); err != nil {
		return xerrors.Errorf("replacing %q: %w", p, err)
	}
	log.Debugf("cache put `%s`: success", k.Key())
	return nil
}
