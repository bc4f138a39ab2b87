// Package configload reads and writes the AWS config and credentials files.
package configload

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/profiles"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	vini "github.com/vaughan0/go-ini"
	ini "gopkg.in/ini.v1"
)

// ManagerKey marks sections written by this tool.
const (
	ManagerKey   = "manager"
	ManagerValue = "aws-assume"

	// ExpirationKey holds a profile's credential expiry in awscreds.TimeFormat.
	ExpirationKey = "expiration"
)

// ErrImmutableProfile is returned when AddOrReplace would overwrite a profile
// without being asked to.
var ErrImmutableProfile = errors.New("profile already exists and overwrite was not requested")

// Store is the profile store backed by the config and credentials files.
// Writes only ever touch the credentials file.
type Store struct {
	Fs              afero.Fs
	ConfigFile      string
	CredentialsFile string
}

func NewStore(configFile, credentialsFile string) *Store {
	return &Store{Fs: afero.NewOsFs(), ConfigFile: configFile, CredentialsFile: credentialsFile}
}

func (s *Store) readSections(file string, trimPrefix bool) (profiles.Profiles, error) {
	ps := profiles.Profiles{}

	f, err := s.Fs.Open(file)
	if os.IsNotExist(err) {
		log.Debugf("%s does not exist, skipping", file)
		return ps, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "opening %s", file)
	}
	defer f.Close()

	log.Debugf("Parsing config file %s", file)
	parsed, err := vini.Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", file)
	}

	for sectionName, section := range parsed {
		if sectionName == "" {
			continue
		}
		name := sectionName
		if trimPrefix {
			name = strings.TrimPrefix(name, "profile ")
		}
		p := profiles.Profile{}
		for k, v := range section {
			p[k] = v
		}
		ps[name] = p
	}
	return ps, nil
}

// Load merges the credentials file and the config file, config values winning
// on conflicts. Bookkeeping profiles are left out.
func (s *Store) Load() (profiles.Profiles, error) {
	ps, err := s.readSections(s.CredentialsFile, false)
	if err != nil {
		return nil, err
	}
	config, err := s.readSections(s.ConfigFile, true)
	if err != nil {
		return nil, err
	}
	ps.Merge(config)

	for name := range ps {
		if profiles.IsBookkeeping(name) {
			delete(ps, name)
		}
	}
	log.Debugf("collected %d profiles", len(ps))
	return ps, nil
}

// Bookkeeping returns only the auto-refresh bookkeeping profiles.
func (s *Store) Bookkeeping() (profiles.Profiles, error) {
	cfg, err := s.loadCredentials()
	if err != nil {
		return nil, err
	}
	ps := profiles.Profiles{}
	for _, sec := range cfg.Sections() {
		if !profiles.IsBookkeeping(sec.Name()) {
			continue
		}
		ps[sec.Name()] = profiles.Profile(sec.KeysHash())
	}
	return ps, nil
}

func (s *Store) loadCredentials() (*ini.File, error) {
	data, err := afero.ReadFile(s.Fs, s.CredentialsFile)
	if os.IsNotExist(err) {
		return ini.Empty(), nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", s.CredentialsFile)
	}
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", s.CredentialsFile)
	}
	return cfg, nil
}

// save rewrites the whole credentials file through a temp file and a rename,
// so an interrupted write leaves the previous file intact.
func (s *Store) save(cfg *ini.File) error {
	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return errors.Wrap(err, "rendering credentials")
	}

	dir := filepath.Dir(s.CredentialsFile)
	if err := s.Fs.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	tmp, err := afero.TempFile(s.Fs, dir, ".credentials-")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(buf.Bytes())
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		s.Fs.Remove(tmpName)
		if werr == nil {
			werr = cerr
		}
		return errors.Wrapf(werr, "writing %s", tmpName)
	}
	if err := s.Fs.Chmod(tmpName, 0600); err != nil {
		s.Fs.Remove(tmpName)
		return errors.Wrapf(err, "securing %s", tmpName)
	}
	if err := s.Fs.Rename(tmpName, s.CredentialsFile); err != nil {
		s.Fs.Remove(tmpName)
		return errors.Wrapf(err, "replacing %s", s.CredentialsFile)
	}
	return nil
}

// AddOrReplace writes the named section into the credentials file. When the
// section exists and overwrite is false nothing is written and
// ErrImmutableProfile is returned.
func (s *Store) AddOrReplace(name string, fields map[string]string, overwrite bool) error {
	cfg, err := s.loadCredentials()
	if err != nil {
		return err
	}
	if cfg.HasSection(name) {
		if !overwrite {
			return errors.Wrapf(ErrImmutableProfile, "cannot overwrite %s in %s", name, s.CredentialsFile)
		}
		cfg.DeleteSection(name)
	}

	sec, err := cfg.NewSection(name)
	if err != nil {
		return errors.Wrapf(err, "adding section %s", name)
	}
	sec.Key(ManagerKey).SetValue(ManagerValue)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sec.Key(k).SetValue(fields[k])
	}

	log.Debugf("writing profile %s to %s", name, s.CredentialsFile)
	return s.save(cfg)
}

// Delete removes the named section. A missing section is not an error and
// leaves the file untouched.
func (s *Store) Delete(name string) error {
	cfg, err := s.loadCredentials()
	if err != nil {
		return err
	}
	if !cfg.HasSection(name) {
		return nil
	}
	cfg.DeleteSection(name)
	log.Debugf("deleting profile %s from %s", name, s.CredentialsFile)
	return s.save(cfg)
}

// RemoveExpired drops sections written by this tool whose expiration has
// passed. Sections owned by something else and bookkeeping profiles are kept.
// It returns the removed names.
func (s *Store) RemoveExpired(now time.Time) ([]string, error) {
	cfg, err := s.loadCredentials()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection || profiles.IsBookkeeping(sec.Name()) {
			continue
		}
		if sec.HasKey(ManagerKey) && sec.Key(ManagerKey).String() != ManagerValue {
			continue
		}
		if !sec.HasKey(ExpirationKey) {
			continue
		}
		exp, err := awscreds.ParseTime(sec.Key(ExpirationKey).String())
		if err != nil {
			log.Warnf("skipping %s: unreadable expiration: %s", sec.Name(), err)
			continue
		}
		if exp.Before(now) {
			removed = append(removed, sec.Name())
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	for _, name := range removed {
		cfg.DeleteSection(name)
	}
	return removed, s.save(cfg)
}
