package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Settings keys, as written in config.yaml and accepted by `config set`.
const (
	SettingRoleDuration             = "role-duration"
	SettingRegion                   = "region"
	SettingRoleSessionName          = "role-session-name"
	SettingConfigFile               = "config-file"
	SettingCredentialsFile          = "credentials-file"
	SettingCacheBackend             = "cache-backend"
	SettingKeyringBackend           = "keyring-backend"
	SettingSkipDefaultProfileRegion = "skip-default-profile-region"
)

const DefaultCacheBackend = "file"

// Settings are the tool's own persistent defaults.
type Settings struct {
	// RoleDuration is in seconds; 0 means the remote service default.
	RoleDuration             int    `yaml:"role-duration"`
	Region                   string `yaml:"region,omitempty"`
	RoleSessionName          string `yaml:"role-session-name,omitempty"`
	ConfigFile               string `yaml:"config-file,omitempty"`
	CredentialsFile          string `yaml:"credentials-file,omitempty"`
	CacheBackend             string `yaml:"cache-backend,omitempty"`
	KeyringBackend           string `yaml:"keyring-backend,omitempty"`
	SkipDefaultProfileRegion bool   `yaml:"skip-default-profile-region,omitempty"`
}

func DefaultSettings() *Settings {
	return &Settings{CacheBackend: DefaultCacheBackend}
}

// SettingKeys returns every key Set and Reset accept.
func SettingKeys() []string {
	keys := []string{
		SettingRoleDuration,
		SettingRegion,
		SettingRoleSessionName,
		SettingConfigFile,
		SettingCredentialsFile,
		SettingCacheBackend,
		SettingKeyringBackend,
		SettingSkipDefaultProfileRegion,
	}
	sort.Strings(keys)
	return keys
}

// LoadSettings reads path, returning the defaults when it does not exist.
func LoadSettings(fs afero.Fs, path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		log.Debugf("no settings file at %s, using defaults", path)
		return s, nil
	} else if err != nil {
		return nil, xerrors.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, xerrors.Errorf("parsing settings %s: %w", path, err)
	}
	if s.CacheBackend == "" {
		s.CacheBackend = DefaultCacheBackend
	}
	return s, nil
}

// Save writes the settings to path, creating its directory if needed.
func (s *Settings) Save(fs afero.Fs, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return xerrors.Errorf("encoding settings: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return xerrors.Errorf("creating settings directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0600); err != nil {
		return xerrors.Errorf("writing settings: %w", err)
	}
	return nil
}

// Set parses value according to the type of key.
func (s *Settings) Set(key, value string) error {
	switch key {
	case SettingRoleDuration:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be a number of seconds, got %q", key, value)
		}
		if n < 0 || n > 43200 {
			return fmt.Errorf("%s must be between 0 and 43200", key)
		}
		s.RoleDuration = n
	case SettingSkipDefaultProfileRegion:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false, got %q", key, value)
		}
		s.SkipDefaultProfileRegion = b
	case SettingRegion:
		s.Region = value
	case SettingRoleSessionName:
		s.RoleSessionName = value
	case SettingConfigFile:
		s.ConfigFile = value
	case SettingCredentialsFile:
		s.CredentialsFile = value
	case SettingCacheBackend:
		switch value {
		case "file", "keyring", "keyring-single":
		default:
			return fmt.Errorf("%s must be one of file, keyring, keyring-single", key)
		}
		s.CacheBackend = value
	case SettingKeyringBackend:
		s.KeyringBackend = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// Reset restores key to its default.
func (s *Settings) Reset(key string) error {
	def := DefaultSettings()
	switch key {
	case SettingRoleDuration:
		s.RoleDuration = def.RoleDuration
	case SettingSkipDefaultProfileRegion:
		s.SkipDefaultProfileRegion = def.SkipDefaultProfileRegion
	case SettingRegion:
		s.Region = def.Region
	case SettingRoleSessionName:
		s.RoleSessionName = def.RoleSessionName
	case SettingConfigFile:
		s.ConfigFile = def.ConfigFile
	case SettingCredentialsFile:
		s.CredentialsFile = def.CredentialsFile
	case SettingCacheBackend:
		s.CacheBackend = def.CacheBackend
	case SettingKeyringBackend:
		s.KeyringBackend = def.KeyringBackend
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
