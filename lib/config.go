package lib

import (
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/internal/sessioncache"
	"github.com/segmentio/aws-assume/lib/configload"
)

// changing any of these will break keyring compatibility
const (
	keyringServiceName             = "aws-assume"
	keyringLibSecretCollectionName = "awsvault"
)

// Environment variables consulted by NewConfig.
const (
	EnvConfigFile      = "AWS_CONFIG_FILE"
	EnvCredentialsFile = "AWS_SHARED_CREDENTIALS_FILE"
	EnvHome            = "AWS_ASSUME_HOME"
)

// PathFlags are the path overrides given on the command line.
type PathFlags struct {
	ConfigFile      string
	CredentialsFile string
}

// Config holds every path and setting the commands need. It is built once per
// process and handed to each component.
type Config struct {
	Fs afero.Fs

	// Dir is the tool's own directory, ~/.aws-assume by default.
	Dir             string
	ConfigFile      string
	CredentialsFile string
	CacheDir        string
	SettingsFile    string
	LogFile         string

	Settings *Settings
}

// NewConfig resolves paths with the precedence environment, then flag, then
// settings file, then the AWS defaults under the home directory.
func NewConfig(fs afero.Fs, getenv func(string) string, flags PathFlags) (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, xerrors.Errorf("locating home directory: %w", err)
	}

	dir := getenv(EnvHome)
	if dir == "" {
		dir = filepath.Join(home, ".aws-assume")
	}
	if dir, err = homedir.Expand(dir); err != nil {
		return nil, err
	}

	c := &Config{
		Fs:           fs,
		Dir:          dir,
		CacheDir:     filepath.Join(dir, "cache"),
		SettingsFile: filepath.Join(dir, "config.yaml"),
		LogFile:      filepath.Join(dir, "autorefresh.log"),
	}

	c.Settings, err = LoadSettings(fs, c.SettingsFile)
	if err != nil {
		return nil, err
	}

	c.ConfigFile, err = firstPath(
		getenv(EnvConfigFile), flags.ConfigFile, c.Settings.ConfigFile,
		filepath.Join(home, ".aws", "config"))
	if err != nil {
		return nil, err
	}
	c.CredentialsFile, err = firstPath(
		getenv(EnvCredentialsFile), flags.CredentialsFile, c.Settings.CredentialsFile,
		filepath.Join(home, ".aws", "credentials"))
	if err != nil {
		return nil, err
	}

	log.Debugf("config file %s, credentials file %s, home %s", c.ConfigFile, c.CredentialsFile, c.Dir)
	return c, nil
}

func firstPath(candidates ...string) (string, error) {
	for _, p := range candidates {
		if p != "" {
			return homedir.Expand(p)
		}
	}
	return "", nil
}

// ProfileStore returns the store over the config and credentials files.
func (c *Config) ProfileStore() *configload.Store {
	return &configload.Store{Fs: c.Fs, ConfigFile: c.ConfigFile, CredentialsFile: c.CredentialsFile}
}

// KeyringConfig is used by the keyring session cache backends.
func (c *Config) KeyringConfig(prompt keyring.PromptFunc) keyring.Config {
	var allowedBackends []keyring.BackendType
	if c.Settings.KeyringBackend != "" {
		allowedBackends = append(allowedBackends, keyring.BackendType(c.Settings.KeyringBackend))
	}
	return keyring.Config{
		AllowedBackends:          allowedBackends,
		KeychainTrustApplication: true,
		ServiceName:              keyringServiceName,
		LibSecretCollectionName:  keyringLibSecretCollectionName,
		FileDir:                  filepath.Join(c.Dir, "keyring"),
		FilePasswordFunc:         prompt,
	}
}

// SessionCache opens the session cache backend named in the settings.
func (c *Config) SessionCache(prompt keyring.PromptFunc) (sessioncache.Store, error) {
	backend := c.Settings.CacheBackend
	if backend == "" || backend == sessioncache.BackendFile {
		return &sessioncache.FileStore{Fs: c.Fs, Dir: c.CacheDir}, nil
	}
	return sessioncache.Open(backend, c.CacheDir, c.KeyringConfig(prompt))
}

// SaveSettings persists the current settings.
func (c *Config) SaveSettings() error {
	return c.Settings.Save(c.Fs, c.SettingsFile)
}
