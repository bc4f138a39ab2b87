package lib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentio/aws-assume/internal/sessioncache"
)

const testHome = "/tmp/aws-assume-test"

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestNewConfigPaths(t *testing.T) {
	t.Run("environment beats flags and settings", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		settings := DefaultSettings()
		settings.ConfigFile = "/from/settings/config"
		require.NoError(t, settings.Save(fs, filepath.Join(testHome, "config.yaml")))

		c, err := NewConfig(fs, envFrom(map[string]string{
			EnvHome:       testHome,
			EnvConfigFile: "/from/env/config",
		}), PathFlags{ConfigFile: "/from/flag/config"})
		require.NoError(t, err)
		assert.Equal(t, "/from/env/config", c.ConfigFile)
	})

	t.Run("flag beats settings", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		settings := DefaultSettings()
		settings.CredentialsFile = "/from/settings/credentials"
		require.NoError(t, settings.Save(fs, filepath.Join(testHome, "config.yaml")))

		c, err := NewConfig(fs, envFrom(map[string]string{EnvHome: testHome}),
			PathFlags{CredentialsFile: "/from/flag/credentials"})
		require.NoError(t, err)
		assert.Equal(t, "/from/flag/credentials", c.CredentialsFile)
	})

	t.Run("settings beat defaults", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		settings := DefaultSettings()
		settings.CredentialsFile = "/from/settings/credentials"
		require.NoError(t, settings.Save(fs, filepath.Join(testHome, "config.yaml")))

		c, err := NewConfig(fs, envFrom(map[string]string{EnvHome: testHome}), PathFlags{})
		require.NoError(t, err)
		assert.Equal(t, "/from/settings/credentials", c.CredentialsFile)
		assert.Equal(t, filepath.Join(".aws", "config"), filepath.Join(filepath.Base(filepath.Dir(c.ConfigFile)), filepath.Base(c.ConfigFile)))
	})

	t.Run("tool directory layout", func(t *testing.T) {
		c, err := NewConfig(afero.NewMemMapFs(), envFrom(map[string]string{EnvHome: testHome}), PathFlags{})
		require.NoError(t, err)
		assert.Equal(t, testHome, c.Dir)
		assert.Equal(t, filepath.Join(testHome, "cache"), c.CacheDir)
		assert.Equal(t, filepath.Join(testHome, "autorefresh.log"), c.LogFile)
		assert.Equal(t, DefaultCacheBackend, c.Settings.CacheBackend)
	})
}

func TestConfigSessionCache(t *testing.T) {
	c, err := NewConfig(afero.NewMemMapFs(), envFrom(map[string]string{EnvHome: testHome}), PathFlags{})
	require.NoError(t, err)

	st, err := c.SessionCache(nil)
	require.NoError(t, err)
	fst, ok := st.(*sessioncache.FileStore)
	require.True(t, ok)
	assert.Equal(t, c.CacheDir, fst.Dir)

	c.Settings.CacheBackend = "carrier-pigeon"
	_, err = c.SessionCache(nil)
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	t.Run("set parses by type", func(t *testing.T) {
		s := DefaultSettings()
		require.NoError(t, s.Set(SettingRoleDuration, "7200"))
		require.NoError(t, s.Set(SettingSkipDefaultProfileRegion, "true"))
		require.NoError(t, s.Set(SettingRegion, "eu-west-1"))
		assert.Equal(t, 7200, s.RoleDuration)
		assert.True(t, s.SkipDefaultProfileRegion)
		assert.Equal(t, "eu-west-1", s.Region)
	})

	t.Run("set rejects bad values", func(t *testing.T) {
		s := DefaultSettings()
		assert.Error(t, s.Set(SettingRoleDuration, "soon"))
		assert.Error(t, s.Set(SettingRoleDuration, "50000"))
		assert.Error(t, s.Set(SettingSkipDefaultProfileRegion, "maybe"))
		assert.Error(t, s.Set(SettingCacheBackend, "s3"))
		assert.Error(t, s.Set("colour", "blue"))
	})

	t.Run("reset restores defaults", func(t *testing.T) {
		s := DefaultSettings()
		require.NoError(t, s.Set(SettingCacheBackend, "keyring"))
		require.NoError(t, s.Set(SettingRoleSessionName, "me"))
		require.NoError(t, s.Reset(SettingCacheBackend))
		require.NoError(t, s.Reset(SettingRoleSessionName))
		assert.Equal(t, DefaultSettings(), s)
		assert.Error(t, s.Reset("colour"))
	})

	t.Run("save and load", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		path := filepath.Join(testHome, "config.yaml")
		s := DefaultSettings()
		require.NoError(t, s.Set(SettingRoleDuration, "3600"))
		require.NoError(t, s.Save(fs, path))

		info, err := fs.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		loaded, err := LoadSettings(fs, path)
		require.NoError(t, err)
		assert.Equal(t, s, loaded)
	})

	t.Run("missing file gives defaults", func(t *testing.T) {
		s, err := LoadSettings(afero.NewMemMapFs(), "/nope/config.yaml")
		require.NoError(t, err)
		assert.Equal(t, DefaultSettings(), s)
	})
}
