package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gantry/internal/adapters/filesystem"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.False(t, cfg.DisableExtensions)
	assert.Equal(t, DefaultHostVersion, cfg.HostVersion)
	assert.Equal(t, DefaultLocale, cfg.Locale)
	assert.True(t, cfg.GCOnStartup)
	assert.True(t, cfg.Updater.Enabled)
	assert.Zero(t, cfg.Updater.Interval)
}

func TestParseFullDocument(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
disable_extensions: true
host_version: 6.1.2
locale: de
gc_on_startup: false
updater:
  enabled: false
  interval: 2h30m
  blacklist_url: https://gallery.example/blacklist
external:
  pref_file: /etc/gantry/external_extensions.toml
  registry_dir: /etc/gantry/registrations
components:
  - manifest: '{"name": "Bookmarks", "version": "1.0", "key": "abcd"}'
    path: /usr/lib/gantry/bookmarks
`))
	require.NoError(t, err)

	assert.True(t, cfg.DisableExtensions)
	assert.Equal(t, "6.1.2", cfg.HostVersion)
	assert.Equal(t, "de", cfg.Locale)
	assert.False(t, cfg.GCOnStartup)
	assert.False(t, cfg.Updater.Enabled)
	assert.Equal(t, 2*time.Hour+30*time.Minute, cfg.Updater.Interval)
	assert.Equal(t, "https://gallery.example/blacklist", cfg.Updater.BlacklistURL)
	assert.Equal(t, "/etc/gantry/external_extensions.toml", cfg.External.PrefFile)
	assert.Equal(t, "/etc/gantry/registrations", cfg.External.RegistryDir)
	require.Len(t, cfg.Components, 1)
	assert.Contains(t, cfg.Components[0].Manifest, "Bookmarks")
	assert.Equal(t, "/usr/lib/gantry/bookmarks", cfg.Components[0].Path)
}

func TestParseEmptyDocumentKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsBadInterval(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("updater:\n  interval: soon\n"))
	require.Error(t, err)

	_, err = Parse([]byte("updater:\n  interval: -5m\n"))
	require.Error(t, err)
}

func TestParseRejectsBadLocale(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("locale: not a locale\n"))
	require.Error(t, err)
}

func TestParseRejectsIncompleteComponent(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("components:\n  - path: /usr/lib/gantry/bookmarks\n"))
	require.ErrorIs(t, err, ErrComponentIncomplete)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("\t{nope"))
	require.Error(t, err)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFile), filesystem.NewRealFileSystem())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("locale: fr\n"), 0o644))

	cfg, err := Load(path, filesystem.NewRealFileSystem())
	require.NoError(t, err)
	assert.Equal(t, "fr", cfg.Locale)
	assert.Equal(t, DefaultHostVersion, cfg.HostVersion)
}
