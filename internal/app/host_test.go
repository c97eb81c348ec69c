package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gantry/internal/config"
	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
)

func testKey(seed string) string {
	return base64.StdEncoding.EncodeToString([]byte("key material for " + seed))
}

func testID(t *testing.T, seed string) string {
	t.Helper()
	id, err := extension.IDFromKeyString(testKey(seed))
	require.NoError(t, err)
	return id
}

// writePackage lays out an installable extension package and returns its
// directory.
func writePackage(t *testing.T, dir, seed, name, version string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"name":    name,
		"version": version,
		"key":     testKey(seed),
	})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, extension.ManifestFilename), raw, 0o644))
	return dir
}

// watchEvents subscribes to the host bus and forwards matching events.
func watchEvents(t *testing.T, h *Host, kind registry.EventKind) <-chan registry.Event {
	t.Helper()
	ch := make(chan registry.Event, 16)
	cancel := h.Events().Subscribe(func(ev registry.Event) {
		if ev.Kind != kind {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	t.Cleanup(cancel)
	return ch
}

func waitEvent(t *testing.T, ch <-chan registry.Event) registry.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for registry event")
		return registry.Event{}
	}
}

func startHost(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	require.NoError(t, h.WaitReady(ctx))
}

func TestNewRequiresProfileDir(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)
}

func TestDefaultProfileDir(t *testing.T) {
	t.Parallel()

	dir, err := DefaultProfileDir()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, ".gantry"))
}

func TestNewReadsProfileConfig(t *testing.T) {
	t.Parallel()

	profile := t.TempDir()
	doc := "disable_extensions: true\nlocale: de\nupdater:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(profile, config.DefaultFile), []byte(doc), 0o644))

	h, err := New(profile)
	require.NoError(t, err)

	assert.True(t, h.Config().DisableExtensions)
	assert.Equal(t, "de", h.Config().Locale)
	assert.Nil(t, h.Updater())
	assert.Equal(t, profile, h.ProfileDir())
}

func TestNewWithConfigOverridesProfileFile(t *testing.T) {
	t.Parallel()

	profile := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(profile, config.DefaultFile), []byte("locale: de\n"), 0o644))

	h, err := New(profile, WithConfig(config.Default()))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultLocale, h.Config().Locale)
}

func TestNewRejectsBrokenProfileConfig(t *testing.T) {
	t.Parallel()

	profile := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(profile, config.DefaultFile), []byte("locale: [broken\n"), 0o644))

	_, err := New(profile)
	require.Error(t, err)
}

func TestNewWiresUpdaterByDefault(t *testing.T) {
	t.Parallel()

	h, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NotNil(t, h.Updater())
}

func TestHostInstallSurvivesRestart(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	// The profile directory does not exist yet; Start must create it.
	profile := filepath.Join(root, "profile")
	pkg := writePackage(t, filepath.Join(root, "pkg"), "statusbar", "Status Bar", "1.0")
	id := testID(t, "statusbar")

	cfg := config.Default()
	cfg.Updater.Enabled = false

	h, err := New(profile, WithConfig(cfg))
	require.NoError(t, err)

	installed := watchEvents(t, h, registry.EventInstalled)
	startHost(t, h)

	ctx := context.Background()
	require.NoError(t, h.Registry().InstallExtension(ctx, pkg))
	ev := waitEvent(t, installed)
	require.NotNil(t, ev.Extension)
	assert.Equal(t, id, ev.Extension.ID)

	got, err := h.Registry().Extension(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, "Status Bar", got.Name())
	assert.Equal(t, extension.LocationInternal, got.Location)

	// The install landed inside the profile and the record was persisted.
	assert.DirExists(t, filepath.Join(profile, ExtensionsDir, id, "1.0"))
	assert.FileExists(t, filepath.Join(profile, PrefsFile))

	require.NoError(t, h.Stop(ctx))

	// A fresh host over the same profile loads the installed set back.
	h2, err := New(profile, WithConfig(cfg))
	require.NoError(t, err)
	startHost(t, h2)

	again, err := h2.Registry().Extension(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, "1.0", again.Manifest.Version)
}

func TestHostInstallsFromExternalPrefFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	profile := filepath.Join(root, "profile")
	require.NoError(t, os.MkdirAll(profile, 0o755))
	pkg := writePackage(t, filepath.Join(root, "vendor-pkg"), "vendor", "Vendor Toolbar", "2.0")
	id := testID(t, "vendor")

	doc := "[" + id + "]\npackage = \"" + pkg + "\"\nversion = \"2.0\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(profile, "external.toml"), []byte(doc), 0o644))

	cfg := config.Default()
	cfg.Updater.Enabled = false
	// Relative paths resolve against the profile directory.
	cfg.External.PrefFile = "external.toml"

	h, err := New(profile, WithConfig(cfg))
	require.NoError(t, err)

	installed := watchEvents(t, h, registry.EventInstalled)
	startHost(t, h)

	ev := waitEvent(t, installed)
	require.NotNil(t, ev.Extension)
	assert.Equal(t, id, ev.Extension.ID)
	assert.Equal(t, extension.LocationExternalPref, ev.Extension.Location)
}

func TestHostLoadsConfiguredComponents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	profile := filepath.Join(root, "profile")
	componentDir := writePackage(t, filepath.Join(root, "bookmarks"), "bookmarks", "Bookmark Manager", "1.0")
	raw, err := os.ReadFile(filepath.Join(componentDir, extension.ManifestFilename))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Updater.Enabled = false
	cfg.Components = []config.ComponentConfig{{Manifest: string(raw), Path: componentDir}}

	h, err := New(profile, WithConfig(cfg))
	require.NoError(t, err)
	startHost(t, h)

	enabled, err := h.Registry().Extensions(context.Background())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, extension.LocationComponent, enabled[0].Location)
	assert.Equal(t, "Bookmark Manager", enabled[0].Name())
}

func TestHostSweepsOrphansOnStartup(t *testing.T) {
	t.Parallel()

	profile := t.TempDir()
	orphan := filepath.Join(profile, ExtensionsDir, testID(t, "orphan"), "1.0")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(orphan, "leftover.js"), []byte("//"), 0o644))

	cfg := config.Default()
	cfg.Updater.Enabled = false

	h, err := New(profile, WithConfig(cfg))
	require.NoError(t, err)
	startHost(t, h)

	// No preference record claims the directory, so the startup sweep
	// removes it.
	require.Eventually(t, func() bool {
		_, err := os.Stat(orphan)
		return os.IsNotExist(err)
	}, 5*time.Second, 25*time.Millisecond)
}
