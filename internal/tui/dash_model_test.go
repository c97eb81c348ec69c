package tui

import (
	"context"
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/domain/updater"
	"github.com/felixgeelhaar/gantry/internal/tui/ui"
)

type fakeDashRegistry struct {
	enabled  []*extension.Extension
	disabled []*extension.Extension
	pending  map[string]registry.PendingInfo

	enabledCalls  []string
	disabledCalls []string
	reloadCalls   []string
}

func (f *fakeDashRegistry) Extensions(context.Context) ([]*extension.Extension, error) {
	return f.enabled, nil
}

func (f *fakeDashRegistry) DisabledExtensions(context.Context) ([]*extension.Extension, error) {
	return f.disabled, nil
}

func (f *fakeDashRegistry) PendingInstalls(context.Context) (map[string]registry.PendingInfo, error) {
	return f.pending, nil
}

func (f *fakeDashRegistry) Extension(_ context.Context, id string, includeDisabled bool) (*extension.Extension, error) {
	for _, e := range f.enabled {
		if e.ID == id {
			return e, nil
		}
	}
	if includeDisabled {
		for _, e := range f.disabled {
			if e.ID == id {
				return e, nil
			}
		}
	}
	return nil, registry.ErrNotInstalled
}

func (f *fakeDashRegistry) EnableExtension(_ context.Context, id string) error {
	f.enabledCalls = append(f.enabledCalls, id)
	return nil
}

func (f *fakeDashRegistry) DisableExtension(_ context.Context, id string) error {
	f.disabledCalls = append(f.disabledCalls, id)
	return nil
}

func (f *fakeDashRegistry) ReloadExtension(_ context.Context, id string) error {
	f.reloadCalls = append(f.reloadCalls, id)
	return nil
}

type fakeDashUpdater struct {
	status updater.Status
	checks int
	err    error
}

func (f *fakeDashUpdater) Status() updater.Status { return f.status }

func (f *fakeDashUpdater) CheckNow(context.Context) error {
	f.checks++
	return f.err
}

func dashExt(t *testing.T, name, version, path string) *extension.Extension {
	t.Helper()

	manifest, err := extension.ParseManifest([]byte(fmt.Sprintf(`{"name":%q,"version":%q}`, name, version)))
	require.NoError(t, err)
	ext, err := extension.New(manifest, path, extension.LocationUnpacked)
	require.NoError(t, err)
	return ext
}

func newTestDashModel(t *testing.T, reg RegistryService, up UpdateService) dashModel {
	t.Helper()

	deps := DashDeps{Registry: reg, Profile: "/profile"}
	if up != nil {
		deps.Updater = up
	}
	model := newDashModel(context.Background(), deps, NewDashOptions())
	model.width = 100
	model.height = 30
	return model
}

func loadedDashModel(t *testing.T, reg RegistryService, up UpdateService) dashModel {
	t.Helper()

	model := newTestDashModel(t, reg, up)
	msg := model.loadSnapshot()()
	newModel, _ := model.Update(msg)
	return newModel.(dashModel)
}

func TestDashModel_Init(t *testing.T) {
	t.Parallel()

	model := newTestDashModel(t, &fakeDashRegistry{}, nil)

	cmd := model.Init()
	assert.NotNil(t, cmd, "Init should return a command")
}

func TestDashModel_ViewShowsExtensions(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		enabled:  []*extension.Extension{dashExt(t, "Alpha", "1.0", "/ext/alpha")},
		disabled: []*extension.Extension{dashExt(t, "Beta", "2.0", "/ext/beta")},
	}
	model := loadedDashModel(t, reg, nil)

	view := model.View()

	assert.Contains(t, view, "Gantry Extensions", "should contain header")
	assert.Contains(t, view, "/profile", "should show the profile")
	assert.Contains(t, view, "Alpha", "should list the enabled extension")
	assert.Contains(t, view, "Beta", "should list the disabled extension")
	assert.Contains(t, view, "1 enabled · 1 disabled", "should summarize states")
}

func TestDashModel_ViewWithoutExtensions(t *testing.T) {
	t.Parallel()

	model := loadedDashModel(t, &fakeDashRegistry{}, nil)

	view := model.View()

	assert.Contains(t, view, "No extensions installed", "should show the empty message")
}

func TestDashModel_UpdaterLine(t *testing.T) {
	t.Parallel()

	model := loadedDashModel(t, &fakeDashRegistry{}, nil)
	assert.Contains(t, model.View(), "Updates: disabled", "no agent means a disabled line")

	up := &fakeDashUpdater{status: updater.Status{State: updater.StateWaiting, CheckCount: 3}}
	model = loadedDashModel(t, &fakeDashRegistry{}, up)
	assert.Contains(t, model.View(), "Updates: waiting", "agent state should show")
	assert.Contains(t, model.View(), "checks 3", "check count should show")
}

func TestDashModel_Navigation(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		enabled: []*extension.Extension{
			dashExt(t, "Alpha", "1.0", "/ext/alpha"),
			dashExt(t, "Beta", "1.0", "/ext/beta"),
		},
	}
	model := loadedDashModel(t, reg, nil)
	assert.Equal(t, 0, model.cursor)

	newModel, _ := model.Update(tea.KeyMsg{Type: tea.KeyDown})
	m := newModel.(dashModel)
	assert.Equal(t, 1, m.cursor)

	// The cursor stops at the last row.
	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m = newModel.(dashModel)
	assert.Equal(t, 1, m.cursor)

	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = newModel.(dashModel)
	assert.Equal(t, 0, m.cursor)
}

func TestDashModel_Quit(t *testing.T) {
	t.Parallel()

	model := loadedDashModel(t, &fakeDashRegistry{}, nil)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.NotNil(t, cmd, "should return quit command")
}

func TestDashModel_WindowResize(t *testing.T) {
	t.Parallel()

	model := newTestDashModel(t, &fakeDashRegistry{}, nil)

	newModel, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m := newModel.(dashModel)

	assert.Equal(t, 120, m.width)
	assert.Equal(t, 40, m.height)
}

func TestDashModel_Filter(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		enabled: []*extension.Extension{
			dashExt(t, "Alpha", "1.0", "/ext/alpha"),
			dashExt(t, "Beta", "1.0", "/ext/beta"),
		},
	}
	model := loadedDashModel(t, reg, nil)

	newModel, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	m := newModel.(dashModel)
	assert.True(t, m.filtering, "slash should start filtering")

	m.filter.SetValue("alp")
	rows := m.visibleRows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Alpha", rows[0].Name)

	// Esc clears the filter and leaves filtering mode.
	newModel, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = newModel.(dashModel)
	assert.False(t, m.filtering)
	assert.Len(t, m.visibleRows(), 2)
}

func TestDashModel_FilterMatchesID(t *testing.T) {
	t.Parallel()

	ext := dashExt(t, "Alpha", "1.0", "/ext/alpha")
	reg := &fakeDashRegistry{enabled: []*extension.Extension{ext}}
	model := loadedDashModel(t, reg, nil)

	model.filter.SetValue(ext.ID[:8])
	rows := model.visibleRows()
	require.Len(t, rows, 1)
	assert.Equal(t, ext.ID, rows[0].ID)
}

func TestDashModel_ToggleDisablesEnabledRow(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		enabled: []*extension.Extension{dashExt(t, "Alpha", "1.0", "/ext/alpha")},
	}
	model := loadedDashModel(t, reg, nil)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{' '}})
	require.NotNil(t, cmd, "toggle should produce a command")

	msg := cmd()
	require.IsType(t, ui.SuccessMsg{}, msg)
	assert.Equal(t, []string{reg.enabled[0].ID}, reg.disabledCalls)
	assert.Empty(t, reg.enabledCalls)
}

func TestDashModel_ToggleEnablesDisabledRow(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		disabled: []*extension.Extension{dashExt(t, "Beta", "1.0", "/ext/beta")},
	}
	model := loadedDashModel(t, reg, nil)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{' '}})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, ui.SuccessMsg{}, msg)
	assert.Equal(t, []string{reg.disabled[0].ID}, reg.enabledCalls)
	assert.Empty(t, reg.disabledCalls)
}

func TestDashModel_ToggleIgnoresPendingRow(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		pending: map[string]registry.PendingInfo{
			"aaaabbbbccccddddeeeeffffgggghhhh": {},
		},
	}
	model := loadedDashModel(t, reg, nil)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{' '}})
	assert.Nil(t, cmd, "pending rows have nothing to toggle")
}

func TestDashModel_ReloadSelected(t *testing.T) {
	t.Parallel()

	reg := &fakeDashRegistry{
		enabled: []*extension.Extension{dashExt(t, "Alpha", "1.0", "/ext/alpha")},
	}
	model := loadedDashModel(t, reg, nil)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	require.NotNil(t, cmd)

	msg := cmd()
	require.IsType(t, ui.SuccessMsg{}, msg)
	assert.Equal(t, []string{reg.enabled[0].ID}, reg.reloadCalls)
}

func TestDashModel_UpdateCheck(t *testing.T) {
	t.Parallel()

	up := &fakeDashUpdater{status: updater.Status{State: updater.StateWaiting}}
	model := loadedDashModel(t, &fakeDashRegistry{}, up)

	newModel, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}})
	m := newModel.(dashModel)
	require.NotNil(t, cmd)
	assert.True(t, m.checking, "a check in flight shows the spinner")

	msg := cmd()
	require.IsType(t, ui.SuccessMsg{}, msg)
	assert.Equal(t, 1, up.checks)

	newModel, _ = m.Update(msg)
	m = newModel.(dashModel)
	assert.False(t, m.checking)
	assert.Contains(t, m.View(), "Update check finished")
}

func TestDashModel_UpdateCheckWithoutAgent(t *testing.T) {
	t.Parallel()

	model := loadedDashModel(t, &fakeDashRegistry{}, nil)

	newModel, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}})
	m := newModel.(dashModel)
	assert.Nil(t, cmd)
	assert.False(t, m.checking)
}

func TestDashModel_EventFeed(t *testing.T) {
	t.Parallel()

	model := loadedDashModel(t, &fakeDashRegistry{}, nil)

	ev := registry.Event{Kind: registry.EventLoaded, Extension: dashExt(t, "Alpha", "1.0", "/ext/alpha")}
	newModel, cmd := model.Update(dashEventMsg(ev))
	m := newModel.(dashModel)

	require.Len(t, m.feed, 1)
	assert.Contains(t, m.feed[0], "loaded Alpha 1.0")
	assert.NotNil(t, cmd, "an event should trigger a snapshot reload")
	assert.Contains(t, m.View(), "Events")
}

func TestCollectDashRows(t *testing.T) {
	t.Parallel()

	theme, err := extension.ParseManifest([]byte(`{"name":"Dusk","version":"1.0","theme":{"colors":{}}}`))
	require.NoError(t, err)
	duskExt, err := extension.New(theme, "/ext/dusk", extension.LocationUnpacked)
	require.NoError(t, err)

	reg := &fakeDashRegistry{
		enabled: []*extension.Extension{
			dashExt(t, "Zeta", "1.0", "/ext/zeta"),
			dashExt(t, "Alpha", "1.0", "/ext/alpha"),
		},
		disabled: []*extension.Extension{duskExt},
		pending: map[string]registry.PendingInfo{
			"ppppppppppppppppppppppppppppppaa": {IsTheme: true},
		},
	}

	rows, err := collectDashRows(context.Background(), reg)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// Enabled first and sorted by name, then disabled, then pending.
	assert.Equal(t, "Alpha", rows[0].Name)
	assert.Equal(t, stateEnabled, rows[0].State)
	assert.Equal(t, "Zeta", rows[1].Name)
	assert.Equal(t, "Dusk", rows[2].Name)
	assert.Equal(t, stateDisabled, rows[2].State)
	assert.Equal(t, "theme", rows[2].Kind)
	assert.Equal(t, statePending, rows[3].State)
	assert.Equal(t, "theme", rows[3].Kind)
}

func TestDescribeEvent(t *testing.T) {
	t.Parallel()

	ext := dashExt(t, "Alpha", "1.0", "/ext/alpha")

	assert.Equal(t, "installed Alpha 1.0", describeEvent(registry.Event{Kind: registry.EventInstalled, Extension: ext}))
	assert.Equal(t, "registry ready", describeEvent(registry.Event{Kind: registry.EventReady}))
	assert.Equal(t, "install failed: bad zip (/tmp/x.zip)",
		describeEvent(registry.Event{Kind: registry.EventInstallError, Err: "bad zip", Path: "/tmp/x.zip"}))
}

func TestClip(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "exact", clip("exact", 5))
	assert.Equal(t, "long…", clip("longer", 5))
	assert.Equal(t, "", clip("anything", 0))
}

func TestRunDash_RequiresRegistry(t *testing.T) {
	t.Parallel()

	_, err := RunDash(context.Background(), DashDeps{}, NewDashOptions())
	assert.Error(t, err)
}
