package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
)

func testExt(t *testing.T, manifest, path string) *extension.Extension {
	t.Helper()

	m, err := extension.ParseManifest([]byte(manifest))
	require.NoError(t, err)
	ext, err := extension.New(m, path, extension.LocationUnpacked)
	require.NoError(t, err)
	return ext
}

func TestListCmd_HasAlias(t *testing.T) {
	t.Parallel()

	assert.Contains(t, listCmd.Aliases, "ls")
}

func TestListCmd_Flags(t *testing.T) {
	flags := listCmd.Flags()

	for _, name := range []string{"disabled", "pending", "json"} {
		flag := flags.Lookup(name)
		require.NotNil(t, flag, "list should have a --%s flag", name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestDisplayLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		location string
		expected string
	}{
		{"internal", "internal", "Internal"},
		{"unpacked", "unpacked", "Unpacked"},
		{"component", "component", "Component"},
		{"external pref", "external-pref", "External Pref"},
		{"external registry", "external-registry", "External Registry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, displayLocation(tt.location))
		})
	}
}

func TestRowFor(t *testing.T) {
	t.Parallel()

	ext := testExt(t, `{
		"name": "Daily Builds",
		"version": "1.0.2",
		"update_url": "https://gallery.example/service/update"
	}`, "/ext/daily")

	row := rowFor(ext, "enabled")

	assert.Equal(t, ext.ID, row.ID)
	assert.Equal(t, "Daily Builds", row.Name)
	assert.Equal(t, "1.0.2", row.Version)
	assert.Equal(t, "extension", row.Kind)
	assert.Equal(t, "enabled", row.State)
	assert.Equal(t, "unpacked", row.Location)
	assert.Equal(t, "https://gallery.example/service/update", row.UpdateURL)
}

func TestKindFor(t *testing.T) {
	t.Parallel()

	plain := testExt(t, `{"name":"Plain","version":"1.0"}`, "/ext/plain")
	assert.Equal(t, "extension", kindFor(plain))

	theme := testExt(t, `{"name":"Dusk","version":"1.0","theme":{"colors":{}}}`, "/ext/dusk")
	assert.Equal(t, "theme", kindFor(theme))
}

func TestExtensionRow_JSONOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	row := extensionRow{ID: "aaaabbbbccccddddeeeeffffgggghhhh", State: "pending"}
	out, err := json.Marshal(row)
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"aaaabbbbccccddddeeeeffffgggghhhh","state":"pending"}`, string(out))
}
