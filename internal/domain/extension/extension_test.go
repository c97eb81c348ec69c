package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := ParseManifest([]byte(`{"name":"Sample","version":"1.0.0.0","key":"aGVsbG8gd29ybGQ="}`))
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("derives id from manifest key", func(t *testing.T) {
		t.Parallel()

		m := testManifest(t)
		ext, err := New(m, "/opt/ext/sample", LocationInternal)
		require.NoError(t, err)

		assert.True(t, ValidID(ext.ID))
		assert.Equal(t, "/opt/ext/sample", ext.Path)
		assert.Equal(t, LocationInternal, ext.Location)
		assert.Equal(t, "1.0.0.0", ext.Version().Original())
	})

	t.Run("same key same id", func(t *testing.T) {
		t.Parallel()

		a, err := New(testManifest(t), "/a", LocationInternal)
		require.NoError(t, err)
		b, err := New(testManifest(t), "/b", LocationInternal)
		require.NoError(t, err)

		assert.Equal(t, a.ID, b.ID)
	})

	t.Run("unpacked without key derives id from path", func(t *testing.T) {
		t.Parallel()

		m, err := ParseManifest([]byte(`{"name":"Dev","version":"0.1"}`))
		require.NoError(t, err)

		ext, err := New(m, "/home/dev/myext", LocationUnpacked)
		require.NoError(t, err)
		assert.True(t, ValidID(ext.ID))

		again, err := New(m.Clone(), "/home/dev/myext", LocationUnpacked)
		require.NoError(t, err)
		assert.Equal(t, ext.ID, again.ID)

		other, err := New(m.Clone(), "/home/dev/otherext", LocationUnpacked)
		require.NoError(t, err)
		assert.NotEqual(t, ext.ID, other.ID)
	})

	t.Run("installed location requires key", func(t *testing.T) {
		t.Parallel()

		m, err := ParseManifest([]byte(`{"name":"NoKey","version":"1.0"}`))
		require.NoError(t, err)

		_, err = New(m, "/opt/ext/nokey", LocationInternal)
		assert.ErrorIs(t, err, ErrKeyRequired)
	})

	t.Run("rejects bad version", func(t *testing.T) {
		t.Parallel()

		m, err := ParseManifest([]byte(`{"name":"Bad","version":"1.0-beta"}`))
		require.NoError(t, err)

		_, err = New(m, "/x", LocationUnpacked)
		assert.True(t, IsVersionError(err))
	})

	t.Run("nil manifest", func(t *testing.T) {
		t.Parallel()

		_, err := New(nil, "/x", LocationUnpacked)
		assert.ErrorIs(t, err, ErrNilManifest)
	})
}

func TestExtensionOrigin(t *testing.T) {
	t.Parallel()

	ext, err := New(testManifest(t), "/opt/ext/sample", LocationInternal)
	require.NoError(t, err)

	assert.Equal(t, "ext://"+ext.ID+"/", ext.Origin())
}

func TestExtensionClone(t *testing.T) {
	t.Parallel()

	ext, err := New(testManifest(t), "/opt/ext/sample", LocationInternal)
	require.NoError(t, err)
	ext.BeingUpgraded = true

	clone := ext.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, ext.ID, clone.ID)
	assert.True(t, clone.BeingUpgraded)
	assert.Equal(t, ext.Version(), clone.Version())

	clone.Manifest.Name = "Changed"
	assert.Equal(t, "Sample", ext.Manifest.Name)
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Location
		wantErr bool
	}{
		{"internal", LocationInternal, false},
		{"unpacked", LocationUnpacked, false},
		{"component", LocationComponent, false},
		{"external-pref", LocationExternalPref, false},
		{"external-registry", LocationExternalRegistry, false},
		{"banana", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLocation(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLocationProperties(t *testing.T) {
	t.Parallel()

	assert.True(t, LocationExternalPref.IsExternal())
	assert.True(t, LocationExternalRegistry.IsExternal())
	assert.False(t, LocationInternal.IsExternal())
	assert.False(t, LocationUnpacked.IsExternal())

	assert.True(t, LocationInternal.RequiresKey())
	assert.True(t, LocationComponent.RequiresKey())
	assert.False(t, LocationUnpacked.RequiresKey())
}

func TestParseState(t *testing.T) {
	t.Parallel()

	got, err := ParseState("enabled")
	require.NoError(t, err)
	assert.Equal(t, StateEnabled, got)

	got, err = ParseState("killed")
	require.NoError(t, err)
	assert.Equal(t, StateKilled, got)

	_, err = ParseState("paused")
	assert.Error(t, err)
}
