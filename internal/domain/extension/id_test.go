package extension

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidID(strings.Repeat("a", 32)))
	assert.True(t, ValidID(strings.Repeat("p", 32)))
	assert.False(t, ValidID(strings.Repeat("a", 31)))
	assert.False(t, ValidID(strings.Repeat("a", 33)))
	assert.False(t, ValidID(strings.Repeat("q", 32)))
	assert.False(t, ValidID(strings.Repeat("A", 32)))
	assert.False(t, ValidID(""))
}

func TestIDFromKey(t *testing.T) {
	t.Parallel()

	t.Run("deterministic and well formed", func(t *testing.T) {
		t.Parallel()

		id := IDFromKey([]byte("public key material"))
		assert.True(t, ValidID(id))
		assert.Equal(t, id, IDFromKey([]byte("public key material")))
	})

	t.Run("different keys differ", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t, IDFromKey([]byte("key one")), IDFromKey([]byte("key two")))
	})
}

func TestIDFromKeyString(t *testing.T) {
	t.Parallel()

	t.Run("matches raw derivation", func(t *testing.T) {
		t.Parallel()

		raw := []byte("hello world")
		encoded := base64.StdEncoding.EncodeToString(raw)

		id, err := IDFromKeyString(encoded)
		require.NoError(t, err)
		assert.Equal(t, IDFromKey(raw), id)
	})

	t.Run("rejects bad base64", func(t *testing.T) {
		t.Parallel()

		_, err := IDFromKeyString("%%%")
		assert.Error(t, err)
	})
}

func TestIDFromPath(t *testing.T) {
	t.Parallel()

	id := IDFromPath("/home/dev/myext")
	assert.True(t, ValidID(id))
	assert.Equal(t, id, IDFromPath("/home/dev/myext"))
	assert.NotEqual(t, id, IDFromPath("/home/dev/other"))
}

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abcdef", NormalizeID("ABCdef"))
}
