package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/gantry/internal/domain/registry"
)

func TestDefaultClientConfig(t *testing.T) {
	t.Parallel()

	config := DefaultClientConfig()
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Contains(t, config.UserAgent, "gantry")
}

func TestCheckURL(t *testing.T) {
	t.Parallel()

	twoDaysAgo := time.Now().Add(-48 * time.Hour)
	targets := []registry.UpdateTarget{
		{ID: "aaaa", Version: "1.0", UpdateURL: "https://gallery.example/check"},
		{ID: "bbbb", Version: "2.1.3", LastPing: twoDaysAgo},
	}

	checkURL, err := CheckURL("https://gallery.example/check", targets, time.Now())
	require.NoError(t, err)

	parsed, err := url.Parse(checkURL)
	require.NoError(t, err)
	assert.Equal(t, "gallery.example", parsed.Host)

	xs := parsed.Query()["x"]
	require.Len(t, xs, 2)

	first, err := url.ParseQuery(xs[0])
	require.NoError(t, err)
	assert.Equal(t, "aaaa", first.Get("id"))
	assert.Equal(t, "1.0", first.Get("v"))
	assert.Empty(t, first.Get("ping"), "no ping recorded yet")

	second, err := url.ParseQuery(xs[1])
	require.NoError(t, err)
	assert.Equal(t, "bbbb", second.Get("id"))
	assert.Equal(t, "2", second.Get("ping"))
}

func TestCheckURLPendingChecksInAsZero(t *testing.T) {
	t.Parallel()

	targets := []registry.UpdateTarget{{ID: "cccc"}}
	checkURL, err := CheckURL("https://gallery.example/check", targets, time.Now())
	require.NoError(t, err)

	parsed, err := url.Parse(checkURL)
	require.NoError(t, err)
	entry, err := url.ParseQuery(parsed.Query()["x"][0])
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", entry.Get("v"))
}

func TestCheckURLRejectsBadGallery(t *testing.T) {
	t.Parallel()

	_, err := CheckURL("://not-a-url", nil, time.Now())
	require.Error(t, err)
}

func TestClient_FetchIndex(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Len(t, r.URL.Query()["x"], 1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"updates": [
				{
					"id": "aaaa",
					"version": "2.0",
					"package_url": "https://gallery.example/pkg/aaaa-2.0.zip"
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Timeout: 10 * time.Second, UserAgent: "test/1.0"})

	targets := []registry.UpdateTarget{{ID: "aaaa", Version: "1.0"}}
	idx, err := client.FetchIndex(context.Background(), server.URL, targets)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Count())

	info, ok := idx.Get("aaaa")
	require.True(t, ok)
	assert.Equal(t, "2.0", info.Version)
}

func TestClient_FetchIndexStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrServerError},
		{"bad gateway", http.StatusBadGateway, ErrServerError},
		{"forbidden", http.StatusForbidden, ErrFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(ClientConfig{Timeout: 5 * time.Second})
			_, err := client.FetchIndex(context.Background(), server.URL, nil)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_FetchPackage(t *testing.T) {
	t.Parallel()

	packageData := []byte("zip archive bytes")
	digest := sha256.Sum256(packageData)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pkg/aaaa-2.0.zip", r.URL.Path)
		_, _ = w.Write(packageData)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Timeout: 5 * time.Second})

	t.Run("digest matches", func(t *testing.T) {
		data, err := client.FetchPackage(context.Background(), UpdateInfo{
			ID:         "aaaa",
			Version:    "2.0",
			PackageURL: server.URL + "/pkg/aaaa-2.0.zip",
			SHA256:     hex.EncodeToString(digest[:]),
		})
		require.NoError(t, err)
		assert.Equal(t, packageData, data)
	})

	t.Run("digest mismatch", func(t *testing.T) {
		_, err := client.FetchPackage(context.Background(), UpdateInfo{
			ID:         "aaaa",
			Version:    "2.0",
			PackageURL: server.URL + "/pkg/aaaa-2.0.zip",
			SHA256:     "deadbeef",
		})
		require.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("no digest published", func(t *testing.T) {
		data, err := client.FetchPackage(context.Background(), UpdateInfo{
			ID:         "aaaa",
			Version:    "2.0",
			PackageURL: server.URL + "/pkg/aaaa-2.0.zip",
		})
		require.NoError(t, err)
		assert.Equal(t, packageData, data)
	})
}

func TestClient_FetchBlacklist(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ids": ["aaaa", "bbbb"]}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Timeout: 5 * time.Second})
	ids, err := client.FetchBlacklist(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb"}, ids)
}

func TestClient_FetchBlacklistMalformed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Timeout: 5 * time.Second})
	_, err := client.FetchBlacklist(context.Background(), server.URL)
	require.Error(t, err)
}

func TestParseIndexRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseIndex([]byte("{broken"))
	require.Error(t, err)
}
