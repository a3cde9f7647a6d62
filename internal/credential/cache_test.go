package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMetadataServer(t *testing.T, status int, token string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Google", r.Header.Get("Metadata-Flavor"))
		w.WriteHeader(status)
		if status == http.StatusOK {
			fmt.Fprintf(w, `{"access_token":%q,"expires_in":43200,"token_type":"Bearer"}`, token)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCache(t *testing.T, store Store, endpoint string) *Cache {
	t.Helper()
	c := NewCache(store, NewMetadataRefresher(endpoint, time.Second), nil)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCache_ExpiredTokenRefreshesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := newMetadataServer(t, http.StatusOK, "fresh", &calls)

	store := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	require.NoError(t, store.Save(context.Background(), NewCredential("stale", fixedNow, -time.Minute)))

	c := newTestCache(t, store, srv.URL)
	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), calls.Load())

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.WithinDuration(t, fixedNow.Add(12*time.Hour), saved.Expiry(), time.Millisecond)

	// the refreshed token is served from the cache
	token, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_ValidTokenNoRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := newMetadataServer(t, http.StatusOK, "fresh", &calls)

	store := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	require.NoError(t, store.Save(context.Background(), NewCredential("cached", fixedNow, time.Hour)))

	c := newTestCache(t, store, srv.URL)
	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCache_MissingFileRefreshes(t *testing.T) {
	var calls atomic.Int32
	srv := newMetadataServer(t, http.StatusOK, "first", &calls)

	path := filepath.Join(t.TempDir(), "nested", "creds.json")
	c := newTestCache(t, NewFileStore(path), srv.URL)

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", token)
	assert.Equal(t, int32(1), calls.Load())
	assert.FileExists(t, path)
}

func TestCache_ExpiresAtNowIsExpired(t *testing.T) {
	var calls atomic.Int32
	srv := newMetadataServer(t, http.StatusOK, "fresh", &calls)

	store := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	require.NoError(t, store.Save(context.Background(), NewCredential("edge", fixedNow, 0)))

	c := newTestCache(t, store, srv.URL)
	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_RefreshFailure(t *testing.T) {
	var calls atomic.Int32
	srv := newMetadataServer(t, http.StatusInternalServerError, "", &calls)

	c := newTestCache(t, NewFileStore(filepath.Join(t.TempDir(), "creds.json")), srv.URL)
	token, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, token)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestCache(t, NewFileStore(filepath.Join(t.TempDir(), "creds.json")), url)
	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCache_CorruptFileRefreshes(t *testing.T) {
	var calls atomic.Int32
	srv := newMetadataServer(t, http.StatusOK, "fresh", &calls)

	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	c := newTestCache(t, NewFileStore(path), srv.URL)
	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int32(1), calls.Load())
}
