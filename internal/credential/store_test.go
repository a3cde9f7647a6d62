package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestFileStore_ReadsExistingFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token": "t1.abc", "expires_at": 1714564800.25}`), 0600))

	c, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1.abc", c.AccessToken)
	assert.Equal(t, time.Unix(1714564800, int64(250*time.Millisecond)), c.Expiry())
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Credential{AccessToken: "a", ExpiresAt: 1}))
	require.NoError(t, s.Save(ctx, Credential{AccessToken: "b", ExpiresAt: 2}))

	c, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Credential{AccessToken: "b", ExpiresAt: 2}, *c)
}

func TestCredential_Valid(t *testing.T) {
	now := time.Unix(1000, 0)

	assert.True(t, NewCredential("t", now, time.Second).Valid(now))
	assert.False(t, NewCredential("t", now, 0).Valid(now))
	assert.False(t, NewCredential("t", now, -time.Second).Valid(now))
	assert.False(t, NewCredential("", now, time.Hour).Valid(now))
}
