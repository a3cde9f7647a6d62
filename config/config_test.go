package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExpandsEnvAndOverlaysDefaults(t *testing.T) {
	t.Setenv("TEST_FOLDER_ID", "b1g-folder")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
upstream:
  folder_id: ${TEST_FOLDER_ID}
  timeout: 5
limits:
  max_users: 7
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "b1g-folder", cfg.Upstream.FolderID)
	assert.Equal(t, 7, cfg.Limits.MaxUsers)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout())
	// untouched sections keep their defaults
	assert.Equal(t, int64(500), cfg.Limits.TTS)
	assert.Equal(t, "zahar", cfg.Defaults.Voice)
	assert.Equal(t, BackendFile, cfg.Credential.Backend)
}

func TestLoad_WritesDefaultFileWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := Load(path)
	// the default config has no folder id
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Upstream.FolderID = "folder"
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults with folder", func(c *Config) {}, true},
		{"zero tts ceiling", func(c *Config) { c.Limits.TTS = 0 }, false},
		{"negative max users", func(c *Config) { c.Limits.MaxUsers = -1 }, false},
		{"zero max users", func(c *Config) { c.Limits.MaxUsers = 0 }, true},
		{"bad speed range", func(c *Config) { c.Limits.MinSpeed = 4 }, false},
		{"redis without addr", func(c *Config) { c.Credential.Backend = BackendRedis }, false},
		{"redis with addr", func(c *Config) {
			c.Credential.Backend = BackendRedis
			c.Credential.RedisAddr = "localhost:6379"
		}, true},
		{"unknown backend", func(c *Config) { c.Credential.Backend = "vault" }, false},
		{"missing folder", func(c *Config) { c.Upstream.FolderID = "" }, false},
		{"zero timeout", func(c *Config) { c.Upstream.Timeout = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsAdmin(t *testing.T) {
	c := DefaultConfig()
	c.Admin.UserIDs = []int64{6303315695}

	assert.True(t, c.IsAdmin(6303315695))
	assert.False(t, c.IsAdmin(1))
}
