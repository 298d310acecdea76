package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":4270", cfg.Network.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Network.AnnounceInterval)
	assert.Equal(t, 32*1024, cfg.Transfer.ChunkSize)
	assert.True(t, cfg.Transfer.Compress)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swapbytes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nickname: alice
network:
  listen_addr: 127.0.0.1:5000
  announce_interval: 500ms
paths:
  shared: ~/pub
transfer:
  compress: false
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Nickname)
	assert.Equal(t, "127.0.0.1:5000", cfg.Network.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.AnnounceInterval)
	assert.False(t, cfg.Transfer.Compress)
	assert.Equal(t, "239.255.42.99:42069", cfg.Network.GroupAddr, "untouched keys keep defaults")

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pub"), cfg.Paths.Shared)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("network: [oops"), 0644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "swapbytes.yaml")
	cfg := Default()
	cfg.Nickname = "bob"

	require.NoError(t, cfg.Write(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "listen addr", mutate: func(c *Config) { c.Network.ListenAddr = "nope" }},
		{name: "unicast group", mutate: func(c *Config) { c.Network.GroupAddr = "10.0.0.1:42069" }},
		{name: "timeout below interval", mutate: func(c *Config) { c.Network.PeerTimeout = time.Second }},
		{name: "queue", mutate: func(c *Config) { c.Network.OutboundQueue = 0 }},
		{name: "shared", mutate: func(c *Config) { c.Paths.Shared = "" }},
		{name: "chunk size", mutate: func(c *Config) { c.Transfer.ChunkSize = 8 * 1024 * 1024 }},
		{name: "window", mutate: func(c *Config) { c.Transfer.ReorderWindow = -1 }},
		{name: "nickname", mutate: func(c *Config) { c.Nickname = "two words" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
