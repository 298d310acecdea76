package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Dyastin-0/swapbytes/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// loadCommand runs args through the root flags and returns the config the
// root action would start with.
func loadCommand(t *testing.T, args ...string) *config.Config {
	t.Helper()

	var got *config.Config
	c := &cli.Command{
		Name:  "swapbytes",
		Flags: defaultFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var err error
			got, err = loadConfig(cmd, configPath(cmd))
			return err
		},
	}
	require.NoError(t, c.Run(t.Context(), append([]string{"swapbytes"}, args...)))
	return got
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	t.Setenv("SWAPBYTES_CONFIG", "")
	t.Setenv("HOME", t.TempDir())

	got := loadCommand(t, "-n", "alice", "--addr", ":5000", "-d", "/tmp/share", "--level", "debug", "--no-compress")

	def := config.Default()
	assert.Equal(t, "alice", got.Nickname)
	assert.Equal(t, ":5000", got.Network.ListenAddr)
	assert.Equal(t, def.Network.GroupAddr, got.Network.GroupAddr, "unset flags keep the defaults")
	assert.Equal(t, "/tmp/share", got.Paths.Shared)
	assert.Equal(t, def.Paths.Downloads, got.Paths.Downloads)
	assert.Equal(t, "debug", got.Log.Level)
	assert.False(t, got.Transfer.Compress)
}

func TestInitWritesConfig(t *testing.T) {
	t.Setenv("SWAPBYTES_CONFIG", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := New().Run(t.Context(), []string{"swapbytes", "init", "-c", path, "-n", "bob", "-o", "/tmp/in"})
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Nickname)
	assert.Equal(t, "/tmp/in", cfg.Paths.Downloads)
	assert.True(t, cfg.Transfer.Compress)
}

func TestInitRejectsInvalidConfig(t *testing.T) {
	t.Setenv("SWAPBYTES_CONFIG", "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	err := New().Run(t.Context(), []string{"swapbytes", "init", "-c", path, "-b", "not-an-addr"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.NoFileExists(t, path)
}

func TestInitThenRunReadsDefaultConfig(t *testing.T) {
	t.Setenv("SWAPBYTES_CONFIG", "")
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Empty(t, loadCommand(t).Nickname, "no config file yet")

	require.NoError(t, New().Run(t.Context(), []string{"swapbytes", "init", "-n", "bob", "-a", ":5001"}))
	assert.FileExists(t, filepath.Join(home, "swapbytes", "config.yaml"))

	cfg := loadCommand(t)
	assert.Equal(t, "bob", cfg.Nickname)
	assert.Equal(t, ":5001", cfg.Network.ListenAddr)

	cfg = loadCommand(t, "-n", "carol")
	assert.Equal(t, "carol", cfg.Nickname, "flags still win over the file")
	assert.Equal(t, ":5001", cfg.Network.ListenAddr)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	t.Setenv("SWAPBYTES_CONFIG", "")

	c := &cli.Command{
		Name:  "swapbytes",
		Flags: defaultFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, err := loadConfig(cmd, configPath(cmd))
			return err
		},
	}
	err := c.Run(t.Context(), []string{"swapbytes", "-c", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}
