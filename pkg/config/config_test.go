package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicacher/nicacher/pkg/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nicacher.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, "https://cache.nixos.org/", cfg.Upstreams[0].URL.String())
	assert.Equal(t, 40, cfg.Upstreams[0].Priority)
	assert.Equal(t, config.DefaultChannelURL, cfg.ChannelURL)
	assert.Equal(t, []string{"nixpkgs-unstable"}, cfg.Channels)
	assert.Equal(t, config.DefaultLocalDataPath, cfg.LocalDataPath)
	assert.Equal(t, config.DefaultDatabaseMaxConnections, cfg.DatabaseMaxConnections)
}

func TestLoadAppliesPartialDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `local_data_path = "/var/lib/nicacher"`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/nicacher", cfg.LocalDataPath)
	assert.Equal(t, config.DefaultChannelURL, cfg.ChannelURL)
	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, "https://cache.nixos.org/", cfg.Upstreams[0].URL.String())
}

func TestLoadUpstreamsStringOrMapUnion(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
upstreams = [
  "https://cache.nixos.org/",
  { url = "https://mirror.example/", priority = 10 },
]
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Upstreams, 2)

	// SortUpstreams orders by priority, so the explicit priority-10 mirror
	// sorts ahead of the default-priority cache.nixos.org entry.
	assert.Equal(t, "https://mirror.example/", cfg.Upstreams[0].URL.String())
	assert.Equal(t, 10, cfg.Upstreams[0].Priority)
	assert.Equal(t, "https://cache.nixos.org/", cfg.Upstreams[1].URL.String())
	assert.Equal(t, 40, cfg.Upstreams[1].Priority)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `bogus_key = "oops"`)

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_key")
}

func TestLoadRejectsBadUpstreamEntry(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `upstreams = [42]`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadChannelsAndMaxConnections(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
channel_url = "https://channels.example/"
channels = ["nixos-24.05", "nixpkgs-unstable"]
database_max_connections = 4
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://channels.example/", cfg.ChannelURL)
	assert.Equal(t, []string{"nixos-24.05", "nixpkgs-unstable"}, cfg.Channels)
	assert.Equal(t, 4, cfg.DatabaseMaxConnections)
}
