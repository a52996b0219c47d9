package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 1800, cfg.UpdatePollIntervalSeconds)
	require.Equal(t, 28800, cfg.InventoryPollIntervalSeconds)
	require.Equal(t, 300, cfg.RetryPollIntervalSeconds)
	require.Equal(t, 10, cfg.RetryPollCount)
	require.Equal(t, 14400, cfg.ModuleTimeoutSeconds)
	require.True(t, cfg.InventoryOnIdlePoll)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: https://example.test
update_poll_interval_seconds: 60
pause_before_committing: true
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://example.test", cfg.ServerURL)
	require.Equal(t, 60, cfg.UpdatePollIntervalSeconds)
	require.True(t, cfg.PauseBeforeCommitting)
	// untouched fields keep their defaults
	require.Equal(t, 28800, cfg.InventoryPollIntervalSeconds)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`http_proxy: http://configured:8080`), 0600))

	t.Setenv("HTTP_PROXY", "http://env:8080")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://env:8080", cfg.HTTPProxy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
