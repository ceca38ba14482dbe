package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.SpawnTimeout)
	require.Equal(t, 5*time.Second, cfg.SweepInterval)
	require.Equal(t, ":8080", cfg.HttpListenAddr)
	require.Equal(t, "gnome-builder-builds", cfg.FlatpakRepoName)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.EtcdEndpoints)
	require.NotEmpty(t, cfg.CacheDir)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ide-worker.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
spawn_timeout: 10s
etcd_endpoints:
  - 127.0.0.1:2379
log_level: debug
cache_dir: /var/cache/ide
`), 0o644))

	t.Setenv("IDEWORKER_LOG_LEVEL", "warn")
	t.Setenv("IDEWORKER_CALL_TIMEOUT", "2s")

	cfg, err := Load(file)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.SpawnTimeout)
	require.Equal(t, 2*time.Second, cfg.CallTimeout)
	require.Equal(t, []string{"127.0.0.1:2379"}, cfg.EtcdEndpoints)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "/var/cache/ide", cfg.CacheDir)
}

func TestLoadSplitsEndpointList(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDEWORKER_ETCD_ENDPOINTS", "a:2379, b:2379")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"a:2379", "b:2379"}, cfg.EtcdEndpoints)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDEWORKER_LOG_LEVEL", "chatty")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
