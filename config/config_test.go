package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, cfg.Backend)
	assert.Greater(t, cfg.Workers, 0)
	assert.Equal(t, 0, cfg.RecursionLimit)
}

func TestLoad_YAMLFileIsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: bbolt\nstore_path: /tmp/voxlogica.db\nworkers: 4\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBbolt, cfg.Backend)
	assert.Equal(t, "/tmp/voxlogica.db", cfg.StorePath)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoad_EnvOverridesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 4\nrecursion_limit: 100\n"), 0o644))

	t.Setenv("CORE_WORKERS", "9")
	t.Setenv("CORE_RECURSION_LIMIT", "2048")
	t.Setenv("CORE_STORE_PATH", filepath.Join(dir, "store.db"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, 2048, cfg.RecursionLimit)
	assert.Equal(t, filepath.Join(dir, "store.db"), cfg.StorePath)
	// CORE_STORE_PATH being set implies a durable backend when the file
	// didn't already pick one.
	assert.Equal(t, BackendBbolt, cfg.Backend)
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, BackendNone, cfg.Backend)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: carrier-pigeon\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveWorkers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
