package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credb.yaml")
	yamlBody := "data_dir: /var/lib/credb\nshards: 32\npeers:\n  - id: replica-a\n    address: 10.0.0.2:5043\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/credb", cfg.DataDir)
	assert.EqualValues(t, 32, cfg.Shards)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "replica-a", cfg.Peers[0].ID)
	assert.Equal(t, ":5042", cfg.ClientAddr) // untouched default
}

func TestApplyEnvOverridesDataDir(t *testing.T) {
	t.Setenv("CREDB_DATA_DIR", "/tmp/override")
	cfg := ApplyEnv(Default())
	assert.Equal(t, "/tmp/override", cfg.DataDir)
}

func TestApplyEnvOverridesBufferBudgetAndUnsafe(t *testing.T) {
	t.Setenv("CREDB_BUFFER_BUDGET_BYTES", "1048576")
	t.Setenv("CREDB_UNSAFE", "true")
	cfg := ApplyEnv(Default())
	assert.EqualValues(t, 1048576, cfg.BufferBudgetBytes)
	assert.True(t, cfg.Unsafe)
}

func TestLoadParsesBufferBudgetAndUnsafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credb.yaml")
	yamlBody := "buffer_budget_bytes: 2048\nunsafe: true\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 2048, cfg.BufferBudgetBytes)
	assert.True(t, cfg.Unsafe)
}
