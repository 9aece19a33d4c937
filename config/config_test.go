package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"colreduce/columnar"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, columnar.DefaultPartitionSize, cfg.Engine.PartitionSize)
	assert.Equal(t, "memory", cfg.Catalog.Backend)
	assert.Equal(t, columnar.CompressionSnappy, cfg.Compression())
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colreduce.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  partition_size: 1024
  parallelism: 2
catalog:
  backend: pebble
  compression: zstd
  cache_ttl: 30s
`), 0644))
	t.Setenv("COLREDUCE_LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Engine.PartitionSize)
	assert.Equal(t, 2, cfg.Engine.Parallelism)
	assert.Equal(t, "pebble", cfg.Catalog.Backend)
	assert.Equal(t, columnar.CompressionZstd, cfg.Compression())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "colreduce-data", cfg.Catalog.Path)
	assert.Equal(t, 256, cfg.Catalog.CacheMB)
	assert.Equal(t, 30*time.Second, cfg.Catalog.CacheTTL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog:\n  backend: cassandra\n"), 0644))
	_, err := LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	for name, body := range map[string]string{
		"level":       "catalog:\n  compression: zstd\n  level: 12\n",
		"compression": "catalog:\n  compression: lz4\n",
		"cache":       "catalog:\n  cache_mb: -1\n",
		"entries":     "catalog:\n  cache_entries: -5\n",
		"partition":   "engine:\n  partition_size: 0\n",
	} {
		path := filepath.Join(t.TempDir(), name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		_, err := LoadFile(path)
		assert.Error(t, err, name)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Metrics.Addr = ":9100"

	data, err := Dump(cfg)
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, *cfg, back)

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(cfg, path))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", loaded.Metrics.Addr)
}
