package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.Storage.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 8, cfg.Batch.Concurrency)
	assert.False(t, cfg.Graph.AllowCrossGoalDeps)
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
storage:
  timeout: 2s
cache:
  enabled: true
  addr: redis:6379
  ttl: 10m
  timeout: 100ms
batch:
  concurrency: 4
graph:
  allow_cross_goal_deps: true
`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Storage.Timeout)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Batch.Timeout, "omitted fields keep defaults")
	assert.True(t, cfg.Graph.AllowCrossGoalDeps)
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	_, err := FromYAML([]byte("storage:\n  timeout: -1s\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("cache:\n  enabled: true\n  addr: \"\"\n"))
	assert.Error(t, err)

	// TTL is capped: the cache is advisory and entries must expire.
	_, err = FromYAML([]byte("cache:\n  enabled: true\n  addr: x\n  ttl: 48h\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("batch:\n  concurrency: 0\n"))
	assert.Error(t, err)

	_, err = FromYAML([]byte("not: [valid"))
	assert.Error(t, err)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("ws", "orchard.yml"), Path("ws"))
	assert.Equal(t, filepath.Join(".", "orchard.yml"), Path(""))
}
