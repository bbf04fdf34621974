package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "brain", cfg.Name)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 3072, cfg.Embedding.Dimensions)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 50, cfg.Worker.MaxTasksPerChild)
	assert.True(t, cfg.Consolidation.Enabled)
	assert.Equal(t, 20, cfg.Consolidation.BatchSize)
	assert.InDelta(t, 0.35, cfg.Consolidation.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.90, cfg.Ingestion.EdgeDedupeThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Ingestion.ArchitectMaxIterations)
	assert.Equal(t, 25, cfg.Ingestion.HistoryLimit)
	assert.Equal(t, 8, cfg.Ingestion.HistoryDrop)
	assert.Equal(t, 100, cfg.Ingestion.ToolRecursionCap)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Model, cfg.LLM.Model)
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.yaml")
	yaml := `
data_dir: /tmp/brains
llm:
  model: gemini-2.5-pro
consolidation:
  enabled: false
  batch_size: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/brains", cfg.DataDir)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.False(t, cfg.Consolidation.Enabled)
	assert.Equal(t, 5, cfg.Consolidation.BatchSize)
	// Untouched sections keep defaults.
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BRAIN_DATA_DIR", "/srv/brain")
	t.Setenv("BRAIN_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/brain", cfg.DataDir)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, "test-key", cfg.Embedding.APIKey)
}

func TestEnvDoesNotClobberExplicitKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: from-file\n"), 0644))
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	// The embedding key was unset in the file, so the env fills it.
	assert.Equal(t, "from-env", cfg.Embedding.APIKey)
}

func TestDurationAccessors(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 120*time.Second, cfg.LLM.TimeoutDuration())
	assert.Equal(t, 7*24*time.Hour, cfg.Worker.TaskRetentionDuration())

	cfg.Worker.AgentTimeout = "bogus"
	assert.Equal(t, 120*time.Second, cfg.Worker.AgentTimeoutDuration())
}

func TestConfigPathEnv(t *testing.T) {
	t.Setenv("BRAIN_CONFIG", "/etc/brain/brain.yaml")
	assert.Equal(t, "/etc/brain/brain.yaml", ConfigPath())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "brain.yaml")
	cfg := DefaultConfig()
	cfg.DataDir = "/var/brain"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/brain", loaded.DataDir)
}
