// Package config loads brain configuration from YAML with environment
// overrides. Defaults are always valid: a missing config file yields a
// fully usable default configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all brain configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir is the root for per-brain SQLite files and logs.
	DataDir string `yaml:"data_dir"`

	// LLM and embedding adapters
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Redis cache + queue
	Redis RedisConfig `yaml:"redis"`

	// Task runtime
	Worker WorkerConfig `yaml:"worker"`

	// Agent pipeline tuning
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Post-batch consolidation
	Consolidation ConsolidationConfig `yaml:"consolidation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "brain",
		Version: "1.0.0",
		DataDir: "data",

		LLM:           DefaultLLMConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		Redis:         DefaultRedisConfig(),
		Worker:        DefaultWorkerConfig(),
		Ingestion:     DefaultIngestionConfig(),
		Consolidation: DefaultConsolidationConfig(),

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, layering it over defaults and then
// applying environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// ConfigPath returns the config file location: $BRAIN_CONFIG if set,
// otherwise brain.yaml in the working directory.
func ConfigPath() string {
	if p := os.Getenv("BRAIN_CONFIG"); p != "" {
		return p
	}
	return "brain.yaml"
}

// applyEnvOverrides layers environment variables over the loaded values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRAIN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BRAIN_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("BRAIN_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = v
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("BRAIN_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("BRAIN_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
	}
}

// LogsDir returns the directory for category log files.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

// parseDuration parses a duration string, falling back to def on empty or
// malformed input.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
