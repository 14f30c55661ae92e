// Package config models orchard.yml, the workspace configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models orchard.yml.
type Config struct {
	Storage struct {
		// Timeout bounds every durable-store call. A timed-out write is
		// surfaced as a retryable unknown-outcome error, never as success.
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"storage"`
	Cache struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
		// TTL bounds every cache entry. The cache is a read accelerator,
		// not a store of record.
		TTL     time.Duration `yaml:"ttl"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"cache"`
	Batch struct {
		Concurrency int           `yaml:"concurrency"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"batch"`
	Graph struct {
		// AllowCrossGoalDeps permits task dependencies that reach into
		// another goal. Off by default; cascade-delete and acyclicity
		// checks widen accordingly when enabled.
		AllowCrossGoalDeps bool `yaml:"allow_cross_goal_deps"`
	} `yaml:"graph"`
}

const maxCacheTTL = time.Hour

// Default returns the default configuration.
func Default() *Config {
	var cfg Config
	cfg.Storage.Timeout = 5 * time.Second
	cfg.Cache.Enabled = false
	cfg.Cache.Addr = "localhost:6379"
	cfg.Cache.TTL = 5 * time.Minute
	cfg.Cache.Timeout = 250 * time.Millisecond
	cfg.Batch.Concurrency = 8
	cfg.Batch.Timeout = 30 * time.Second
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("config.storage.timeout must be positive")
	}
	if c.Cache.Enabled {
		if c.Cache.Addr == "" {
			return fmt.Errorf("config.cache.addr is required when cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("config.cache.ttl must be positive")
		}
		if c.Cache.TTL > maxCacheTTL {
			return fmt.Errorf("config.cache.ttl must not exceed %s", maxCacheTTL)
		}
		if c.Cache.Timeout <= 0 {
			return fmt.Errorf("config.cache.timeout must be positive")
		}
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("config.batch.concurrency must be positive")
	}
	if c.Batch.Timeout <= 0 {
		return fmt.Errorf("config.batch.timeout must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "orchard.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
