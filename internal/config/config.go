// Package config defines the engine configuration, loaded from YAML with
// defaults applied for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClipboardConfig tunes the clipboard monitor.
type ClipboardConfig struct {
	// PollInterval is how often the clipboard is compared for changes.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Freshness is the window within which a clipboard change still
	// counts as fresh user content.
	Freshness time.Duration `yaml:"freshness"`
}

// HistoryConfig tunes the bounded context history.
type HistoryConfig struct {
	Capacity            int           `yaml:"capacity"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	ImportMaxAge        time.Duration `yaml:"import_max_age"`
}

// RetrievalConfig tunes the orchestration core.
type RetrievalConfig struct {
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	TopK           int           `yaml:"top_k"`
}

// MemoryConfig tunes the tier store and its persistence.
type MemoryConfig struct {
	// DatabasePath is the SQLite file holding the long-term tier.
	// Empty means in-memory only (nothing survives restarts).
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Config is the root engine configuration.
type Config struct {
	Workspace          string          `yaml:"workspace"`
	Clipboard          ClipboardConfig `yaml:"clipboard"`
	History            HistoryConfig   `yaml:"history"`
	Retrieval          RetrievalConfig `yaml:"retrieval"`
	Memory             MemoryConfig    `yaml:"memory"`
	AppRefreshInterval time.Duration   `yaml:"app_refresh_interval"`
	Logging            LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Workspace: ".",
		Clipboard: ClipboardConfig{
			PollInterval: time.Second,
			Freshness:    30 * time.Second,
		},
		History: HistoryConfig{
			Capacity:            5,
			SimilarityThreshold: 0.8,
			ImportMaxAge:        24 * time.Hour,
		},
		Retrieval: RetrievalConfig{
			CacheTTL:       2 * time.Second,
			DebounceWindow: 500 * time.Millisecond,
			TopK:           5,
		},
		AppRefreshInterval: 5 * time.Second,
		Logging:            LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, filling defaults for anything unset.
// A missing file yields the defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.clamp()
	return cfg, nil
}

// WithDefaults returns c with zero and out-of-range fields replaced by
// defaults. For embedders that construct a Config directly rather than
// through Load.
func (c Config) WithDefaults() Config {
	c.clamp()
	return c
}

// clamp pulls out-of-range values back to defaults.
func (c *Config) clamp() {
	d := Default()
	if c.Workspace == "" {
		c.Workspace = d.Workspace
	}
	if c.Clipboard.PollInterval <= 0 {
		c.Clipboard.PollInterval = d.Clipboard.PollInterval
	}
	if c.Clipboard.Freshness <= 0 {
		c.Clipboard.Freshness = d.Clipboard.Freshness
	}
	if c.History.Capacity <= 0 {
		c.History.Capacity = d.History.Capacity
	}
	if c.History.SimilarityThreshold <= 0 || c.History.SimilarityThreshold > 1 {
		c.History.SimilarityThreshold = d.History.SimilarityThreshold
	}
	if c.History.ImportMaxAge <= 0 {
		c.History.ImportMaxAge = d.History.ImportMaxAge
	}
	if c.Retrieval.CacheTTL <= 0 {
		c.Retrieval.CacheTTL = d.Retrieval.CacheTTL
	}
	if c.Retrieval.DebounceWindow <= 0 {
		c.Retrieval.DebounceWindow = d.Retrieval.DebounceWindow
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = d.Retrieval.TopK
	}
	if c.AppRefreshInterval <= 0 {
		c.AppRefreshInterval = d.AppRefreshInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}
