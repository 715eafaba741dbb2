// Package config holds all guardian configuration.
// Configuration is loaded from a YAML file with environment variable
// overrides for secrets (API keys) so they never have to live on disk.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all guardian configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Remote classifier configuration
	Classifier ClassifierConfig `yaml:"classifier"`

	// Result cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Fallback validator configuration
	Fallback FallbackConfig `yaml:"fallback"`

	// Pattern rule set configuration
	Rules RulesConfig `yaml:"rules"`

	// Response templates configuration
	Responses ResponsesConfig `yaml:"responses"`

	// Escalation store configuration
	Storage StorageConfig `yaml:"storage"`

	// Batch validation settings
	Batch BatchConfig `yaml:"batch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ClassifierConfig configures the remote content classifier adapter.
type ClassifierConfig struct {
	Provider string `yaml:"provider"` // http, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// CacheConfig configures the validation result cache.
type CacheConfig struct {
	MaxEntries    int    `yaml:"max_entries"`
	TTL           string `yaml:"ttl"`
	SweepInterval string `yaml:"sweep_interval"`
	AgeTolerance  int    `yaml:"age_tolerance"` // years
}

// FallbackConfig configures fallback behavior when the classifier is down.
type FallbackConfig struct {
	FreshnessWindow string `yaml:"freshness_window"`
}

// RulesConfig configures the pattern rule set provider.
type RulesConfig struct {
	Path        string `yaml:"path"`
	WatchReload bool   `yaml:"watch_reload"`
}

// ResponsesConfig configures the age-banded response template provider.
type ResponsesConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig configures the escalation record store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// BatchConfig configures batch validation.
type BatchConfig struct {
	Size     int  `yaml:"size"`
	Parallel bool `yaml:"parallel"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Name:    "guardian",
		Version: "0.1.0",
		Classifier: ClassifierConfig{
			Provider: "http",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "10s",
		},
		Cache: CacheConfig{
			MaxEntries:    10000,
			TTL:           "1h",
			SweepInterval: "15m",
			AgeTolerance:  1,
		},
		Fallback: FallbackConfig{
			FreshnessWindow: "30s",
		},
		Rules: RulesConfig{
			Path:        "configs/rules.yaml",
			WatchReload: false,
		},
		Responses: ResponsesConfig{
			Path: "configs/responses.yaml",
		},
		Storage: StorageConfig{
			DatabasePath: ".guardian/guardian.db",
		},
		Batch: BatchConfig{
			Size:     5,
			Parallel: true,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for
// anything unset and environment overrides last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file: defaults + env overrides
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
// Secrets should come from the environment, not the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GUARDIAN_API_KEY"); v != "" {
		c.Classifier.APIKey = v
	}
	if v := os.Getenv("GUARDIAN_CLASSIFIER_PROVIDER"); v != "" {
		c.Classifier.Provider = v
	}
	if v := os.Getenv("GUARDIAN_CLASSIFIER_MODEL"); v != "" {
		c.Classifier.Model = v
	}
	if v := os.Getenv("GUARDIAN_CLASSIFIER_BASE_URL"); v != "" {
		c.Classifier.BaseURL = v
	}
	if v := os.Getenv("GUARDIAN_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
}

// ClassifierTimeout parses the classifier timeout, defaulting to 10s.
func (c *Config) ClassifierTimeout() time.Duration {
	return parseDuration(c.Classifier.Timeout, 10*time.Second)
}

// CacheTTL parses the cache TTL, defaulting to 1h.
func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Cache.TTL, time.Hour)
}

// CacheSweepInterval parses the sweep interval, defaulting to 15m.
func (c *Config) CacheSweepInterval() time.Duration {
	return parseDuration(c.Cache.SweepInterval, 15*time.Minute)
}

// FallbackFreshnessWindow parses the classifier freshness window, defaulting to 30s.
func (c *Config) FallbackFreshnessWindow() time.Duration {
	return parseDuration(c.Fallback.FreshnessWindow, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
