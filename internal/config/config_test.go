package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, time.Hour, cfg.CacheTTL())
	assert.Equal(t, 15*time.Minute, cfg.CacheSweepInterval())
	assert.Equal(t, 30*time.Second, cfg.FallbackFreshnessWindow())
	assert.Equal(t, 1, cfg.Cache.AgeTolerance)
	assert.Equal(t, 5, cfg.Batch.Size)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "guardian", cfg.Name)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
name: guardian
classifier:
  provider: gemini
  model: gemini-2.0-flash
  timeout: 5s
cache:
  max_entries: 500
  ttl: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Classifier.Provider)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 5*time.Second, cfg.ClassifierTimeout())
	// Untouched sections keep defaults
	assert.Equal(t, 5, cfg.Batch.Size)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_API_KEY", "test-key")
	t.Setenv("GUARDIAN_CLASSIFIER_PROVIDER", "http")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Classifier.APIKey)
	assert.Equal(t, "http", cfg.Classifier.Provider)
}

func TestBadDurationFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Cache.TTL = "not-a-duration"
	assert.Equal(t, time.Hour, cfg.CacheTTL())
}
