package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
providers:
  primary:
    base_url: "http://primary.local"
    api_key: "k1"
  secondary:
    base_url: "http://secondary.local"
    timeout: 3s

breaker:
  threshold: 3

ingestion:
  concurrency: 8
  cycle_budget: 20s

configstore:
  symbols:
    - AAPL
    - MSFT

logging:
  level: "debug"
  format: "text"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://primary.local", cfg.Providers.Primary.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Providers.Primary.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Providers.Secondary.Timeout)
	assert.Equal(t, 3, cfg.Breaker.Threshold)
	assert.Equal(t, 10*time.Minute, cfg.Breaker.MaxResetTimeout)
	assert.Equal(t, 8, cfg.Ingestion.Concurrency)
	assert.Equal(t, 20*time.Second, cfg.Ingestion.CycleBudget)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.ConfigStore.Symbols)
	assert.Equal(t, 0.6, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 1024, cfg.Stream.BufferSize)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SENTIMENT_HTTP_ADDR", ":9999")
	t.Setenv("SENTIMENT_BREAKER_THRESHOLD", "7")
	t.Setenv("SENTIMENT_STORAGE_BACKEND", "postgres")
	t.Setenv("SENTIMENT_STORAGE_POSTGRES_DSN", "postgres://localhost/sentiment")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Breaker.Threshold)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Window)
	assert.Equal(t, 4, cfg.Ingestion.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Ingestion.CycleBudget)
	assert.Equal(t, 5*time.Second, cfg.Ingestion.CommitGrace)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 168*time.Hour, cfg.Cache.Retention)

	// base urls and symbols have no defaults
	assert.Error(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing primary url", func(c *Config) { c.Providers.Primary.BaseURL = "" }},
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"max timeout below base", func(c *Config) { c.Breaker.MaxResetTimeout = time.Second }},
		{"similarity above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 }},
		{"inverted watermarks", func(c *Config) { c.Telemetry.LowWater = 0.5 }},
		{"zero concurrency", func(c *Config) { c.Ingestion.Concurrency = 0 }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "mysql" }},
		{"sqlite without path", func(c *Config) {
			c.ConfigStore.Backend = "sqlite"
			c.ConfigStore.SQLitePath = ""
		}},
		{"kafka without brokers", func(c *Config) { c.Alert.Backend = "kafka" }},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
