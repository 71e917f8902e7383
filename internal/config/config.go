// Package config loads pipeline configuration from a YAML file and
// SENTIMENT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SENTIMENT_HTTP_ADDR.
const EnvPrefix = "SENTIMENT"

// Config represents the complete application configuration
type Config struct {
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Storage     StorageConfig     `mapstructure:"storage"`
	ConfigStore ConfigStoreConfig `mapstructure:"configstore"`
	Alert       AlertConfig       `mapstructure:"alert"`
	Cache       CacheConfig       `mapstructure:"cache"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ProvidersConfig holds both provider endpoints.
type ProvidersConfig struct {
	Primary   ProviderConfig `mapstructure:"primary"`
	Secondary ProviderConfig `mapstructure:"secondary"`
}

// ProviderConfig holds one provider's HTTP settings.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"` // 0 disables limiting
	Burst         int           `mapstructure:"burst"`
}

// BreakerConfig holds circuit breaker settings shared by both providers.
type BreakerConfig struct {
	Threshold       int           `mapstructure:"threshold"`
	Window          time.Duration `mapstructure:"window"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout"`
	MaxResetTimeout time.Duration `mapstructure:"max_reset_timeout"`
}

// DedupConfig holds collision detection settings.
type DedupConfig struct {
	CollisionWindow     time.Duration `mapstructure:"collision_window"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
}

// TelemetryConfig holds collision rate anomaly thresholds.
type TelemetryConfig struct {
	HighWater   float64 `mapstructure:"high_water"`
	LowWater    float64 `mapstructure:"low_water"`
	HighCycles  int     `mapstructure:"high_cycles"`
	LowCycles   int     `mapstructure:"low_cycles"`
	HistorySize int     `mapstructure:"history_size"`
}

// IngestionConfig holds scheduler settings.
type IngestionConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Concurrency     int           `mapstructure:"concurrency"`
	CycleBudget     time.Duration `mapstructure:"cycle_budget"`
	SentimentWindow time.Duration `mapstructure:"sentiment_window"`
	OHLCRange       time.Duration `mapstructure:"ohlc_range"`
	WriteRetries    int           `mapstructure:"write_retries"`
	CommitGrace     time.Duration `mapstructure:"commit_grace"`
}

// StreamConfig holds push-stream settings.
type StreamConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ClientBuffer      int           `mapstructure:"client_buffer"`
}

// StorageConfig holds persistence backends.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"` // memory | postgres
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"` // optional; candles stay in memory when empty
}

// ConfigStoreConfig selects the tracked symbol source.
type ConfigStoreConfig struct {
	Backend    string   `mapstructure:"backend"` // static | sqlite
	SQLitePath string   `mapstructure:"sqlite_path"`
	Symbols    []string `mapstructure:"symbols"`
}

// AlertConfig selects the alert sink.
type AlertConfig struct {
	Backend   string   `mapstructure:"backend"` // log | kafka
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	QueueSize int      `mapstructure:"queue_size"`
}

// CacheConfig selects the last-known OHLC cache.
type CacheConfig struct {
	Backend   string        `mapstructure:"backend"` // memory | redis
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
	Retention time.Duration `mapstructure:"retention"`
}

// HTTPConfig holds the API listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path (optional) and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	for _, p := range []string{"primary", "secondary"} {
		v.SetDefault("providers."+p+".base_url", "")
		v.SetDefault("providers."+p+".api_key", "")
		v.SetDefault("providers."+p+".timeout", "10s")
		v.SetDefault("providers."+p+".rate_per_second", 5.0)
		v.SetDefault("providers."+p+".burst", 5)
	}

	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.reset_timeout", "60s")
	v.SetDefault("breaker.max_reset_timeout", "10m")

	v.SetDefault("dedup.collision_window", "5m")
	v.SetDefault("dedup.similarity_threshold", 0.6)

	v.SetDefault("telemetry.high_water", 0.40)
	v.SetDefault("telemetry.low_water", 0.05)
	v.SetDefault("telemetry.high_cycles", 3)
	v.SetDefault("telemetry.low_cycles", 6)
	v.SetDefault("telemetry.history_size", 512)

	v.SetDefault("ingestion.interval", "60s")
	v.SetDefault("ingestion.concurrency", 4)
	v.SetDefault("ingestion.cycle_budget", "30s")
	v.SetDefault("ingestion.sentiment_window", "1h")
	v.SetDefault("ingestion.ohlc_range", "720h")
	v.SetDefault("ingestion.write_retries", 3)
	v.SetDefault("ingestion.commit_grace", "5s")

	v.SetDefault("stream.buffer_size", 1024)
	v.SetDefault("stream.heartbeat_interval", "15s")
	v.SetDefault("stream.client_buffer", 256)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("configstore.backend", "static")
	v.SetDefault("configstore.sqlite_path", "./data/config.db")
	v.SetDefault("configstore.symbols", []string{})

	v.SetDefault("alert.backend", "log")
	v.SetDefault("alert.brokers", []string{})
	v.SetDefault("alert.topic", "sentiment-events")
	v.SetDefault("alert.queue_size", 1024)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.retention", "168h")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	for name, p := range map[string]ProviderConfig{
		"primary":   c.Providers.Primary,
		"secondary": c.Providers.Secondary,
	} {
		if p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("providers.%s.timeout must be positive", name)
		}
		if p.RatePerSecond < 0 {
			return fmt.Errorf("providers.%s.rate_per_second must not be negative", name)
		}
	}

	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker.threshold must be at least 1")
	}
	if c.Breaker.Window <= 0 || c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.window and breaker.reset_timeout must be positive")
	}
	if c.Breaker.MaxResetTimeout < c.Breaker.ResetTimeout {
		return fmt.Errorf("breaker.max_reset_timeout must be at least breaker.reset_timeout")
	}

	if c.Dedup.CollisionWindow <= 0 {
		return fmt.Errorf("dedup.collision_window must be positive")
	}
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1]")
	}

	if c.Telemetry.LowWater < 0 || c.Telemetry.HighWater > 1 || c.Telemetry.LowWater >= c.Telemetry.HighWater {
		return fmt.Errorf("telemetry watermarks must satisfy 0 <= low_water < high_water <= 1")
	}
	if c.Telemetry.HighCycles < 1 || c.Telemetry.LowCycles < 1 {
		return fmt.Errorf("telemetry.high_cycles and telemetry.low_cycles must be at least 1")
	}

	if c.Ingestion.Interval <= 0 {
		return fmt.Errorf("ingestion.interval must be positive")
	}
	if c.Ingestion.Concurrency < 1 {
		return fmt.Errorf("ingestion.concurrency must be at least 1")
	}
	if c.Ingestion.CycleBudget <= 0 {
		return fmt.Errorf("ingestion.cycle_budget must be positive")
	}
	if c.Ingestion.SentimentWindow <= 0 || c.Ingestion.OHLCRange <= 0 {
		return fmt.Errorf("ingestion.sentiment_window and ingestion.ohlc_range must be positive")
	}
	if c.Ingestion.WriteRetries < 0 {
		return fmt.Errorf("ingestion.write_retries must not be negative")
	}

	if c.Stream.BufferSize < 1 || c.Stream.ClientBuffer < 1 {
		return fmt.Errorf("stream.buffer_size and stream.client_buffer must be at least 1")
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeat_interval must be positive")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: memory, postgres")
	}

	switch c.ConfigStore.Backend {
	case "static":
		if len(c.ConfigStore.Symbols) == 0 {
			return fmt.Errorf("configstore.symbols must contain at least one symbol")
		}
	case "sqlite":
		if c.ConfigStore.SQLitePath == "" {
			return fmt.Errorf("configstore.sqlite_path is required when configstore.backend is sqlite")
		}
	default:
		return fmt.Errorf("configstore.backend must be one of: static, sqlite")
	}

	switch c.Alert.Backend {
	case "log":
	case "kafka":
		if len(c.Alert.Brokers) == 0 || c.Alert.Topic == "" {
			return fmt.Errorf("alert.brokers and alert.topic are required when alert.backend is kafka")
		}
	default:
		return fmt.Errorf("alert.backend must be one of: log, kafka")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
