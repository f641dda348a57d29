// Package config loads client configuration from a YAML file with
// environment variable overrides. Precedence: defaults, then the file, then
// the environment.
package config

import (
	"fmt"
	"time"
)

// Config is the full client configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" env:"ANTHROPIC"`
	Query     QueryConfig     `yaml:"query" env:"QUERY"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
}

// AnthropicConfig configures the Anthropic transport.
type AnthropicConfig struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Version           string        `yaml:"version" env:"VERSION"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// QueryConfig carries the default per-call options.
type QueryConfig struct {
	Model           string        `yaml:"model" env:"MODEL"`
	TurnLimit       int           `yaml:"turn_limit" env:"TURN_LIMIT"`
	MaxOutputTokens int           `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
	MaxInputTokens  int           `yaml:"max_input_tokens" env:"MAX_INPUT_TOKENS"`
	Temperature     float64       `yaml:"temperature" env:"TEMPERATURE"`
	PermissionMode  string        `yaml:"permission_mode" env:"PERMISSION_MODE"`
	Timeout         time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig configures the result cache tiers.
type CacheConfig struct {
	EnableLocal  bool          `yaml:"enable_local" env:"ENABLE_LOCAL"`
	LocalMaxSize int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
	EnableRedis  bool          `yaml:"enable_redis" env:"ENABLE_REDIS"`
	RedisAddr    string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB      int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisTTL     time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// StoreConfig configures the audit store.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			BaseURL: "https://api.anthropic.com",
			Version: "2023-06-01",
			Timeout: 60 * time.Second,
		},
		Query: QueryConfig{
			Model:           "claude-sonnet-4-20250514",
			TurnLimit:       1,
			MaxOutputTokens: 4096,
			PermissionMode:  "strict",
		},
		Cache: CacheConfig{
			EnableLocal:  true,
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			RedisAddr:    "localhost:6379",
			RedisTTL:     time.Hour,
		},
		Store: StoreConfig{
			Path: "structquery.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Query.TurnLimit <= 0 {
		return fmt.Errorf("query.turn_limit must be positive, got %d", c.Query.TurnLimit)
	}
	if c.Query.MaxOutputTokens <= 0 {
		return fmt.Errorf("query.max_output_tokens must be positive, got %d", c.Query.MaxOutputTokens)
	}
	if c.Query.Temperature < 0 || c.Query.Temperature > 2 {
		return fmt.Errorf("query.temperature must be in [0, 2], got %g", c.Query.Temperature)
	}
	switch c.Query.PermissionMode {
	case "strict", "bypass":
	default:
		return fmt.Errorf("query.permission_mode must be strict or bypass, got %q", c.Query.PermissionMode)
	}
	if c.Cache.EnableRedis && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when the redis tier is enabled")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the audit store is enabled")
	}
	return nil
}
