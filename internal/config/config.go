// Package config loads and validates the changefeed configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the CF_ prefix (e.g., CF_DATABASE_HOST
// overrides database.host in the YAML). A .env file in the working directory is
// loaded into the process environment first when present; variables already set
// in the environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Changelog ChangelogConfig `mapstructure:"changelog"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Summary   SummaryConfig   `mapstructure:"summary"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds process-level settings for the serve command
type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MigrateOnStart applies pending migrations before the jobs start
	MigrateOnStart bool `mapstructure:"migrate_on_start"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Name               string        `mapstructure:"name"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MinIdleConnections int           `mapstructure:"min_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the optional Redis connection used to share GitHub request pacing
// across replicas. When disabled, pacing is process-local.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces the pacing key, e.g. "changefeed:" -> "changefeed:github"
	KeyPrefix string `mapstructure:"key_prefix"`
}

// GitHubConfig holds GitHub API access and rate-limit settings
type GitHubConfig struct {
	Token   string        `mapstructure:"token"`
	APIURL  string        `mapstructure:"api_url"`
	// Timeout bounds a single request attempt. Rate-limit waits and retry backoff are not
	// counted against it.
	Timeout time.Duration `mapstructure:"timeout"`
	// RequireToken fails startup when no token is configured. Unauthenticated access is
	// limited to 60 requests per hour.
	RequireToken bool `mapstructure:"require_token"`

	// RequestsPerMinute paces outgoing requests; 0 disables pacing
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`

	// LowWater is the remaining-request count below which requests wait for the window reset
	LowWater int `mapstructure:"low_water"`
	// MaxWait caps a single rate-limit wait; longer waits proceed without waiting
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// ChangelogConfig controls stub release body resolution
type ChangelogConfig struct {
	// Candidates are the repository paths tried, in order, when a stub body names no file
	Candidates  []string `mapstructure:"candidates"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
}

// SyncConfig controls the release sync job
type SyncConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	PerPage     int           `mapstructure:"per_page"`
	MaxPages    int           `mapstructure:"max_pages"`
	// DisableAfterFailures turns off syncing for a package after this many consecutive
	// failures; 0 never disables
	DisableAfterFailures int `mapstructure:"disable_after_failures"`
}

// SummaryConfig controls cohort summary generation
type SummaryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Window        time.Duration `mapstructure:"window"`
	MaxInputChars int           `mapstructure:"max_input_chars"`
	OpenAI        OpenAIConfig  `mapstructure:"openai"`
}

// OpenAIConfig holds the summarizer endpoint settings. BaseURL may point at any
// OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey    string `mapstructure:"api_key"` // #nosec G117 -- configuration field, not a hardcoded credential
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.shutdown_timeout",
		"server.migrate_on_start",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",
		"database.conn_max_lifetime",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.key_prefix",

		// GitHub
		"github.token",
		"github.api_url",
		"github.timeout",
		"github.require_token",
		"github.requests_per_minute",
		"github.burst",
		"github.low_water",
		"github.max_wait",

		// Changelog
		"changelog.candidates",
		"changelog.max_file_size",

		// Sync
		"sync.enabled",
		"sync.interval",
		"sync.concurrency",
		"sync.per_page",
		"sync.max_pages",
		"sync.disable_after_failures",

		// Summary
		"summary.enabled",
		"summary.interval",
		"summary.window",
		"summary.max_input_chars",
		"summary.openai.api_key",
		"summary.openai.base_url",
		"summary.openai.model",
		"summary.openai.max_tokens",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/changefeed")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("CF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.GitHub.Token = expandEnv(cfg.GitHub.Token)
	cfg.Summary.OpenAI.APIKey = expandEnv(cfg.Summary.OpenAI.APIKey)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv loads path into the process environment without overriding variables that
// are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error loading %s: %w", path, err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.migrate_on_start", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "changefeed")
	v.SetDefault("database.user", "changefeed")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "changefeed:")

	// GitHub defaults
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.timeout", "30s")
	v.SetDefault("github.require_token", true)
	v.SetDefault("github.requests_per_minute", 60)
	v.SetDefault("github.burst", 10)
	v.SetDefault("github.low_water", 5)
	v.SetDefault("github.max_wait", "15m")

	// Changelog defaults
	v.SetDefault("changelog.candidates", []string{"CHANGELOG.md", "CHANGES.md", "HISTORY.md", "changelog.md", "changes.md", "history.md"})
	v.SetDefault("changelog.max_file_size", 1<<20)

	// Sync defaults
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.interval", "15m")
	v.SetDefault("sync.concurrency", 1)
	v.SetDefault("sync.per_page", 100)
	v.SetDefault("sync.max_pages", 10)
	v.SetDefault("sync.disable_after_failures", 10)

	// Summary defaults
	v.SetDefault("summary.enabled", false)
	v.SetDefault("summary.interval", "1h")
	v.SetDefault("summary.window", "168h")
	v.SetDefault("summary.max_input_chars", 24000)
	v.SetDefault("summary.openai.model", "gpt-4o-mini")
	v.SetDefault("summary.openai.max_tokens", 400)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "changefeed")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate Redis if enabled
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when Redis is enabled")
	}

	// Validate GitHub
	if c.GitHub.RequireToken && c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required (set github.require_token=false to run unauthenticated)")
	}
	if c.GitHub.RequestsPerMinute < 0 {
		return fmt.Errorf("github.requests_per_minute must not be negative")
	}
	if c.GitHub.LowWater < 0 {
		return fmt.Errorf("github.low_water must not be negative")
	}

	// Validate sync
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive")
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1")
	}
	if c.Sync.PerPage < 1 || c.Sync.PerPage > 100 {
		return fmt.Errorf("invalid sync.per_page: %d (must be 1-100)", c.Sync.PerPage)
	}
	if c.Sync.DisableAfterFailures < 0 {
		return fmt.Errorf("sync.disable_after_failures must not be negative")
	}

	// Validate summary if enabled
	if c.Summary.Enabled {
		if c.Summary.OpenAI.APIKey == "" && c.Summary.OpenAI.BaseURL == "" {
			return fmt.Errorf("summary.openai.api_key is required when summaries are enabled")
		}
		if c.Summary.Interval <= 0 {
			return fmt.Errorf("summary.interval must be positive")
		}
	}

	// Validate metrics port
	if c.Telemetry.Metrics.Enabled {
		if p := c.Telemetry.Metrics.PrometheusPort; p < 1 || p > 65535 {
			return fmt.Errorf("invalid telemetry.metrics.prometheus_port: %d", p)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// PacingKey returns the Redis key shared by all replicas pacing GitHub requests.
func (c *RedisConfig) PacingKey() string {
	return c.KeyPrefix + "github"
}
