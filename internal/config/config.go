// Package config loads and validates the agentplane configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AP_ prefix (e.g., AP_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// Secrets (token signing keys, the API-key lookup secret, the database password)
// support ${VAR} expansion so a YAML file checked into a repo can reference
// values injected by infrastructure tooling without ever containing them.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment values recognized in the top-level "environment" key.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Development fallback secrets. These are deliberately fixed, well-known
// values: a developer who starts the server with no secrets configured gets
// tokens that survive restarts, and Validate refuses to let any of them
// anywhere near a production deployment.
const (
	DevAccessTokenSecret  = "agentplane-dev-access-secret-do-not-use-in-prod"
	DevRefreshTokenSecret = "agentplane-dev-refresh-secret-do-not-use-in-prod"
	DevAPIKeyLookupSecret = "agentplane-dev-lookup-secret-do-not-use-in-prod"
)

// minSecretLen is the minimum length for any production secret.
const minSecretLen = 32

// Config holds all application configuration
type Config struct {
	// Environment distinguishes production from development. It gates the
	// fail-fast-on-missing-secret behavior, the Secure cookie flag, and the
	// API-key capability switch.
	Environment string `mapstructure:"environment"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// IsProduction reports whether the process runs in a production-designated
// environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// APIKeyAuthEnabled reports whether API-key authentication may operate. The
// enabled flag is respected everywhere; in production the capability
// additionally requires an explicitly configured lookup secret, so a
// deployment that forgot the secret runs without key auth rather than with a
// guessable default.
func (c *Config) APIKeyAuthEnabled() bool {
	if !c.Auth.APIKeys.Enabled {
		return false
	}
	if !c.IsProduction() {
		return true
	}
	return validateProductionSecret("auth.api_keys.lookup_secret", c.Auth.APIKeys.LookupSecret) == nil
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AuthConfig holds token and API-key authentication configuration
type AuthConfig struct {
	// AccessTokenSecret signs short-lived access tokens. Independent from
	// RefreshTokenSecret so a token of one class never verifies as the other.
	AccessTokenSecret  string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret"`
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl"`

	APIKeys APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig holds API key authentication configuration
type APIKeyConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// LookupSecret must be configured (distinct from the JWT secrets, at
	// least 32 chars) for key-based auth to operate in production. Without
	// it the capability is disabled rather than running with a guessable
	// default.
	LookupSecret string `mapstructure:"lookup_secret"`
}

// RateLimitConfig holds sliding-window rate limiter configuration
type RateLimitConfig struct {
	Window        time.Duration `mapstructure:"window"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BlockDuration time.Duration `mapstructure:"block_duration"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// CacheConfig holds in-process cache configuration
type CacheConfig struct {
	// UserStatusTTL bounds how long a role change or suspension can remain
	// unseen by the auth middleware.
	UserStatusTTL time.Duration `mapstructure:"user_status_ttl"`
}

// RedisConfig holds optional Redis configuration. When Addr is set the rate
// limiter state is kept in Redis so multiple instances share one view;
// otherwise limiter state is in-process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	// KeyExpiryWarningDays is how far ahead the expiring-key scan looks (default 7)
	KeyExpiryWarningDays int `mapstructure:"key_expiry_warning_days"`
	// KeyExpiryCheckIntervalHours determines how often the scan runs (default 24)
	KeyExpiryCheckIntervalHours int `mapstructure:"key_expiry_check_interval_hours"`
}

// AuditConfig holds auth-event trail configuration beyond the database table.
type AuditConfig struct {
	// Export lists external destinations that receive a copy of every
	// recorded auth event. Nested lists cannot be expressed as flat AP_*
	// environment variables, so exports are configured through the YAML
	// file only. Empty means no export.
	Export []AuditExporterConfig `mapstructure:"export"`
}

// AuditExporterConfig configures a single export destination.
type AuditExporterConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type selects the destination kind: "webhook" or "file".
	Type    string              `mapstructure:"type"`
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig configures HTTP delivery of auth events to a collector.
type AuditWebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	// BatchSize above zero batches entries into one request per flush;
	// zero sends each entry individually.
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// AuditFileConfig configures newline-delimited JSON output to a local file.
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"environment",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Auth
		"auth.access_token_secret",
		"auth.refresh_token_secret",
		"auth.access_token_ttl",
		"auth.refresh_token_ttl",
		"auth.api_keys.enabled",
		"auth.api_keys.lookup_secret",

		// Rate limiting
		"rate_limit.window",
		"rate_limit.max_attempts",
		"rate_limit.block_duration",
		"rate_limit.sweep_interval",

		// Cache
		"cache.user_status_ttl",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Jobs
		"jobs.key_expiry_warning_days",
		"jobs.key_expiry_check_interval_hours",
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
		v.AddConfigPath("/etc/agentplane")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("AP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
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
	cfg.Auth.AccessTokenSecret = expandEnv(cfg.Auth.AccessTokenSecret)
	cfg.Auth.RefreshTokenSecret = expandEnv(cfg.Auth.RefreshTokenSecret)
	cfg.Auth.APIKeys.LookupSecret = expandEnv(cfg.Auth.APIKeys.LookupSecret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	applyDevFallbacks(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDevFallbacks fills unset secrets with the fixed development values
// outside production. Validate rejects the same condition in production, so
// the fallback never masks a misconfigured deployment.
func applyDevFallbacks(cfg *Config) {
	if cfg.IsProduction() {
		return
	}
	if cfg.Auth.AccessTokenSecret == "" {
		cfg.Auth.AccessTokenSecret = DevAccessTokenSecret
		slog.Warn("AP_AUTH_ACCESS_TOKEN_SECRET not set, using fixed development secret")
	}
	if cfg.Auth.RefreshTokenSecret == "" {
		cfg.Auth.RefreshTokenSecret = DevRefreshTokenSecret
		slog.Warn("AP_AUTH_REFRESH_TOKEN_SECRET not set, using fixed development secret")
	}
	if cfg.Auth.APIKeys.Enabled && cfg.Auth.APIKeys.LookupSecret == "" {
		cfg.Auth.APIKeys.LookupSecret = DevAPIKeyLookupSecret
		slog.Warn("AP_AUTH_API_KEYS_LOOKUP_SECRET not set, using fixed development secret")
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvDevelopment)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "agentplane")
	v.SetDefault("database.user", "agentplane")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Auth defaults
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.api_keys.enabled", true)

	// Rate limiting defaults
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.max_attempts", 10)
	v.SetDefault("rate_limit.block_duration", "5m")
	v.SetDefault("rate_limit.sweep_interval", "1m")

	// Cache defaults
	v.SetDefault("cache.user_status_ttl", "30s")

	// Redis defaults (empty addr = in-process limiter state)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "agentplane")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Jobs defaults
	v.SetDefault("jobs.key_expiry_warning_days", 7)
	v.SetDefault("jobs.key_expiry_check_interval_hours", 24)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate environment
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Environment)
	}

	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

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

	// Validate token settings
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be positive")
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		return fmt.Errorf("auth.refresh_token_ttl must exceed auth.access_token_ttl")
	}

	// Validate secrets. In production a missing or development-placeholder
	// secret is a fatal configuration error; refusing to start here is what
	// keeps the well-known fallbacks out of real deployments.
	if c.IsProduction() {
		if err := validateProductionSecret("auth.access_token_secret", c.Auth.AccessTokenSecret); err != nil {
			return err
		}
		if err := validateProductionSecret("auth.refresh_token_secret", c.Auth.RefreshTokenSecret); err != nil {
			return err
		}
		if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
			return fmt.Errorf("auth.access_token_secret and auth.refresh_token_secret must differ")
		}
		if c.Auth.APIKeys.Enabled {
			if err := validateProductionSecret("auth.api_keys.lookup_secret", c.Auth.APIKeys.LookupSecret); err != nil {
				return err
			}
			if c.Auth.APIKeys.LookupSecret == c.Auth.AccessTokenSecret ||
				c.Auth.APIKeys.LookupSecret == c.Auth.RefreshTokenSecret {
				return fmt.Errorf("auth.api_keys.lookup_secret must differ from the token secrets")
			}
		}
	}

	// Validate rate limiting
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.RateLimit.MaxAttempts < 1 {
		return fmt.Errorf("rate_limit.max_attempts must be at least 1")
	}
	if c.RateLimit.BlockDuration <= 0 {
		return fmt.Errorf("rate_limit.block_duration must be positive")
	}

	// Validate cache
	if c.Cache.UserStatusTTL <= 0 {
		return fmt.Errorf("cache.user_status_ttl must be positive")
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate audit export destinations. Catching a bad destination here
	// fails startup with a clear message instead of silently running without
	// the export a compliance setup depends on.
	for i, exp := range c.Audit.Export {
		if !exp.Enabled {
			continue
		}
		switch exp.Type {
		case "webhook":
			if exp.Webhook == nil || exp.Webhook.URL == "" {
				return fmt.Errorf("audit.export[%d]: webhook.url is required", i)
			}
		case "file":
			if exp.File == nil || exp.File.Path == "" {
				return fmt.Errorf("audit.export[%d]: file.path is required", i)
			}
		default:
			return fmt.Errorf("audit.export[%d]: unknown type %q (must be webhook or file)", i, exp.Type)
		}
	}

	return nil
}

// validateProductionSecret rejects unset, too-short, and development-fallback
// secret values. Generate real secrets with: openssl rand -hex 32
func validateProductionSecret(key, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required in production", key)
	}
	if len(value) < minSecretLen {
		return fmt.Errorf("%s must be at least %d characters in production", key, minSecretLen)
	}
	switch value {
	case DevAccessTokenSecret, DevRefreshTokenSecret, DevAPIKeyLookupSecret:
		return fmt.Errorf("%s is set to a development placeholder; generate a real secret", key)
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

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
