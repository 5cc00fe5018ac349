// Package config loads and validates the keygate configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the KG_ prefix (e.g., KG_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The maintenance flag and the update-notification message are read once at
// startup and injected into the license ledger as immutable values; they are
// never re-read per request.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	License   LicenseConfig   `mapstructure:"license"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Community CommunityConfig `mapstructure:"community"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Activity  ActivityConfig  `mapstructure:"activity"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
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

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LicenseConfig holds license-ledger configuration.
//
// Maintenance short-circuits every validation outcome to MAINTENANCE; it exists
// so paid users see a clear "we are down on purpose" signal instead of a 500
// during planned upstream migrations. UpdateNotification is an informational
// message surfaced alongside successful validations (e.g. "v2.4 is available");
// it never affects the valid/invalid decision.
type LicenseConfig struct {
	Maintenance        bool   `mapstructure:"maintenance"`
	UpdateNotification string `mapstructure:"update_notification"`
	// TokenTTL is the session-token lifetime. Expiry is the only invalidation
	// mechanism for issued tokens, so this should stay short.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// ProviderConfig holds the upstream social-data provider configuration
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CommunityConfig holds config-share surface configuration
type CommunityConfig struct {
	// MaxConfigBytes caps the serialized size of an uploaded config payload.
	MaxConfigBytes int64 `mapstructure:"max_config_bytes"`
	// PageSize is the default browse page size; MaxPageSize bounds the
	// client-requested limit.
	PageSize    int `mapstructure:"page_size"`
	MaxPageSize int `mapstructure:"max_page_size"`
}

// AdminConfig holds the administrative surface configuration.
// TokenHash is a bcrypt hash of the admin bearer token; when empty the whole
// admin surface is disabled (403).
type AdminConfig struct {
	TokenHash string `mapstructure:"token_hash"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration. AllowedOrigins is the explicit
// allow-list of web origins; extension origins (chrome-extension://,
// moz-extension://) are matched by scheme via AllowExtensionOrigins so a
// packed extension works without enumerating its install-specific ID.
type CORSConfig struct {
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowExtensionOrigins bool     `mapstructure:"allow_extension_origins"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ActivityConfig holds activity-recorder configuration
type ActivityConfig struct {
	// QueueSize bounds the in-flight activity entries; a full queue drops
	// entries rather than blocking the charge path.
	QueueSize int `mapstructure:"queue_size"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
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

		// License
		"license.maintenance",
		"license.update_notification",
		"license.token_ttl",

		// Provider
		"provider.base_url",
		"provider.api_key",
		"provider.timeout",

		// Community
		"community.max_config_bytes",
		"community.page_size",
		"community.max_page_size",

		// Admin
		"admin.token_hash",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allow_extension_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Activity
		"activity.queue_size",
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

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/keygate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("KG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be injected
	// indirectly (e.g. database.password: ${DB_PASSWORD}).
	cfg.Database.Password = os.ExpandEnv(cfg.Database.Password)
	cfg.Provider.APIKey = os.ExpandEnv(cfg.Provider.APIKey)
	cfg.Admin.TokenHash = os.ExpandEnv(cfg.Admin.TokenHash)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "keygate")
	v.SetDefault("database.user", "keygate")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// License defaults
	v.SetDefault("license.maintenance", false)
	v.SetDefault("license.update_notification", "")
	v.SetDefault("license.token_ttl", "5m")

	// Provider defaults
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", "15s")

	// Community defaults
	v.SetDefault("community.max_config_bytes", 5*1024*1024)
	v.SetDefault("community.page_size", 20)
	v.SetDefault("community.max_page_size", 100)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.cors.allow_extension_origins", true)
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Activity defaults
	v.SetDefault("activity.queue_size", 1024)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if c.License.TokenTTL <= 0 {
		return fmt.Errorf("license.token_ttl must be positive")
	}

	if c.Community.MaxConfigBytes <= 0 {
		return fmt.Errorf("community.max_config_bytes must be positive")
	}
	if c.Community.PageSize < 1 || c.Community.PageSize > c.Community.MaxPageSize {
		return fmt.Errorf("community.page_size must be between 1 and community.max_page_size (%d)", c.Community.MaxPageSize)
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Activity.QueueSize < 1 {
		return fmt.Errorf("activity.queue_size must be positive")
	}

	return nil
}
