package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Notify    NotifyConfig
	OIDC      OIDCConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// OIDCConfig holds bearer token verification settings.
type OIDCConfig struct {
	Enabled        bool   `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL      string `env:"OIDC_ISSUER_URL"`
	ClientID       string `env:"OIDC_CLIENT_ID"`
	AllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
}

// GetAllowedDomains returns the allowed email domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	domains := strings.Split(c.AllowedDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}
	return domains
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/membership.db"`
}

// NotifyConfig holds stakeholder notification settings.
type NotifyConfig struct {
	WebhookURL string        `env:"NOTIFY_WEBHOOK_URL"` // empty logs notifications instead
	Timeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
	MaxTries   uint          `env:"NOTIFY_MAX_TRIES" envDefault:"3"`
	BatchSize  int           `env:"NOTIFY_BATCH_SIZE" envDefault:"3"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string `env:"OTEL_ENDPOINT" envDefault:"http://localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"membership-manager"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Notify); err != nil {
		return nil, fmt.Errorf("parsing notify config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}
	if err := env.Parse(&cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("parsing telemetry config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.Notify.BatchSize < 1 {
		return fmt.Errorf("NOTIFY_BATCH_SIZE must be at least 1")
	}
	if c.Notify.MaxTries < 1 {
		return fmt.Errorf("NOTIFY_MAX_TRIES must be at least 1")
	}

	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}

	return nil
}
