package config

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"80"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Correios
	CorreiosBaseURL        string        `envconfig:"CORREIOS_BASE_URL" default:"https://api.correios.com.br"`
	CorreiosUseMock        bool          `envconfig:"CORREIOS_USE_MOCK" default:"false"`
	CorreiosTimeout        time.Duration `envconfig:"CORREIOS_TIMEOUT" default:"30s"`
	CorreiosTimezone       string        `envconfig:"CORREIOS_TIMEZONE" default:"America/Sao_Paulo"`
	CorreiosMaxRPS         float64       `envconfig:"CORREIOS_MAX_RPS" default:"0"`
	CorreiosBreakerEnabled bool          `envconfig:"CORREIOS_BREAKER_ENABLED" default:"false"`

	// Sync
	SyncBatchDelay        time.Duration `envconfig:"SYNC_BATCH_DELAY" default:"1s"`
	SyncTenantConcurrency int           `envconfig:"SYNC_TENANT_CONCURRENCY" default:"1"`
	SyncInterval          time.Duration `envconfig:"SYNC_INTERVAL" default:"0"`

	// Storage
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	LockTTL     time.Duration `envconfig:"LOCK_TTL" default:"10m"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"tracksync"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment
// variables take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Location returns the time zone used to read carrier timestamps.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.CorreiosTimezone)
}

func (c *Config) validate() error {
	if c.SyncBatchDelay < 0 {
		return fmt.Errorf("SYNC_BATCH_DELAY must not be negative")
	}
	if c.SyncTenantConcurrency < 1 {
		return fmt.Errorf("SYNC_TENANT_CONCURRENCY must be at least 1")
	}
	if c.CorreiosMaxRPS < 0 {
		return fmt.Errorf("CORREIOS_MAX_RPS must not be negative")
	}
	return nil
}

// Attributes describes the deployment for the tracing resource.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("correios.mock", c.CorreiosUseMock),
		attribute.Bool("correios.breaker", c.CorreiosBreakerEnabled),
		attribute.Bool("storage.postgres", c.DatabaseURL != ""),
		attribute.Bool("storage.redis_lock", c.RedisURL != ""),
	}
}
