package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the compendium service.
// Environment variables are parsed with the COMPENDIUM_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage: sqlite (default, embedded) or postgres
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/compendium.db"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Providers in sync order; only listed providers are enabled.
	Providers        []string `envconfig:"PROVIDERS" default:"open5e,srd,homebrew"`
	Open5eURL        string   `envconfig:"OPEN5E_URL" default:"https://api.open5e.com"`
	Open5eBatchSize  int      `envconfig:"OPEN5E_BATCH_SIZE" default:"100"`
	Open5eDataTag    string   `envconfig:"OPEN5E_DATA_TAG" default:"v2"`
	SRDURL           string   `envconfig:"SRD_URL" default:"https://www.dnd5eapi.co"`
	SRDPageSize      int      `envconfig:"SRD_PAGE_SIZE" default:"100"`
	HomebrewDir      string   `envconfig:"HOMEBREW_DIR" default:"data/homebrew"`
	HomebrewWatch    bool     `envconfig:"HOMEBREW_WATCH" default:"true"`
	PageDelayMS      int      `envconfig:"PAGE_DELAY_MS" default:"50"`
	PageTimeoutSecs  int      `envconfig:"PAGE_TIMEOUT_SECONDS" default:"30"`
	SyncMaxRetries   int      `envconfig:"SYNC_MAX_RETRIES" default:"3"`
	SyncRetryDelayMS int      `envconfig:"SYNC_RETRY_DELAY_MS" default:"1000"`

	// Scheduling
	SyncIntervalMinutes int  `envconfig:"SYNC_INTERVAL_MINUTES" default:"0"`
	SyncOnStart         bool `envconfig:"SYNC_ON_START" default:"false"`

	// Invalidation broadcaster
	HeartbeatSeconds int `envconfig:"HEARTBEAT_SECONDS" default:"30"`

	// Health
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthCheckTimeoutSeconds int `envconfig:"HEALTH_CHECK_TIMEOUT_SECONDS" default:"5"`

	// Query cache
	CacheMaxEntries       int `envconfig:"CACHE_MAX_ENTRIES" default:"1000"`
	CacheListTTLSeconds   int `envconfig:"CACHE_LIST_TTL_SECONDS" default:"600"`
	CacheSearchTTLSeconds int `envconfig:"CACHE_SEARCH_TTL_SECONDS" default:"300"`
}

// ResolveDefaults validates the driver selection and normalizes list values.
func (c *Config) ResolveDefaults() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = "sqlite"
		if c.PostgresDSN != "" {
			c.DBDriver = "postgres"
		}
	}

	switch c.DBDriver {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH required for sqlite driver")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	providers := c.Providers[:0]
	for _, p := range c.Providers {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			providers = append(providers, p)
		}
	}
	c.Providers = providers

	if c.Open5eBatchSize <= 0 {
		c.Open5eBatchSize = 100
	}
	if c.SRDPageSize <= 0 {
		c.SRDPageSize = 100
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Example: COMPENDIUM_HTTP_PORT, COMPENDIUM_DB_DRIVER
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("COMPENDIUM", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Strs("providers", cfg.Providers).
		Str("open5e_url", cfg.Open5eURL).
		Str("srd_url", cfg.SRDURL).
		Str("homebrew_dir", cfg.HomebrewDir).
		Int("sync_interval_minutes", cfg.SyncIntervalMinutes).
		Str("postgres_dsn_present", func() string {
			if cfg.PostgresDSN != "" {
				return "true"
			}
			return "false"
		}()).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	return &Config{
		Environment:               EnvTesting,
		LogLevel:                  "debug",
		HTTPPort:                  8080,
		DBDriver:                  "sqlite",
		SQLitePath:                "compendium-test.db",
		Providers:                 []string{"open5e", "srd", "homebrew"},
		Open5eURL:                 "http://localhost:8888",
		Open5eBatchSize:           100,
		Open5eDataTag:             "v2",
		SRDURL:                    "http://localhost:3000",
		SRDPageSize:               100,
		HomebrewDir:               "testdata/homebrew",
		PageDelayMS:               0,
		PageTimeoutSecs:           5,
		SyncMaxRetries:            1,
		SyncRetryDelayMS:          1,
		HeartbeatSeconds:          30,
		HealthIntervalSeconds:     1,
		HealthCheckTimeoutSeconds: 1,
		CacheMaxEntries:           100,
		CacheListTTLSeconds:       600,
		CacheSearchTTLSeconds:     300,
	}
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ProviderEnabled reports whether id is listed in Providers.
func (c *Config) ProviderEnabled(id string) bool {
	for _, p := range c.Providers {
		if p == id {
			return true
		}
	}
	return false
}

func (c *Config) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMS) * time.Millisecond
}

func (c *Config) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSecs) * time.Second
}

func (c *Config) SyncRetryDelay() time.Duration {
	return time.Duration(c.SyncRetryDelayMS) * time.Millisecond
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c *Config) HealthCheckTimeout() time.Duration {
	return time.Duration(c.HealthCheckTimeoutSeconds) * time.Second
}
