// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Prefix is prepended to every client variable name
const Prefix = "KILLERWIKI_"

// Cache backends
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Config holds the client configuration
type Config struct {
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:3000"`

	CacheBackend string `env:"CACHE_BACKEND" envDefault:"file"`
	CacheDir     string `env:"CACHE_DIR"` // empty means ~/.killerwiki_cache
	CacheSize    int    `env:"CACHE_SIZE" envDefault:"512"`
	RedisAddr    string `env:"REDIS_ADDR"`
	RedisPrefix  string `env:"REDIS_PREFIX" envDefault:"httpcache"`
	DatabaseURL  string `env:"DATABASE_URL"`

	SessionFile string `env:"SESSION_FILE"` // empty means ~/.killerwiki_session.json

	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"20s"`
	StaleTime   time.Duration `env:"STALE_TIME" envDefault:"5m"`
	GCTime      time.Duration `env:"GC_TIME" envDefault:"10m"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

// MockAPIConfig configures the development backend
type MockAPIConfig struct {
	Port      string        `env:"MOCKAPI_PORT" envDefault:"3000"`
	JWTSecret string        `env:"MOCKAPI_JWT_SECRET" envDefault:"dev-secret-change-me"`
	TokenTTL  time.Duration `env:"MOCKAPI_TOKEN_TTL" envDefault:"1h"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadMockAPI reads the development backend configuration
func LoadMockAPI() (*MockAPIConfig, error) {
	cfg, err := env.ParseAs[MockAPIConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse mockapi config: %w", err)
	}
	return &cfg, nil
}

// Level returns the parsed log level
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the selected cache backend is fully configured
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case BackendFile, BackendMemory, BackendNone:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("cache backend %q requires %sREDIS_ADDR", c.CacheBackend, Prefix)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("cache backend %q requires %sDATABASE_URL", c.CacheBackend, Prefix)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("%sCACHE_SIZE must be positive, got %d", Prefix, c.CacheSize)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid %sLOG_LEVEL: %v", Prefix, err)
	}
	return nil
}
