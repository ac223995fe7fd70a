package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Pending opt-ins older than this are swept into the expired state.
	OptInRetentionDays int `env:"OPTIN_RETENTION_DAYS" envDefault:"30"`

	// Grant validity attached to accepted opt-ins that carry no explicit
	// ends_at. Zero means open-ended grants.
	DefaultGrantDays int `env:"DEFAULT_GRANT_DAYS" envDefault:"0"`

	// Per-account ceiling on opt-in initiations per hour.
	OptInRateLimitPerHour int `env:"OPTIN_RATE_LIMIT_PER_HOUR" envDefault:"100"`

	// When set, answer visibility skips the portfolio check entirely.
	// Deployments that front this server with their own access control
	// use it; everything else must leave it off.
	BypassSampleAvailable bool `env:"BYPASS_SAMPLE_AVAILABLE" envDefault:"false"`

	MatrixCacheTTLSeconds int `env:"MATRIX_CACHE_TTL_SECONDS" envDefault:"300"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) OptInRetention() time.Duration {
	return time.Duration(c.OptInRetentionDays) * 24 * time.Hour
}

func (c *Config) DefaultGrantValidity() time.Duration {
	return time.Duration(c.DefaultGrantDays) * 24 * time.Hour
}

func (c *Config) MatrixCacheTTL() time.Duration {
	return time.Duration(c.MatrixCacheTTLSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.OptInRetentionDays < 1 {
		return fmt.Errorf("OPTIN_RETENTION_DAYS must be at least 1")
	}

	if isProduction {
		if c.BypassSampleAvailable {
			log.Warn().Msg("BYPASS_SAMPLE_AVAILABLE is on in production: portfolio access control is disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
