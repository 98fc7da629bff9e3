package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

type Config struct {
	Port                       int    `env:"PORT" envDefault:"8080"`
	StoreDriver                string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL                string `env:"DATABASE_URL"`
	MongoURL                   string `env:"MONGO_URL"`
	MongoDatabase              string `env:"MONGO_DATABASE" envDefault:"mentorlink"`
	RedisURL                   string `env:"REDIS_URL,required"`
	LogLevel                   string `env:"LOG_LEVEL" envDefault:"info"`
	DefaultTimezone            string `env:"DEFAULT_TIMEZONE" envDefault:"Asia/Kolkata"`
	TickIntervalMS             int    `env:"TICK_INTERVAL_MS" envDefault:"1000"`
	ExpirySweepIntervalSeconds int    `env:"EXPIRY_SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	ExpiryRetryBaseSeconds     int    `env:"EXPIRY_RETRY_BASE_SECONDS" envDefault:"2"`
	ExpiryRetryMaxSeconds      int    `env:"EXPIRY_RETRY_MAX_SECONDS" envDefault:"60"`
	RateLimitPerMin            int    `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func (c *Config) ExpirySweepInterval() time.Duration {
	return time.Duration(c.ExpirySweepIntervalSeconds) * time.Second
}

func (c *Config) ExpiryRetryBase() time.Duration {
	return time.Duration(c.ExpiryRetryBaseSeconds) * time.Second
}

func (c *Config) ExpiryRetryMax() time.Duration {
	return time.Duration(c.ExpiryRetryMaxSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Location resolves DEFAULT_TIMEZONE. Sessions without a timezone of their
// own are interpreted in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	return loc, nil
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMongo:
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required when STORE_DRIVER=%s", StoreDriverMongo)
		}
		if c.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE must not be empty")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMongo, c.StoreDriver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}
	if c.ExpirySweepIntervalSeconds <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.ExpiryRetryBaseSeconds <= 0 || c.ExpiryRetryMaxSeconds < c.ExpiryRetryBaseSeconds {
		return fmt.Errorf("EXPIRY_RETRY_BASE_SECONDS must be positive and not exceed EXPIRY_RETRY_MAX_SECONDS")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.RateLimitPerMin <= 0 {
			log.Warn().Msg("RATE_LIMIT_PER_MIN is not positive in production: IP rate limiting disabled")
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
