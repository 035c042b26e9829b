// Package config loads the service configuration from a YAML file with
// environment-variable overrides for the deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Feed     FeedConfig     `yaml:"feed"`
	Account  AccountConfig  `yaml:"account"`
}

// ServerConfig contains HTTP server parameters.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig contains PostgreSQL parameters. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig contains cache parameters. An empty URL disables caching.
type RedisConfig struct {
	URL string        `yaml:"url"`
	TTL time.Duration `yaml:"ttl"`
}

// FeedConfig contains price-feed parameters. An empty BaseURL disables the
// poller (prices must then be seeded some other way, e.g. in tests).
type FeedConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Symbols  []string      `yaml:"symbols"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Backfill bool          `yaml:"backfill"`
}

// AccountConfig contains account defaults. The balance is kept as a
// decimal string so the configured amount parses exactly.
type AccountConfig struct {
	InitialBalance string `yaml:"initial_balance"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			TTL: 30 * time.Second,
		},
		Feed: FeedConfig{
			Symbols:  []string{"AAPL", "GOOGL", "TSLA", "AMZN", "MSFT"},
			Interval: time.Minute,
			Timeout:  10 * time.Second,
			Backfill: true,
		},
		Account: AccountConfig{
			InitialBalance: "10000",
		},
	}
}

// Load reads configuration from path, layered over Default. An empty path
// returns the defaults. Environment variables PORT, DATABASE_URL and
// REDIS_URL override the file in either case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}
	if c.Feed.BaseURL != "" {
		if len(c.Feed.Symbols) == 0 {
			return fmt.Errorf("feed.symbols is required when feed.base_url is set")
		}
		if c.Feed.Interval <= 0 {
			return fmt.Errorf("feed.interval must be positive")
		}
		if c.Feed.Timeout <= 0 {
			return fmt.Errorf("feed.timeout must be positive")
		}
	}
	if c.Redis.URL != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis.ttl must be positive")
	}
	bal, err := decimal.NewFromString(c.Account.InitialBalance)
	if err != nil {
		return fmt.Errorf("account.initial_balance: %w", err)
	}
	if bal.IsNegative() {
		return fmt.Errorf("account.initial_balance must not be negative")
	}
	return nil
}

// InitialBalance returns the opening balance for new accounts. Load has
// already validated the string.
func (c *Config) InitialBalance() decimal.Decimal {
	bal, _ := decimal.NewFromString(c.Account.InitialBalance)
	return bal
}
