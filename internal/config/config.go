// Package config loads runtime settings from defaults, an optional TOML file
// and INKWELL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the runtime configuration of the reader.
type Config struct {
	DatabaseDriver string        `toml:"database_driver" env:"DB_DRIVER"`
	DatabasePath   string        `toml:"database"        env:"DATABASE"`
	PostgresURL    string        `toml:"postgres_url"    env:"POSTGRES_URL"`
	BusyTimeout    time.Duration `toml:"busy_timeout"    env:"BUSY_TIMEOUT"`

	Addr string `toml:"addr" env:"ADDR"`

	FetchTimeout      time.Duration `toml:"fetch_timeout"        env:"FETCH_TIMEOUT"`
	IngestTimeout     time.Duration `toml:"ingest_timeout"       env:"INGEST_TIMEOUT"`
	MaxFeedBytes      int64         `toml:"max_feed_bytes"       env:"MAX_FEED_BYTES"`
	UserAgent         string        `toml:"user_agent"           env:"USER_AGENT"`
	PerHostFetches    int           `toml:"per_host_fetches"     env:"PER_HOST_FETCHES"`
	PerHostDelay      time.Duration `toml:"per_host_delay"       env:"PER_HOST_DELAY"`
	ImportConcurrency int           `toml:"import_concurrency"   env:"IMPORT_CONCURRENCY"`

	LogLevel  string `toml:"log_level"  env:"LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DatabaseDriver:    DriverSQLite,
		DatabasePath:      "feeds.db",
		BusyTimeout:       5 * time.Second,
		Addr:              "localhost:4000",
		FetchTimeout:      20 * time.Second,
		IngestTimeout:     30 * time.Second,
		MaxFeedBytes:      10 << 20,
		UserAgent:         "inkwell/1.0 (+https://github.com/bryan-buckman/inkwell)",
		PerHostFetches:    2,
		PerHostDelay:      500 * time.Millisecond,
		ImportConcurrency: 4,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load layers the TOML file at path (if non-empty) and the environment on top
// of Default, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "INKWELL_"}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the reader cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("postgres_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.DatabaseDriver))
	}
	if c.BusyTimeout <= 0 {
		errs = append(errs, errors.New("busy_timeout must be positive"))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch_timeout must be positive"))
	}
	if c.IngestTimeout <= 0 {
		errs = append(errs, errors.New("ingest_timeout must be positive"))
	}
	if c.MaxFeedBytes <= 0 {
		errs = append(errs, errors.New("max_feed_bytes must be positive"))
	}
	if c.PerHostFetches <= 0 {
		errs = append(errs, errors.New("per_host_fetches must be positive"))
	}
	if c.PerHostDelay < 0 {
		errs = append(errs, errors.New("per_host_delay must not be negative"))
	}
	if c.ImportConcurrency <= 0 {
		errs = append(errs, errors.New("import_concurrency must be positive"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
