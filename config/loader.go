package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // timezone lookups must not depend on the host

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// The YAML file path is determined by CONFIG_PATH env (fallback "./config.yaml").
// If the file does not exist and CONFIG_PATH was not set explicitly,
// configuration is loaded from ENV + defaults only.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be one of memory, sqlite, postgres", c.Storage.Backend))
	}

	if _, err := time.LoadLocation(c.Fulfillment.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("fulfillment.timezone: %w", err))
	}
	if c.Fulfillment.SaveAttempts < 1 {
		errs = append(errs, errors.New("fulfillment.save_attempts must be at least 1"))
	}
	if c.Fulfillment.AuditRetryInterval <= 0 {
		errs = append(errs, errors.New("fulfillment.audit_retry_interval must be positive"))
	}
	if c.Notify.Workers < 1 || c.Notify.QueueSize < 1 {
		errs = append(errs, errors.New("notify.workers and notify.queue_size must be positive"))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Location returns the configured timezone, falling back to UTC.
func (c FulfillmentConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
