// Package config provides process configuration for fabsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/mengxiangmengyuan/fabrik/internal/expr"
	"github.com/mengxiangmengyuan/fabrik/internal/logging"
)

// Environment variables read by Load.
const (
	EnvDB           = "FABSYNC_DB"
	EnvLogLevel     = "FABSYNC_LOG_LEVEL"
	EnvLogFormat    = "FABSYNC_LOG_FORMAT"
	EnvExprMaxSteps = "FABSYNC_EXPR_MAX_STEPS"
	EnvMapWorkers   = "FABSYNC_MAP_WORKERS"
)

// DefaultDBPath is the local store used when FABSYNC_DB is unset.
const DefaultDBPath = "fabsync.db"

// Config holds process settings.
type Config struct {
	// Store
	DBPath string

	// Logging
	LogLevel  string
	LogFormat logging.Format

	// Mapping
	ExprMaxSteps int
	MapWorkers   int
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DBPath:       DefaultDBPath,
		LogLevel:     "info",
		LogFormat:    logging.FormatText,
		ExprMaxSteps: expr.DefaultMaxSteps,
		MapWorkers:   1,
	}
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	def := Default()

	format, err := logging.ParseFormat(getEnv(getenv, EnvLogFormat, string(def.LogFormat)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLogFormat, err)
	}

	cfg := &Config{
		DBPath:       getEnv(getenv, EnvDB, def.DBPath),
		LogLevel:     getEnv(getenv, EnvLogLevel, def.LogLevel),
		LogFormat:    format,
		ExprMaxSteps: getEnvInt(getenv, EnvExprMaxSteps, def.ExprMaxSteps),
		MapWorkers:   getEnvInt(getenv, EnvMapWorkers, def.MapWorkers),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("unknown log level: %s", c.LogLevel))
	}
	if c.ExprMaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("expression step limit must be positive, got %d", c.ExprMaxSteps))
	}
	if c.MapWorkers <= 0 {
		errs = append(errs, fmt.Errorf("map workers must be positive, got %d", c.MapWorkers))
	}
	return errors.Join(errs...)
}

func getEnv(getenv func(string) string, key, defaultVal string) string {
	if val := getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(getenv func(string) string, key string, defaultVal int) int {
	if val := getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
