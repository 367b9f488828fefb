// Package config loads the coordination kernel's runtime configuration from
// an optional .env file plus process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds every setting the composition root needs to wire the
// registry, asset manager, task orchestrator and execution engine.
type Config struct {
	ModulesRoot string `env:"MODULES_ROOT,required"`
	StorageRoot string `env:"STORAGE_ROOT,default=storage"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	RescanCron      string        `env:"RESCAN_CRON,default=@every 30s"`
	Workers         int           `env:"EXECUTION_WORKERS,default=1"`
	DefaultTimeout  time.Duration `env:"TASK_DEFAULT_TIMEOUT,default=600s"`
	DispatchRateHz  float64       `env:"DISPATCH_RATE_HZ,default=10"`
	DiagnosticsAddr string        `env:"DIAGNOSTICS_ADDR,default=:9090"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
}

// Load reads an optional .env file (ignored if absent) and decodes the
// process environment into a Config using struct tags.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
