// Package config loads runtime configuration from the environment.
//
// A .env file in the working directory is honored when present; real
// environment variables take precedence over it.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for state data
	DefaultStateDir = "/var/lib/recoverycompanion"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "recoverycompanion.db"
)

// Config holds environment configuration.
type Config struct {
	DatabaseURL       string        `env:"DATABASE_URL"`
	StateDir          string        `env:"STATE_DIR"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIModel       string        `env:"OPENAI_MODEL"`
	APIAddr           string        `env:"API_ADDR" envDefault:":8080"`
	ExtractionTimeout time.Duration `env:"EXTRACTION_TIMEOUT" envDefault:"30s"`
	Debug             bool          `env:"DEBUG" envDefault:"false"`
}

// Load reads the optional .env file, then parses the environment into a
// Config and applies path defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
		slog.Debug("No STATE_DIR set, using default", "default_state_dir", cfg.StateDir)
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"STATE_DIR", cfg.StateDir,
		"OPENAI_API_KEY_SET", cfg.OpenAIAPIKey != "",
		"OPENAI_MODEL", cfg.OpenAIModel,
		"API_ADDR", cfg.APIAddr,
		"EXTRACTION_TIMEOUT", cfg.ExtractionTimeout,
		"DEBUG", cfg.Debug)

	return cfg, nil
}

// Validate checks requirements that cannot be defaulted.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("missing required environment variable: OPENAI_API_KEY")
	}
	if c.ExtractionTimeout <= 0 {
		return fmt.Errorf("EXTRACTION_TIMEOUT must be positive, got %s", c.ExtractionTimeout)
	}
	return nil
}
