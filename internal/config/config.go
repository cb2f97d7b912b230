package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TRANSE_SEED
const EnvPrefix = "TRANSE"

// Config validation errors
var (
	ErrInvalidData      = errors.New("data cannot be empty")
	ErrInvalidLogFormat = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel  = errors.New("log_level must be debug, info, warn, or error")
)

// Config holds the persistent settings of a run
type Config struct {
	Seed           int64  `yaml:"seed" envconfig:"SEED"`
	Data           string `yaml:"data" envconfig:"DATA"`
	CheckpointsDir string `yaml:"checkpoints_dir" envconfig:"CHECKPOINTS_DIR"`
	LogFormat      string `yaml:"log_format" envconfig:"LOG_FORMAT"`
	LogLevel       string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	MetricsAddr    string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Seed:           42,
		Data:           "./data/WN18RR",
		CheckpointsDir: "./checkpoints",
		LogFormat:      "console",
		LogLevel:       "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and TRANSE_* environment variables, in that order. A .env file in
// the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c Config) Validate() error {
	if c.Data == "" {
		return ErrInvalidData
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}
