package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PACEMAKER_METRICS_PORT.
const EnvPrefix = "PACEMAKER"

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "configs/pacemaker.yaml"

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags; environment names are derived
// from field names, e.g. PACEMAKER_DATA_SPOOL_MAX_RECORDS
type Config struct {
	Data struct {
		SettingsPath    string `yaml:"settings_path" split_words:"true" validate:"required"`
		HistoryPath     string `yaml:"history_path" split_words:"true" validate:"required"`
		SpoolPath       string `yaml:"spool_path" split_words:"true" validate:"required"`
		SpoolMaxRecords int    `yaml:"spool_max_records" split_words:"true" validate:"gte=1"`
	} `yaml:"data"`

	Metrics struct {
		Enabled bool `yaml:"enabled" split_words:"true"`
		Port    int  `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	} `yaml:"metrics"`

	Control struct {
		Enabled bool   `yaml:"enabled" split_words:"true"`
		Addr    string `yaml:"addr" split_words:"true" validate:"required_if=Enabled true"`
	} `yaml:"control"`

	Speech struct {
		Enabled bool   `yaml:"enabled" split_words:"true"`
		Command string `yaml:"command" split_words:"true" validate:"required_if=Enabled true"`
		Voice   string `yaml:"voice" split_words:"true"`
	} `yaml:"speech"`

	Log struct {
		Level string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	} `yaml:"log"`

	Clock struct {
		Speed float64 `yaml:"speed" split_words:"true" validate:"gt=0,lte=1000"`
	} `yaml:"clock"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Data.SettingsPath = "data/settings.json"
	cfg.Data.HistoryPath = "data/history.db"
	cfg.Data.SpoolPath = "data/spool.jsonl"
	cfg.Data.SpoolMaxRecords = 1000
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 9090
	cfg.Control.Enabled = false
	cfg.Control.Addr = "localhost:50051"
	cfg.Speech.Enabled = false
	cfg.Speech.Command = "espeak-ng"
	cfg.Log.Level = "info"
	cfg.Clock.Speed = 1
	return cfg
}

// ConfigError tells which loading stage failed.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// loadConfig loads the configuration.
//
// Order, later wins:
//  1. built-in defaults
//  2. the YAML file at path (a missing file is fine)
//  3. a .env file in the working directory (never overrides the environment)
//  4. PACEMAKER_* environment variables
//
// The result is validated last.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("No config file, using defaults", "path", path)
	case err != nil:
		return nil, &ConfigError{Stage: "read", Err: err}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Stage: "parse", Err: err}
		}
	}

	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, &ConfigError{Stage: "environment", Err: err}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Stage: "validation", Err: err}
	}
	return cfg, nil
}

// setupLogging installs a text handler at the configured level.
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
}
