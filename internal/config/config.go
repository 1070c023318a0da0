// Package config provides configuration loading and validation for the service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the service configuration. It can be loaded from a JSON or YAML file
// and is then overlaid with environment variables; CLI flags win over both.
type Config struct {
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`
	StoreDriver string `json:"store_driver,omitempty" yaml:"store_driver,omitempty"` // postgres or memory
	LogMode     string `json:"log_mode,omitempty" yaml:"log_mode,omitempty"`         // dev or prod

	IngestTimeout       Duration `json:"ingest_timeout,omitempty" yaml:"ingest_timeout,omitempty"`
	ManualMaxRows       int      `json:"manual_max_rows,omitempty" yaml:"manual_max_rows,omitempty"`
	ManualMaxAge        Duration `json:"manual_max_age,omitempty" yaml:"manual_max_age,omitempty"`
	DefaultSourceSystem string   `json:"default_source_system,omitempty" yaml:"default_source_system,omitempty"`
	AllowedOrigin       string   `json:"allowed_origin,omitempty" yaml:"allowed_origin,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                8080,
		StoreDriver:         DriverPostgres,
		LogMode:             "dev",
		IngestTimeout:       Duration(10 * time.Second),
		ManualMaxRows:       500,
		ManualMaxAge:        Duration(24 * time.Hour),
		DefaultSourceSystem: "ui_manual",
		AllowedOrigin:       "*",
	}
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return &cfg, nil
}

// Load builds the effective configuration: the optional file, then the environment,
// then the defaults for anything still unset.
func Load(path string) (*Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with an override applied after the environment, before defaults and
// validation. The CLI passes its flags through it.
func LoadWith(path string, override func(*Config)) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// ApplyEnv overrides fields with any environment variables that are set.
func (c *Config) ApplyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.StoreDriver, "STORE_DRIVER")
	setString(&c.LogMode, "LOG_MODE")
	setString(&c.DefaultSourceSystem, "DEFAULT_SOURCE_SYSTEM")
	setString(&c.AllowedOrigin, "CORS_ALLOWED_ORIGIN")

	if err := setInt(&c.Port, "PORT"); err != nil {
		return err
	}
	if err := setInt(&c.ManualMaxRows, "MANUAL_MAX_ROWS"); err != nil {
		return err
	}
	if err := setDuration(&c.IngestTimeout, "INGEST_TIMEOUT"); err != nil {
		return err
	}
	return setDuration(&c.ManualMaxAge, "MANUAL_MAX_AGE")
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "", DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config error: unknown store driver %q", c.StoreDriver)
	}
	if c.StoreDriver == DriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("config error: 'database_url' is required for the postgres store")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' out of range: %d", c.Port)
	}
	if c.ManualMaxRows < 0 {
		return fmt.Errorf("config error: 'manual_max_rows' must be non-negative")
	}
	if c.IngestTimeout < 0 || c.ManualMaxAge < 0 {
		return fmt.Errorf("config error: durations must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.StoreDriver == "" {
		result.StoreDriver = defaults.StoreDriver
	}
	if result.LogMode == "" {
		result.LogMode = defaults.LogMode
	}
	if result.DefaultSourceSystem == "" {
		result.DefaultSourceSystem = defaults.DefaultSourceSystem
	}
	if result.AllowedOrigin == "" {
		result.AllowedOrigin = defaults.AllowedOrigin
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.ManualMaxRows == 0 {
		result.ManualMaxRows = defaults.ManualMaxRows
	}
	if result.IngestTimeout == 0 {
		result.IngestTimeout = defaults.IngestTimeout
	}
	if result.ManualMaxAge == 0 {
		result.ManualMaxAge = defaults.ManualMaxAge
	}
	return result
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config error: %s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config error: %s must be a duration: %w", key, err)
	}
	*dst = Duration(d)
	return nil
}
