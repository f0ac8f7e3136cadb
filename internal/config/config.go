// Package config loads replica settings from an optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the settings of one replica process.
type Config struct {
	Database      string        `yaml:"database"`
	PageSize      int           `yaml:"page_size"`
	BusyTimeoutMS int           `yaml:"busy_timeout_ms"`
	LogLevel      string        `yaml:"log_level"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Database:      "crr.db",
		PageSize:      500,
		BusyTimeoutMS: 5000,
		LogLevel:      "info",
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown keys are errors.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvironmentOverrides lets CRR_* variables take precedence over the file.
func applyEnvironmentOverrides(cfg *Config) error {
	if db := os.Getenv("CRR_DATABASE"); db != "" {
		cfg.Database = db
	}
	if level := os.Getenv("CRR_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if n := os.Getenv("CRR_PAGE_SIZE"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("CRR_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = v
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Database == "" {
		return errors.New("database is required")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("page_size must be non-negative, got %d", c.PageSize)
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms must be non-negative, got %d", c.BusyTimeoutMS)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel)
	}
	return l, nil
}
