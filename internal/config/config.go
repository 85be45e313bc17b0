// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads and validates the poller configuration. Settings are
// layered: defaults, then the YAML config file, then UPI_* environment
// variables, then command-line flags (applied by package main).
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"upi/internal/apperr"
	"upi/internal/model"
)

// Config is the full application configuration.
type Config struct {
	// GlobalCheckEvery enables the global sweep when > 0 (seconds).
	GlobalCheckEvery int          `yaml:"global-check-every"`
	Tasks            []model.Task `yaml:"tasks"`

	StateFile  string        `yaml:"state-file"`
	StateWatch bool          `yaml:"state-watch"`
	Fetch      FetchConfig   `yaml:"fetch"`
	History    HistoryConfig `yaml:"history"`
	Logging    LoggingConfig `yaml:"logging"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// FetchConfig tunes outbound HTTP behavior. Both limits default to off so the
// out-of-the-box behavior matches a plain GET per tick.
type FetchConfig struct {
	RatePerSec float64 `yaml:"rate-per-sec"` // 0 = unlimited
	TimeoutSec int     `yaml:"timeout-seconds"`
}

// Timeout returns the configured fetch timeout, zero when disabled.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// HistoryConfig enables the per-tick outcome recorder.
type HistoryConfig struct {
	Driver        string `yaml:"driver"` // none|file|sqlite
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy-timeout-ms"` // sqlite only
}

// LoggingConfig selects log level and the optional JSON file sink.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig enables the Prometheus listener when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		StateFile: "upi-state.json",
		Logging:   LoggingConfig{Level: "info"},
		History:   HistoryConfig{Driver: "none"},
	}
}

// Load reads and decodes the YAML config file at path on top of defaults.
// Unknown fields are rejected so typos fail loudly at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config(fmt.Errorf("read %s: %w", path, err))
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, apperr.Config(fmt.Errorf("parse %s: %w", path, err))
	}
	return cfg, nil
}

// FromEnv overlays UPI_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("UPI_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("UPI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("UPI_GLOBAL_CHECK_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GlobalCheckEvery = n
		}
	}
}

// Validate checks the configuration for fatal problems. Duplicate task URLs
// are rejected because the URL keys the state file: two tasks sharing a URL
// would silently overwrite each other's baseline.
func (c *Config) Validate() error {
	if c.GlobalCheckEvery < 0 {
		return apperr.Configf("global-check-every must be >= 0, got %d", c.GlobalCheckEvery)
	}
	if strings.TrimSpace(c.StateFile) == "" {
		return apperr.Configf("state-file must not be empty")
	}
	if c.Fetch.RatePerSec < 0 {
		return apperr.Configf("fetch.rate-per-sec must be >= 0")
	}
	if c.Fetch.TimeoutSec < 0 {
		return apperr.Configf("fetch.timeout-seconds must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.History.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return apperr.Configf("history.driver must be one of none, file, sqlite; got %q", c.History.Driver)
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if strings.TrimSpace(t.URL) == "" {
			return apperr.Configf("tasks[%d]: url is required", i)
		}
		if strings.TrimSpace(t.Parse) == "" {
			return apperr.Configf("tasks[%d] (%s): parse is required", i, t.URL)
		}
		if strings.TrimSpace(t.Command) == "" {
			return apperr.Configf("tasks[%d] (%s): command is required", i, t.URL)
		}
		if t.CheckEvery <= 0 {
			return apperr.Configf("tasks[%d] (%s): check-every must be > 0 seconds", i, t.URL)
		}
		if _, dup := seen[t.URL]; dup {
			return apperr.Configf("duplicate task url %q: the url keys the state file and must be unique", t.URL)
		}
		seen[t.URL] = struct{}{}
	}
	return nil
}
