// Package config loads the YAML configuration file and applies defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/srs"
)

// Config is the full application configuration. Zero values fall back to
// defaults during Load.
type Config struct {
	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// DeviceID identifies this device in logical timestamps and event
	// provenance. Required.
	DeviceID string `yaml:"device_id"`

	// LogMode selects the logger profile: "dev" or "prod".
	LogMode string `yaml:"log_mode"`

	// Scheduler tunes the spaced-repetition function.
	Scheduler srs.Config `yaml:"scheduler"`

	// Limits configures free-tier quota gating.
	Limits rank.Limits `yaml:"limits"`

	// SyncInterval is how often the watch command pulls and pushes.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database:     "kioku.db",
		LogMode:      "prod",
		SyncInterval: 15 * time.Minute,
	}
}

// rawConfig mirrors Config with durations as strings, the way they read in
// a YAML file ("15m", "168h").
type rawConfig struct {
	Database     string     `yaml:"database"`
	DeviceID     string     `yaml:"device_id"`
	LogMode      string     `yaml:"log_mode"`
	Scheduler    srs.Config `yaml:"scheduler"`
	Limits       rawLimits  `yaml:"limits"`
	SyncInterval string     `yaml:"sync_interval"`
}

type rawLimits struct {
	ArticlesPerWindow int    `yaml:"articles_per_window"`
	WidgetProfiles    int    `yaml:"widget_profiles"`
	Window            string `yaml:"window"`
}

// Load reads the YAML file at path, fills defaults, and validates. A missing
// file is not an error: the defaults are returned and only DeviceID must
// then come from flags.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if raw.Database != "" {
		cfg.Database = raw.Database
	}
	if raw.DeviceID != "" {
		cfg.DeviceID = raw.DeviceID
	}
	if raw.LogMode != "" {
		cfg.LogMode = raw.LogMode
	}
	cfg.Scheduler = raw.Scheduler
	cfg.Limits.ArticlesPerWindow = raw.Limits.ArticlesPerWindow
	cfg.Limits.WidgetProfiles = raw.Limits.WidgetProfiles
	if raw.Limits.Window != "" {
		d, err := time.ParseDuration(raw.Limits.Window)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: limits.window: %w", path, err)
		}
		cfg.Limits.Window = d
	}
	if raw.SyncInterval != "" {
		d, err := time.ParseDuration(raw.SyncInterval)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: sync_interval: %w", path, err)
		}
		cfg.SyncInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var problems []string
	if c.Database == "" {
		problems = append(problems, "database: path must not be empty")
	}
	if c.LogMode != "dev" && c.LogMode != "prod" {
		problems = append(problems, fmt.Sprintf("log_mode: %q must be dev or prod", c.LogMode))
	}
	if c.SyncInterval < 0 {
		problems = append(problems, "sync_interval: must not be negative")
	}
	if c.Limits.ArticlesPerWindow < 0 {
		problems = append(problems, "limits.articles_per_window: must not be negative")
	}
	if c.Limits.WidgetProfiles < 0 {
		problems = append(problems, "limits.widget_profiles: must not be negative")
	}
	if c.Limits.Window < 0 {
		problems = append(problems, "limits.window: must not be negative")
	}
	if c.Scheduler.Weights != (srs.Weights{}) {
		if err := c.Scheduler.Weights.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.weights: %v", err))
		}
	}
	if r := c.Scheduler.DesiredRetention; r != 0 && (r <= 0 || r >= 1) {
		problems = append(problems, fmt.Sprintf("scheduler.desired_retention: %v outside (0, 1)", r))
	}
	if c.Scheduler.MaximumInterval < 0 {
		problems = append(problems, "scheduler.maximum_interval: must not be negative")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
