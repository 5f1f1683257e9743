// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and FPLCACHE_* environment variables on top.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/fplcache/internal/domain/model"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// MinRetentionGrace is the smallest accepted retention_grace.
const MinRetentionGrace = 5 * time.Second

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Upstream FPL API settings.
	UpstreamBaseURL     string        `koanf:"upstream_base_url"`
	UpstreamTimeout     time.Duration `koanf:"upstream_timeout"`
	UpstreamMaxAttempts int           `koanf:"upstream_max_attempts"`
	UpstreamBackoffBase time.Duration `koanf:"upstream_backoff_base"`
	UpstreamBackoffMax  time.Duration `koanf:"upstream_backoff_max"`

	// Categories lists the fetched categories refreshed by each sync.
	Categories []string `koanf:"categories"`

	// SyncInterval is the timer period; zero disables the timer.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// SyncTimeout bounds one sync cycle end to end.
	SyncTimeout time.Duration `koanf:"sync_timeout"`

	// SyncOnStart runs a cycle as soon as the server starts.
	SyncOnStart bool `koanf:"sync_on_start"`

	// SyncAPIKey authorizes POST /api/v1/sync. Empty rejects every request.
	SyncAPIKey string `koanf:"sync_api_key"`

	// CarryForward republishes the live data of a category whose fetch failed.
	CarryForward bool `koanf:"carry_forward"`

	// StoreDriver selects the snapshot store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// StorePath is the SQLite database path, without extension.
	StorePath string `koanf:"store_path"`

	// RetentionGenerations and RetentionGrace bound how many superseded
	// snapshots are kept and how long after being superseded. Multi-category
	// reads pin one version, so the grace must outlast the slowest read;
	// it cannot be below MinRetentionGrace.
	RetentionGenerations int           `koanf:"retention_generations"`
	RetentionGrace       time.Duration `koanf:"retention_grace"`

	// StaleAfter triggers a background sync from reads of an older snapshot; zero disables.
	StaleAfter time.Duration `koanf:"stale_after"`

	// MaxQueryLimit caps ?limit on list endpoints.
	MaxQueryLimit int `koanf:"max_query_limit"`

	// RunHistory is how many finished sync runs are remembered.
	RunHistory int `koanf:"run_history"`

	// TracingStdout exports spans to stdout.
	TracingStdout bool `koanf:"tracing_stdout"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		UpstreamBaseURL:      "https://fantasy.premierleague.com/api",
		UpstreamTimeout:      30 * time.Second,
		UpstreamMaxAttempts:  3,
		UpstreamBackoffBase:  time.Second,
		UpstreamBackoffMax:   8 * time.Second,
		Categories:           []string{"players", "teams", "gameweeks", "fixtures"},
		SyncInterval:         8 * time.Hour,
		SyncTimeout:          5 * time.Minute,
		SyncOnStart:          false,
		CarryForward:         true,
		StoreDriver:          DriverMemory,
		StorePath:            "fplcache",
		RetentionGenerations: 5,
		RetentionGrace:       time.Minute,
		MaxQueryLimit:        1000,
		RunHistory:           50,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.UpstreamBaseURL == "":
		return fmt.Errorf("%w: upstream_base_url must not be empty", ErrInvalidConfig)
	case c.UpstreamTimeout <= 0:
		return fmt.Errorf("%w: upstream_timeout must be positive", ErrInvalidConfig)
	case c.UpstreamMaxAttempts < 1:
		return fmt.Errorf("%w: upstream_max_attempts must be at least 1", ErrInvalidConfig)
	case c.UpstreamBackoffBase <= 0 || c.UpstreamBackoffMax < c.UpstreamBackoffBase:
		return fmt.Errorf("%w: upstream backoff must satisfy 0 < base <= max", ErrInvalidConfig)
	case c.SyncInterval < 0:
		return fmt.Errorf("%w: sync_interval must not be negative", ErrInvalidConfig)
	case c.SyncTimeout <= 0:
		return fmt.Errorf("%w: sync_timeout must be positive", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite:
		return fmt.Errorf("%w: store_driver must be %s or %s", ErrInvalidConfig, DriverMemory, DriverSQLite)
	case c.StoreDriver == DriverSQLite && c.StorePath == "":
		return fmt.Errorf("%w: store_path is required for sqlite", ErrInvalidConfig)
	case c.RetentionGenerations < 1:
		return fmt.Errorf("%w: retention_generations must be at least 1", ErrInvalidConfig)
	case c.RetentionGrace < MinRetentionGrace:
		return fmt.Errorf("%w: retention_grace must be at least %s", ErrInvalidConfig, MinRetentionGrace)
	case c.StaleAfter < 0:
		return fmt.Errorf("%w: stale_after must not be negative", ErrInvalidConfig)
	case c.MaxQueryLimit < 1:
		return fmt.Errorf("%w: max_query_limit must be at least 1", ErrInvalidConfig)
	case c.RunHistory < 1:
		return fmt.Errorf("%w: run_history must be at least 1", ErrInvalidConfig)
	}
	if _, err := c.FetchCategories(); err != nil {
		return err
	}
	return nil
}

// FetchCategories parses Categories. Duplicates are dropped and derived
// categories are rejected.
func (c *Config) FetchCategories() ([]model.Category, error) {
	if len(c.Categories) == 0 {
		return nil, fmt.Errorf("%w: categories must not be empty", ErrInvalidConfig)
	}
	seen := make(map[model.Category]bool, len(c.Categories))
	out := make([]model.Category, 0, len(c.Categories))
	for _, s := range c.Categories {
		cat, err := model.ParseCategory(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if cat.Derived() {
			return nil, fmt.Errorf("%w: %s is derived and cannot be fetched", ErrInvalidConfig, cat)
		}
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	return out, nil
}
