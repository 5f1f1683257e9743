package syncer

import (
	"time"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
)

// Option applies a configuration option to the Coordinator.
type Option func(*Coordinator)

// WithCategories sets the fetched categories refreshed by each cycle.
func WithCategories(categories ...model.Category) Option {
	return func(c *Coordinator) {
		if len(categories) > 0 {
			c.categories = categories
		}
	}
}

// WithTimeout bounds one cycle.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCarryForward republishes the live entities of categories that failed.
func WithCarryForward(enabled bool) Option {
	return func(c *Coordinator) {
		c.carryForward = enabled
	}
}

// WithHistorySize sets how many runs are remembered.
func WithHistorySize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the coordinator.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
