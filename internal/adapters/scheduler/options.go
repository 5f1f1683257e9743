package scheduler

import (
	"time"

	"github.com/okian/fplcache/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the time between triggers.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSyncOnStart fires one trigger as soon as Run starts.
func WithSyncOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.onStart = enabled
	}
}

// WithStatsInterval sets how often runtime gauges are sampled.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.statsInterval = d
		}
	}
}

// WithLogger sets a custom logger for the scheduler.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
