package repository

import (
	"time"

	"github.com/okian/fplcache/pkg/logger"
)

// Default retention settings.
const (
	DefaultGenerations = 5
	DefaultGrace       = time.Minute
)

// MinGrace is the shortest grace period a store accepts. Reads pinned to a
// version that was just superseded stay valid for at least this long.
const MinGrace = 5 * time.Second

type settings struct {
	retention Retention
	now       func() time.Time
	logger    logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		retention: Retention{Generations: DefaultGenerations, Grace: DefaultGrace},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("repository")
	}
	return s
}

// Option applies a configuration option to a store.
type Option func(*settings)

// WithRetention sets how many committed generations are kept and for how long
// a superseded one stays readable. Grace is raised to MinGrace.
func WithRetention(generations int, grace time.Duration) Option {
	return func(s *settings) {
		if generations > 0 {
			s.retention.Generations = generations
		}
		if grace >= 0 {
			s.retention.Grace = max(grace, MinGrace)
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
