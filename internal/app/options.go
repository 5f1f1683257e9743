package service

import (
	"time"

	"github.com/okian/fplcache/internal/adapters/scheduler"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithAPIKey sets the shared secret required by RequestSync. An empty key
// rejects every request.
func WithAPIKey(key string) Option {
	return func(s *Service) {
		s.apiKey = key
	}
}

// WithStaleAfter makes reads of an older snapshot trigger a background sync.
// Zero disables it.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.staleAfter = d
		}
	}
}

// WithMaxQueryLimit caps the page size of list queries.
func WithMaxQueryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithSyncOptions passes options to the sync coordinator.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(s *Service) {
		s.syncOpts = append(s.syncOpts, opts...)
	}
}

// WithScheduler enables the timer with the given options.
func WithScheduler(opts ...scheduler.Option) Option {
	return func(s *Service) {
		s.schedule = true
		s.schedulerOpts = append(s.schedulerOpts, opts...)
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
