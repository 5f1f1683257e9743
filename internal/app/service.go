// Package service wires the sync pipeline and answers the read queries used
// by the HTTP API.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/fplcache/internal/adapters/repository"
	"github.com/okian/fplcache/internal/adapters/scheduler"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/pkg/logger"
)

// ErrStopped is returned by Start once the service has been stopped.
var ErrStopped = errors.New("service stopped")

// Service implements the API dependencies. Stop is terminal: it closes the
// store and the coordinator, so a stopped Service cannot be started again.
// Build a new one over a reopened store instead.
type Service struct {
	mu sync.RWMutex

	// Core components
	store       repository.Store
	fetcher     syncer.Fetcher
	coordinator *syncer.Coordinator
	scheduler   *scheduler.Scheduler

	// Configuration
	apiKey        string
	staleAfter    time.Duration
	maxLimit      int
	schedule      bool
	syncOpts      []syncer.Option
	schedulerOpts []scheduler.Option
	now           func() time.Time

	// State
	started   bool
	stopped   bool
	startedAt time.Time
	stopCh    chan struct{}

	logger logger.Logger
}

// New constructs a Service over store, fetching through fetcher.
func New(store repository.Store, fetcher syncer.Fetcher, opts ...Option) *Service {
	s := &Service{
		store:    store,
		fetcher:  fetcher,
		maxLimit: query.MaxLimit,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		logger:   logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coordinator = syncer.New(fetcher, store, s.syncOpts...)
	return s
}

// Start launches the scheduler when enabled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	s.startedAt = s.now()
	if s.schedule {
		s.scheduler = scheduler.New(s.coordinator, s.schedulerOpts...)
		go s.scheduler.Run(context.WithoutCancel(ctx))
	}
	s.started = true

	info, err := s.store.Latest(ctx)
	switch {
	case errors.Is(err, repository.ErrNoSnapshot):
		s.logger.Info(ctx, "service started, no snapshot published yet", logger.Bool("scheduler", s.schedule))
	case err != nil:
		s.logger.Warn(ctx, "service started, snapshot lookup failed", logger.Error(err))
	default:
		s.logger.Info(ctx, "service started",
			logger.Bool("scheduler", s.schedule),
			logger.Int64("version", info.Version),
			logger.Time("committed_at", info.CommittedAt),
		)
	}
	return nil
}

// Stop shuts down the scheduler and any in-flight cycle, then closes the
// store. Calls after the first return nil.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.scheduler = nil
	}
	if err := s.coordinator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "service stopped")
	return errors.Join(errs...)
}

// Coordinator exposes the sync coordinator, for the CLI.
func (s *Service) Coordinator() *syncer.Coordinator {
	return s.coordinator
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":    s.started,
		"sync_state": s.coordinator.State(),
		"scheduler":  s.schedule,
	}
	if s.started {
		stats["uptime"] = s.now().Sub(s.startedAt).Round(time.Second).String()
	}
	if info, err := s.store.Latest(ctx); err == nil {
		stats["snapshot_version"] = info.Version
		stats["snapshot_committed_at"] = info.CommittedAt
		stats["snapshot_age"] = info.Age(s.now()).Round(time.Second).String()
		stats["entities"] = info.Counts
	}
	if versions, err := s.store.Versions(ctx); err == nil {
		stats["retained_versions"] = len(versions)
	}
	if run, ok := s.coordinator.LastRun(); ok {
		stats["last_run"] = map[string]interface{}{
			"id":      run.ID,
			"trigger": run.Trigger,
			"state":   run.State,
			"outcome": run.Outcome,
			"version": run.Version,
			"skipped": run.Skipped(),
		}
	}
	return stats
}
