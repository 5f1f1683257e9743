// Package scheduler fires timer-driven sync triggers and samples runtime
// gauges in the background.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/pkg/logger"
	"github.com/okian/fplcache/pkg/metrics"
)

// DefaultInterval is the time between timer triggers.
const DefaultInterval = 8 * time.Hour

const defaultStatsInterval = 10 * time.Second

// Syncer starts sync cycles.
type Syncer interface {
	Start(ctx context.Context, trigger model.Trigger) (model.SyncRun, error)
}

// Scheduler triggers a sync on every tick. A tick that finds a cycle already
// running is dropped, not queued.
type Scheduler struct {
	syncer        Syncer
	interval      time.Duration
	onStart       bool
	statsInterval time.Duration

	shutdown chan struct{}
	done     chan struct{}
	lastGC   uint32

	logger logger.Logger
}

// New constructs a Scheduler.
func New(s Syncer, opts ...Option) *Scheduler {
	sch := &Scheduler{
		syncer:        s,
		interval:      DefaultInterval,
		statsInterval: metrics.RefreshInterval(),
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger.Get().Named("scheduler"),
	}
	for _, opt := range opts {
		opt(sch)
	}
	if sch.statsInterval <= 0 {
		sch.statsInterval = defaultStatsInterval
	}
	return sch
}

// Run blocks until ctx is canceled or Shutdown is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	stats := time.NewTicker(s.statsInterval)
	defer stats.Stop()

	s.logger.Info(ctx, "scheduler started",
		logger.Duration("interval", s.interval),
		logger.Bool("on_start", s.onStart),
	)
	if s.onStart {
		s.fire(ctx)
	}
	s.sampleRuntime()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.fire(ctx)
		case <-stats.C:
			s.sampleRuntime()
		}
	}
}

// Shutdown stops the loop and waits for it to exit.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	close(s.shutdown)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	run, err := s.syncer.Start(ctx, model.TriggerTimer)
	switch {
	case errors.Is(err, syncer.ErrSyncAlreadyInProgress):
		s.logger.Info(ctx, "timer tick skipped, sync already running")
	case err != nil:
		s.logger.Warn(ctx, "timer trigger failed", logger.Error(err))
	default:
		s.logger.Debug(ctx, "timer triggered sync", logger.String("run_id", run.ID))
	}
}

func (s *Scheduler) sampleRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC != s.lastGC {
		metrics.RecordSystemGCPauseTime(float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6)
		s.lastGC = ms.NumGC
	}
}
