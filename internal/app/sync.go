package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/query"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/pkg/logger"
)

// ErrUnauthorized is returned when a sync request carries a missing or wrong key.
var ErrUnauthorized = errors.New("unauthorized")

// RequestSync authenticates apiKey and starts a background cycle. No run is
// created when authentication fails.
func (s *Service) RequestSync(ctx context.Context, apiKey string) (model.SyncRun, error) {
	if s.apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.apiKey)) != 1 {
		s.logger.Warn(ctx, "sync request rejected, bad api key")
		return model.SyncRun{}, ErrUnauthorized
	}
	return s.TriggerSync(ctx, model.TriggerAPI)
}

// TriggerSync starts a background cycle for an internal caller.
func (s *Service) TriggerSync(ctx context.Context, trigger model.Trigger) (model.SyncRun, error) {
	run, err := s.coordinator.Start(ctx, trigger)
	if err != nil {
		return model.SyncRun{}, err
	}
	s.logger.Info(ctx, "sync accepted", logger.String("run_id", run.ID), logger.String("trigger", string(trigger)))
	return run, nil
}

// SyncRun returns one remembered run.
func (s *Service) SyncRun(_ context.Context, id string) (model.SyncRun, error) {
	run, err := s.coordinator.LookupRun(id)
	if errors.Is(err, syncer.ErrRunNotFound) {
		return model.SyncRun{}, fmt.Errorf("%w: sync run %s", query.ErrNotFound, id)
	}
	return run, err
}

// SyncRuns returns remembered runs, newest first.
func (s *Service) SyncRuns(_ context.Context) []model.SyncRun {
	return s.coordinator.Runs()
}

// maybeRefresh starts a background cycle when the live snapshot is older than
// staleAfter, or missing. Rejections are ignored.
func (s *Service) maybeRefresh(ctx context.Context, info model.SnapshotInfo, missing bool) {
	if s.staleAfter <= 0 || s.coordinator.State() != model.StateIdle {
		return
	}
	if !missing && info.Age(s.now()) <= s.staleAfter {
		return
	}
	run, err := s.coordinator.Start(context.WithoutCancel(ctx), model.TriggerStaleRead)
	if err != nil {
		if !errors.Is(err, syncer.ErrSyncAlreadyInProgress) && !errors.Is(err, syncer.ErrShuttingDown) {
			s.logger.Warn(ctx, "stale read refresh failed", logger.Error(err))
		}
		return
	}
	s.logger.Info(ctx, "stale snapshot, refresh started",
		logger.String("run_id", run.ID),
		logger.Int64("version", info.Version),
		logger.Duration("age", info.Age(s.now())),
	)
}
