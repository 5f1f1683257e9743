// Package syncer runs sync cycles: fetch every configured category, normalize
// it, stage it under one write handle and publish it with a single commit.
//
// At most one cycle runs at a time. Triggers that arrive while a cycle is in
// progress are rejected, never queued.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/okian/fplcache/internal/adapters/repository"
	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/transform"
	"github.com/okian/fplcache/pkg/logger"
	"github.com/okian/fplcache/pkg/metrics"
	"github.com/okian/fplcache/pkg/tracing"
)

// Defaults.
const (
	DefaultTimeout     = 5 * time.Minute
	DefaultHistorySize = 50
)

// Gate values.
const (
	gateIdle int32 = iota
	gateRunning
	gateCommitting
)

// Fetcher returns the raw records of one category.
type Fetcher interface {
	FetchCategory(ctx context.Context, category model.Category) ([]model.RawRecord, error)
}

// Store is the subset of the snapshot store a cycle writes through.
type Store interface {
	BeginWrite(ctx context.Context, runID string) (repository.WriteHandle, error)
	Write(ctx context.Context, h repository.WriteHandle, entities []model.Entity) error
	Commit(ctx context.Context, h repository.WriteHandle) (model.SnapshotInfo, error)
	Abort(ctx context.Context, h repository.WriteHandle) error
	ReadLatest(ctx context.Context, f repository.Filter) ([]model.Entity, model.SnapshotInfo, error)
	Prune(ctx context.Context) (int, error)
}

// Coordinator owns the sync gate and the run history.
type Coordinator struct {
	fetcher      Fetcher
	store        Store
	categories   []model.Category
	timeout      time.Duration
	carryForward bool
	historySize  int
	now          func() time.Time
	newID        func() string
	logger       logger.Logger

	gate atomic.Int32

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	history []*model.SyncRun // oldest first
}

// New constructs a Coordinator.
func New(fetcher Fetcher, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:      fetcher,
		store:        store,
		categories:   model.FetchedCategories(),
		timeout:      DefaultTimeout,
		carryForward: true,
		historySize:  DefaultHistorySize,
		now:          time.Now,
		newID:        uuid.NewString,
		logger:       logger.Get().Named("syncer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.life, c.cancel = context.WithCancel(context.Background())
	return c
}

// State reports the gate state.
func (c *Coordinator) State() model.SyncState {
	switch c.gate.Load() {
	case gateRunning:
		return model.StateRunning
	case gateCommitting:
		return model.StateCommitting
	default:
		return model.StateIdle
	}
}

// Start acquires the gate and runs a cycle in the background. The cycle is
// bound to the coordinator lifetime, not to ctx.
func (c *Coordinator) Start(ctx context.Context, trigger model.Trigger) (model.SyncRun, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.SyncRun{}, ErrShuttingDown
	}
	if !c.acquire(ctx, trigger) {
		c.mu.Unlock()
		return model.SyncRun{}, ErrSyncAlreadyInProgress
	}
	run := c.record(trigger)
	snapshot := run.Clone()
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.execute(c.life, run)
	}()
	return snapshot, nil
}

// Run acquires the gate and runs a cycle synchronously. The cycle stops when
// ctx is done or the coordinator shuts down.
func (c *Coordinator) Run(ctx context.Context, trigger model.Trigger) (model.SyncRun, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.SyncRun{}, ErrShuttingDown
	}
	if !c.acquire(ctx, trigger) {
		c.mu.Unlock()
		return model.SyncRun{}, ErrSyncAlreadyInProgress
	}
	run := c.record(trigger)
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	err := c.execute(ctx, run)
	return c.snapshot(run), err
}

// LookupRun returns a remembered run by id.
func (c *Coordinator) LookupRun(id string) (model.SyncRun, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].ID == id {
			return c.history[i].Clone(), nil
		}
	}
	return model.SyncRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

// Runs returns remembered runs, newest first.
func (c *Coordinator) Runs() []model.SyncRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.SyncRun, 0, len(c.history))
	for i := len(c.history) - 1; i >= 0; i-- {
		out = append(out, c.history[i].Clone())
	}
	return out
}

// LastRun returns the most recent run, if any.
func (c *Coordinator) LastRun() (model.SyncRun, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return model.SyncRun{}, false
	}
	return c.history[len(c.history)-1].Clone(), true
}

// Shutdown rejects new triggers, cancels the in-flight cycle and waits for it
// to return or for ctx to be done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire is called with mu held.
func (c *Coordinator) acquire(ctx context.Context, trigger model.Trigger) bool {
	if c.gate.CompareAndSwap(gateIdle, gateRunning) {
		metrics.UpdateSyncInProgress(true)
		return true
	}
	metrics.RecordSyncRejected(string(trigger))
	c.logger.Debug(ctx, "sync trigger rejected", logger.String("trigger", string(trigger)))
	return false
}

func (c *Coordinator) release() {
	c.gate.Store(gateIdle)
	metrics.UpdateSyncInProgress(false)
}

// record is called with mu held.
func (c *Coordinator) record(trigger model.Trigger) *model.SyncRun {
	run := &model.SyncRun{
		ID:         c.newID(),
		Trigger:    trigger,
		State:      model.StateRunning,
		StartedAt:  c.now().UTC(),
		Categories: make(map[model.Category]model.CategoryReport),
	}
	c.history = append(c.history, run)
	if over := len(c.history) - c.historySize; over > 0 {
		c.history = append(c.history[:0:0], c.history[over:]...)
	}
	return run
}

func (c *Coordinator) update(run *model.SyncRun, fn func(r *model.SyncRun)) {
	c.mu.Lock()
	fn(run)
	c.mu.Unlock()
}

func (c *Coordinator) snapshot(run *model.SyncRun) model.SyncRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return run.Clone()
}

// fetched is the outcome of fetching and normalizing one category.
type fetched struct {
	category model.Category
	records  int
	entities []model.Entity
	skipped  []*transform.TransformError
	err      error
}

func (c *Coordinator) execute(parent context.Context, run *model.SyncRun) (err error) {
	defer c.release()
	start := time.Now()

	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()
	ctx, span := tracing.Start(ctx, "sync.cycle",
		attribute.String("sync.run_id", run.ID),
		attribute.String("sync.trigger", string(run.Trigger)),
	)
	defer span.End()

	log := c.logger
	log.Info(ctx, "sync started",
		logger.String("run_id", run.ID),
		logger.String("trigger", string(run.Trigger)),
	)

	defer func() {
		c.update(run, func(r *model.SyncRun) {
			r.EndedAt = c.now().UTC()
			if err != nil {
				r.State = model.StateFailed
				r.Outcome = model.OutcomeFailure
				r.Error = err.Error()
			}
		})
		final := c.snapshot(run)
		metrics.RecordSyncRun(string(final.Trigger), string(final.Outcome))
		metrics.RecordSyncDuration(string(final.Outcome), time.Since(start).Seconds())
		span.SetAttributes(attribute.String("sync.outcome", string(final.Outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error(ctx, "sync failed",
				logger.String("run_id", final.ID),
				logger.Duration("elapsed", time.Since(start)),
				logger.Error(err),
			)
			return
		}
		span.SetAttributes(attribute.Int64("snapshot.version", final.Version))
		log.Info(ctx, "sync finished",
			logger.String("run_id", final.ID),
			logger.String("outcome", string(final.Outcome)),
			logger.Int64("version", final.Version),
			logger.Int("skipped", final.Skipped()),
			logger.Duration("elapsed", time.Since(start)),
		)
	}()

	results := c.collect(ctx)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	produced := false
	for _, res := range results {
		if res.err == nil && len(res.entities) > 0 {
			produced = true
			break
		}
	}
	if !produced {
		c.update(run, func(r *model.SyncRun) {
			for _, res := range results {
				r.Categories[res.category] = report(res)
			}
		})
		return ErrNoData
	}

	h, err := c.store.BeginWrite(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	info, err := c.publish(ctx, run, h, results)
	if err != nil {
		if aerr := c.store.Abort(context.WithoutCancel(ctx), h); aerr != nil && !errors.Is(aerr, repository.ErrHandleClosed) {
			log.Warn(ctx, "abort write handle", logger.Int64("version", h.Version), logger.Error(aerr))
		}
		return err
	}

	c.update(run, func(r *model.SyncRun) {
		r.Version = info.Version
		r.State = model.StateDone
		r.Outcome = model.OutcomeSuccess
		for _, rep := range r.Categories {
			if rep.Error != "" || rep.Skipped > 0 {
				r.Outcome = model.OutcomePartial
				break
			}
		}
	})
	metrics.UpdateSnapshotVersion(info.Version, info.CommittedAt)
	for cat, n := range info.Counts {
		metrics.UpdateEntitiesPublished(string(cat), n)
	}

	if n, perr := c.store.Prune(context.WithoutCancel(ctx)); perr != nil {
		log.Warn(ctx, "prune snapshots", logger.Error(perr))
	} else if n > 0 {
		log.Debug(ctx, "pruned snapshots", logger.Int("count", n))
	}
	return nil
}

// collect fetches and normalizes every category concurrently. A failing
// category never cancels the others.
func (c *Coordinator) collect(ctx context.Context) []fetched {
	results := make([]fetched, len(c.categories))
	var g errgroup.Group
	for i, cat := range c.categories {
		g.Go(func() error {
			results[i] = c.fetchOne(ctx, cat)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) fetchOne(ctx context.Context, cat model.Category) fetched {
	out := fetched{category: cat}
	records, err := c.fetcher.FetchCategory(ctx, cat)
	if err != nil {
		out.err = err
		metrics.RecordCategoryFailure(string(cat), "fetch")
		c.logger.Warn(ctx, "fetch category failed", logger.String("category", string(cat)), logger.Error(err))
		return out
	}
	out.records = len(records)
	res, err := transform.Normalize(cat, records)
	if err != nil {
		out.err = err
		metrics.RecordCategoryFailure(string(cat), "transform")
		return out
	}
	out.entities = res.Entities
	out.skipped = res.Skipped
	if len(res.Skipped) > 0 {
		metrics.RecordRecordsSkipped(string(cat), len(res.Skipped))
		for _, terr := range res.Skipped {
			c.logger.Debug(ctx, "record skipped", logger.String("category", string(cat)), logger.Error(terr))
		}
	}
	if len(res.Entities) == 0 {
		out.err = fmt.Errorf("%w: %s", ErrNoData, cat)
		metrics.RecordCategoryFailure(string(cat), "empty")
	}
	return out
}

// publish stages every category under h and commits it.
func (c *Coordinator) publish(ctx context.Context, run *model.SyncRun, h repository.WriteHandle, results []fetched) (model.SnapshotInfo, error) {
	staged := make(map[model.Category][]model.Entity, len(results)+1)
	reports := make(map[model.Category]model.CategoryReport, len(results)+1)

	for _, res := range results {
		rep := report(res)
		list := res.entities
		if res.err != nil {
			list = nil
			if c.carryForward {
				carried, err := c.carry(ctx, res.category)
				if err != nil {
					return model.SnapshotInfo{}, err
				}
				if len(carried) > 0 {
					list = carried
					rep.CarriedForward = true
				}
			}
		}
		if len(list) > 0 {
			if err := c.store.Write(ctx, h, list); err != nil {
				return model.SnapshotInfo{}, fmt.Errorf("write %s: %w", res.category, err)
			}
			rep.Published = len(list)
			staged[res.category] = list
		}
		reports[res.category] = rep
	}

	teams, fixtures := staged[model.Teams], staged[model.Fixtures]
	var table []model.Entity
	rep := model.CategoryReport{}
	switch {
	case len(teams) > 0 && len(fixtures) > 0:
		table = transform.Standings(teams, fixtures)
		rep.Fetched = len(table)
	case c.carryForward:
		carried, err := c.carry(ctx, model.Standings)
		if err != nil {
			return model.SnapshotInfo{}, err
		}
		table = carried
		rep.CarriedForward = len(carried) > 0
	}
	if len(table) > 0 {
		if err := c.store.Write(ctx, h, table); err != nil {
			return model.SnapshotInfo{}, fmt.Errorf("write %s: %w", model.Standings, err)
		}
		rep.Published = len(table)
		reports[model.Standings] = rep
	}

	c.update(run, func(r *model.SyncRun) {
		r.Categories = reports
		r.State = model.StateCommitting
	})
	c.gate.Store(gateCommitting)

	info, err := c.store.Commit(ctx, h)
	if err != nil {
		return model.SnapshotInfo{}, fmt.Errorf("commit: %w", err)
	}
	return info, nil
}

// carry reads a category from the live snapshot. Nothing published yet is not
// an error.
func (c *Coordinator) carry(ctx context.Context, cat model.Category) ([]model.Entity, error) {
	list, info, err := c.store.ReadLatest(ctx, repository.Filter{Category: cat})
	switch {
	case errors.Is(err, repository.ErrNoSnapshot):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("carry forward %s: %w", cat, err)
	}
	if len(list) > 0 {
		c.logger.Info(ctx, "category carried forward",
			logger.String("category", string(cat)),
			logger.Int64("from_version", info.Version),
			logger.Int("entities", len(list)),
		)
	}
	return list, nil
}

func report(res fetched) model.CategoryReport {
	rep := model.CategoryReport{Fetched: res.records, Skipped: len(res.skipped)}
	if res.err != nil {
		rep.Error = res.err.Error()
	}
	return rep
}
