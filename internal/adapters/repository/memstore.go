package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
	"github.com/okian/fplcache/pkg/metrics"
)

const driverMemory = "memory"

// generation is an immutable committed version.
type generation struct {
	info  model.SnapshotInfo
	byCat map[model.Category][]model.Entity // sorted by id
	index map[model.Category]map[int64]int
}

func (g *generation) read(f Filter) []model.Entity {
	list := g.byCat[f.Category]
	out := make([]model.Entity, 0, len(list))
	if len(f.IDs) == 0 {
		for _, e := range list {
			if f.accept(e) {
				out = append(out, e)
			}
		}
		return out
	}
	idx := g.index[f.Category]
	seen := make(map[int64]bool, len(f.IDs))
	for _, id := range f.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if i, ok := idx[id]; ok && f.accept(list[i]) {
			out = append(out, list[i])
		}
	}
	model.SortByID(out)
	return out
}

type staging struct {
	handle  WriteHandle
	byCat   map[model.Category][]model.Entity
	aborted bool
}

// MemoryStore keeps snapshots in process memory. Entities handed out by
// reads are shared between readers and must be treated as read-only.
type MemoryStore struct {
	settings

	mu          sync.Mutex
	nextVersion int64
	open        map[int64]*staging
	gens        map[int64]*generation

	// live is the publish pointer.
	live atomic.Pointer[generation]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an in-memory snapshot store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		settings: newSettings(opts),
		open:     make(map[int64]*staging),
		gens:     make(map[int64]*generation),
	}
}

// BeginWrite implements Store.
func (s *MemoryStore) BeginWrite(_ context.Context, runID string) (WriteHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVersion++
	h := WriteHandle{Version: s.nextVersion, RunID: runID, CreatedAt: s.now().UTC()}
	s.open[h.Version] = &staging{handle: h, byCat: make(map[model.Category][]model.Entity)}
	return h, nil
}

// Write implements Store.
func (s *MemoryStore) Write(ctx context.Context, h WriteHandle, entities []model.Entity) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	cat, err := singleCategory(entities)
	if err != nil {
		return err
	}
	list := make([]model.Entity, len(entities))
	copy(list, entities)
	model.SortByID(list)

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[h.Version]
	if !ok || st.aborted {
		return fmt.Errorf("%w: version %d", ErrHandleClosed, h.Version)
	}
	if _, dup := st.byCat[cat]; dup {
		return fmt.Errorf("%w: %s in version %d", ErrCategoryWritten, cat, h.Version)
	}
	st.byCat[cat] = list
	metrics.RecordStoreWriteLatency(driverMemory, "write", float64(time.Since(start).Microseconds())/1000)
	return nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, h WriteHandle) (model.SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return model.SnapshotInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[h.Version]
	if !ok || st.aborted {
		return model.SnapshotInfo{}, fmt.Errorf("%w: version %d", ErrHandleClosed, h.Version)
	}
	delete(s.open, h.Version)
	if cur := s.live.Load(); cur != nil && cur.info.Version >= h.Version {
		return model.SnapshotInfo{}, fmt.Errorf("%w: live %d, commit %d", ErrStaleCommit, cur.info.Version, h.Version)
	}

	g := &generation{
		info: model.SnapshotInfo{
			Version:     h.Version,
			RunID:       h.RunID,
			CreatedAt:   h.CreatedAt,
			CommittedAt: s.now().UTC(),
			Counts:      make(map[model.Category]int, len(st.byCat)),
		},
		byCat: st.byCat,
		index: make(map[model.Category]map[int64]int, len(st.byCat)),
	}
	for cat, list := range st.byCat {
		g.info.Counts[cat] = len(list)
		idx := make(map[int64]int, len(list))
		for i, e := range list {
			idx[e.ID] = i
		}
		g.index[cat] = idx
	}
	s.gens[h.Version] = g
	s.live.Store(g)
	s.logger.Debug(ctx, "snapshot committed",
		logger.Int64("version", h.Version),
		logger.Int("entities", g.info.Total()),
	)
	return cloneInfo(g.info), nil
}

// Abort implements Store.
func (s *MemoryStore) Abort(_ context.Context, h WriteHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.open[h.Version]
	if !ok {
		return fmt.Errorf("%w: version %d", ErrHandleClosed, h.Version)
	}
	// Staged data is dropped now; the handle stays until pruned as an orphan.
	st.aborted = true
	st.byCat = nil
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context) (model.SnapshotInfo, error) {
	g := s.live.Load()
	if g == nil {
		return model.SnapshotInfo{}, ErrNoSnapshot
	}
	return cloneInfo(g.info), nil
}

// ReadLatest implements Store. It never blocks on writers.
func (s *MemoryStore) ReadLatest(ctx context.Context, f Filter) ([]model.Entity, model.SnapshotInfo, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, model.SnapshotInfo{}, err
	}
	g := s.live.Load()
	if g == nil {
		return nil, model.SnapshotInfo{}, ErrNoSnapshot
	}
	out := g.read(f)
	metrics.RecordStoreQueryLatency(driverMemory, "read_latest", float64(time.Since(start).Microseconds())/1000)
	return out, cloneInfo(g.info), nil
}

// ReadVersion implements Store.
func (s *MemoryStore) ReadVersion(ctx context.Context, version int64, f Filter) ([]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	g, ok := s.gens[version]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	return g.read(f), nil
}

// Versions implements Store.
func (s *MemoryStore) Versions(_ context.Context) ([]model.SnapshotInfo, error) {
	s.mu.Lock()
	out := make([]model.SnapshotInfo, 0, len(s.gens))
	for _, g := range s.gens {
		out = append(out, cloneInfo(g.info))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live int64
	if g := s.live.Load(); g != nil {
		live = g.info.Version
	}
	states := make([]versionState, 0, len(s.gens)+len(s.open))
	for v, g := range s.gens {
		states = append(states, versionState{Version: v, CreatedAt: g.info.CreatedAt, CommittedAt: g.info.CommittedAt})
	}
	for v, st := range s.open {
		states = append(states, versionState{Version: v, CreatedAt: st.handle.CreatedAt, InFlight: !st.aborted})
	}

	victims := s.retention.Prunable(states, live, s.now())
	for _, v := range victims {
		delete(s.gens, v)
		delete(s.open, v)
	}
	if len(victims) > 0 {
		s.logger.Debug(ctx, "pruned snapshots", logger.Int("count", len(victims)), logger.Int64("live", live))
	}
	metrics.RecordSnapshotPruned(len(victims))
	metrics.UpdateSnapshotRetained(len(s.gens))
	return len(victims), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func singleCategory(entities []model.Entity) (model.Category, error) {
	cat := entities[0].Category
	for _, e := range entities[1:] {
		if e.Category != cat {
			return "", fmt.Errorf("%w: %s and %s", ErrMixedCategories, cat, e.Category)
		}
	}
	return cat, nil
}

func cloneInfo(in model.SnapshotInfo) model.SnapshotInfo {
	in.Counts = maps.Clone(in.Counts)
	return in
}
