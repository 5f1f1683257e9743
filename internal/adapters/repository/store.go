// Package repository stores versioned snapshots of normalized FPL entities
// behind a publish pointer.
//
// A sync cycle stages a new version with BeginWrite and Write, then makes it
// visible with a single Commit that advances the pointer. Readers resolve the
// pointer once per call and never observe a half-written version.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/fplcache/internal/domain/model"
)

// WriteHandle identifies a staged, uncommitted version.
type WriteHandle struct {
	Version   int64
	RunID     string
	CreatedAt time.Time
}

// Filter narrows a read to one category. Empty IDs means every entity;
// a nil Match accepts everything.
type Filter struct {
	Category model.Category
	IDs      []int64
	Match    func(model.Entity) bool
}

func (f Filter) accept(e model.Entity) bool {
	return f.Match == nil || f.Match(e)
}

// Store is the snapshot store contract.
type Store interface {
	// BeginWrite allocates the next version. Versions are never reused.
	BeginWrite(ctx context.Context, runID string) (WriteHandle, error)
	// Write stages the entities of one category. Each category may be written once.
	Write(ctx context.Context, h WriteHandle, entities []model.Entity) error
	// Commit publishes the staged version. It fails with ErrStaleCommit when a
	// version not older than h is already live and ErrHandleClosed when h was
	// committed or aborted.
	Commit(ctx context.Context, h WriteHandle) (model.SnapshotInfo, error)
	// Abort drops a staged version.
	Abort(ctx context.Context, h WriteHandle) error

	// Latest returns the live snapshot or ErrNoSnapshot.
	Latest(ctx context.Context) (model.SnapshotInfo, error)
	// ReadLatest reads from the live snapshot, ordered by id.
	ReadLatest(ctx context.Context, f Filter) ([]model.Entity, model.SnapshotInfo, error)
	// ReadVersion reads from a retained committed version or fails with ErrUnknownVersion.
	ReadVersion(ctx context.Context, version int64, f Filter) ([]model.Entity, error)
	// Versions lists retained committed snapshots, newest first.
	Versions(ctx context.Context) ([]model.SnapshotInfo, error)
	// Prune applies retention and returns how many versions were removed.
	Prune(ctx context.Context) (int, error)

	Close() error
}

// Open returns the store for driver: "memory" or "sqlite". path is only used
// by sqlite.
func Open(driver, path string, opts ...Option) (Store, error) {
	switch driver {
	case driverMemory, "":
		return NewMemoryStore(opts...), nil
	case driverSQLite:
		s, err := NewSQLiteStore(path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStore, driver)
	}
}
