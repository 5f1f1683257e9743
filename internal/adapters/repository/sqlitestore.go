package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
	"github.com/okian/fplcache/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const driverSQLite = "sqlite"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlHandle struct {
	handle  WriteHandle
	written map[model.Category]bool
	aborted bool
}

// SQLiteStore persists snapshots in a SQLite database. The publish pointer is
// a single row advanced by a conditional update, so it survives restarts.
type SQLiteStore struct {
	settings

	db   *sql.DB
	mu   sync.Mutex
	open map[int64]*sqlHandle
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and migrates it.
// The .sqlite extension is appended to path.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		path = "fplcache"
	}
	db, err := sql.Open(driverSQLite, sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(driverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{
		settings: newSettings(opts),
		db:       db,
		open:     make(map[int64]*sqlHandle),
	}, nil
}

func sqliteDSN(path string) string {
	values := url.Values{}
	values.Set("_fk", "1")

	values.Add("_pragma", "foreign_keys(ON)")
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "synchronous(NORMAL)")
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "temp_store(MEMORY)")

	return fmt.Sprintf("file:%s.sqlite?%s", path, values.Encode())
}

// BeginWrite implements Store. AUTOINCREMENT keeps versions from being reused
// after pruning.
func (s *SQLiteStore) BeginWrite(ctx context.Context, runID string) (WriteHandle, error) {
	created := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, created_at) VALUES (?, ?)`, runID, created.UnixNano())
	if err != nil {
		return WriteHandle{}, s.writeErr("begin", err)
	}
	v, err := res.LastInsertId()
	if err != nil {
		return WriteHandle{}, s.writeErr("begin", err)
	}
	h := WriteHandle{Version: v, RunID: runID, CreatedAt: created}
	s.mu.Lock()
	s.open[v] = &sqlHandle{handle: h, written: make(map[model.Category]bool)}
	s.mu.Unlock()
	return h, nil
}

// Write implements Store. All rows of one call land in one transaction.
func (s *SQLiteStore) Write(ctx context.Context, h WriteHandle, entities []model.Entity) error {
	start := time.Now()
	if len(entities) == 0 {
		return nil
	}
	cat, err := singleCategory(entities)
	if err != nil {
		return err
	}
	if err := s.claim(h, cat); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.writeErr("write", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entities (version, category, id, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return s.writeErr("write", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entities {
		body, err := model.EncodeBody(e)
		if err != nil {
			return s.writeErr("write", fmt.Errorf("encode %s/%d: %w", cat, e.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, h.Version, string(cat), e.ID, body); err != nil {
			return s.writeErr("write", fmt.Errorf("insert %s/%d: %w", cat, e.ID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return s.writeErr("write", err)
	}
	metrics.RecordStoreWriteLatency(driverSQLite, "write", float64(time.Since(start).Milliseconds()))
	return nil
}

// claim marks cat as written under h.
func (s *SQLiteStore) claim(h WriteHandle, cat model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hd, ok := s.open[h.Version]
	if !ok || hd.aborted {
		return fmt.Errorf("%w: version %d", ErrHandleClosed, h.Version)
	}
	if hd.written[cat] {
		return fmt.Errorf("%w: %s in version %d", ErrCategoryWritten, cat, h.Version)
	}
	hd.written[cat] = true
	return nil
}

// Commit implements Store.
func (s *SQLiteStore) Commit(ctx context.Context, h WriteHandle) (model.SnapshotInfo, error) {
	start := time.Now()
	s.mu.Lock()
	hd, ok := s.open[h.Version]
	if !ok || hd.aborted {
		s.mu.Unlock()
		return model.SnapshotInfo{}, fmt.Errorf("%w: version %d", ErrHandleClosed, h.Version)
	}
	delete(s.open, h.Version)
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE publish_pointer SET version = ? WHERE id = 1 AND version < ?`, h.Version, h.Version)
	if err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	} else if n == 0 {
		return model.SnapshotInfo{}, fmt.Errorf("%w: commit %d", ErrStaleCommit, h.Version)
	}

	committed := s.now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE snapshots SET committed_at = ? WHERE version = ? AND committed_at IS NULL`,
		committed.UnixNano(), h.Version); err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_counts (version, category, count)
		 SELECT version, category, COUNT(*) FROM entities WHERE version = ? GROUP BY category`,
		h.Version); err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	}
	info, err := loadInfo(ctx, tx, h.Version)
	if err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	}
	if err := tx.Commit(); err != nil {
		return model.SnapshotInfo{}, s.writeErr("commit", err)
	}
	metrics.RecordStoreWriteLatency(driverSQLite, "commit", float64(time.Since(start).Milliseconds()))
	s.logger.Debug(ctx, "snapshot committed",
		logger.Int64("version", h.Version),
		logger.Int("entities", info.Total()),
	)
	return info, nil
}

// Abort implements Store. Rows are removed by Prune once the grace period ends.
func (s *SQLiteStore) Abort(_ context.Context, h WriteHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hd, ok := s.open[h.Version]
	if !ok {
		return fmt.Errorf("%w: version %d", ErrHandleClosed, h.Version)
	}
	hd.aborted = true
	return nil
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context) (model.SnapshotInfo, error) {
	v, err := livePointer(ctx, s.db)
	if err != nil {
		return model.SnapshotInfo{}, err
	}
	return loadInfo(ctx, s.db, v)
}

// ReadLatest implements Store. Pointer and rows are read in one transaction.
func (s *SQLiteStore) ReadLatest(ctx context.Context, f Filter) ([]model.Entity, model.SnapshotInfo, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.SnapshotInfo{}, s.readErr("read_latest", err)
	}
	defer func() { _ = tx.Rollback() }()

	v, err := livePointer(ctx, tx)
	if err != nil {
		return nil, model.SnapshotInfo{}, err
	}
	info, err := loadInfo(ctx, tx, v)
	if err != nil {
		return nil, model.SnapshotInfo{}, s.readErr("read_latest", err)
	}
	out, err := readEntities(ctx, tx, v, f)
	if err != nil {
		return nil, model.SnapshotInfo{}, s.readErr("read_latest", err)
	}
	metrics.RecordStoreQueryLatency(driverSQLite, "read_latest", float64(time.Since(start).Milliseconds()))
	return out, info, nil
}

// ReadVersion implements Store.
func (s *SQLiteStore) ReadVersion(ctx context.Context, version int64, f Filter) ([]model.Entity, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.readErr("read_version", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := loadInfo(ctx, tx, version); err != nil {
		return nil, err
	}
	out, err := readEntities(ctx, tx, version, f)
	if err != nil {
		return nil, s.readErr("read_version", err)
	}
	metrics.RecordStoreQueryLatency(driverSQLite, "read_version", float64(time.Since(start).Milliseconds()))
	return out, nil
}

// Versions implements Store.
func (s *SQLiteStore) Versions(ctx context.Context) ([]model.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM snapshots WHERE committed_at IS NOT NULL ORDER BY version DESC`)
	if err != nil {
		return nil, s.readErr("versions", err)
	}
	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return nil, s.readErr("versions", err)
		}
		versions = append(versions, v)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.readErr("versions", err)
	}

	out := make([]model.SnapshotInfo, 0, len(versions))
	for _, v := range versions {
		info, err := loadInfo(ctx, s.db, v)
		if errors.Is(err, ErrUnknownVersion) {
			continue // pruned meanwhile
		}
		if err != nil {
			return nil, s.readErr("versions", err)
		}
		out = append(out, info)
	}
	return out, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, created_at, committed_at FROM snapshots`)
	if err != nil {
		return 0, s.writeErr("prune", err)
	}
	var states []versionState
	s.mu.Lock()
	for rows.Next() {
		var (
			st        versionState
			created   int64
			committed sql.NullInt64
		)
		if err := rows.Scan(&st.Version, &created, &committed); err != nil {
			s.mu.Unlock()
			_ = rows.Close()
			return 0, s.writeErr("prune", err)
		}
		st.CreatedAt = fromNanos(created)
		if committed.Valid {
			st.CommittedAt = fromNanos(committed.Int64)
		} else if hd, ok := s.open[st.Version]; ok && !hd.aborted {
			st.InFlight = true
		}
		states = append(states, st)
	}
	s.mu.Unlock()
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, s.writeErr("prune", err)
	}

	live, err := livePointer(ctx, s.db)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return 0, err
	}
	victims := s.retention.Prunable(states, live, s.now())
	if len(victims) > 0 {
		if err := s.deleteVersions(ctx, victims); err != nil {
			return 0, err
		}
		s.mu.Lock()
		for _, v := range victims {
			delete(s.open, v)
		}
		s.mu.Unlock()
		s.logger.Debug(ctx, "pruned snapshots", logger.Int("count", len(victims)), logger.Int64("live", live))
	}

	retained := 0
	for _, st := range states {
		if !st.CommittedAt.IsZero() {
			retained++
		}
	}
	for _, v := range victims {
		for _, st := range states {
			if st.Version == v && !st.CommittedAt.IsZero() {
				retained--
			}
		}
	}
	metrics.RecordSnapshotPruned(len(victims))
	metrics.UpdateSnapshotRetained(retained)
	return len(victims), nil
}

func (s *SQLiteStore) deleteVersions(ctx context.Context, versions []int64) error {
	ph, args := placeholders(versions)
	// Entities and counts go with the snapshot row (ON DELETE CASCADE).
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE version IN (`+ph+`)`, args...); err != nil {
		return s.writeErr("prune", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) writeErr(op string, err error) error {
	metrics.RecordStoreError(driverSQLite, op)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrWrite, op, err)
}

func (s *SQLiteStore) readErr(op string, err error) error {
	metrics.RecordStoreError(driverSQLite, op)
	return fmt.Errorf("%s: %w", op, err)
}

func livePointer(ctx context.Context, q querier) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, `SELECT version FROM publish_pointer WHERE id = 1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read publish pointer: %w", err)
	}
	if v == 0 {
		return 0, ErrNoSnapshot
	}
	return v, nil
}

func loadInfo(ctx context.Context, q querier, version int64) (model.SnapshotInfo, error) {
	var (
		info      = model.SnapshotInfo{Version: version, Counts: make(map[model.Category]int)}
		created   int64
		committed sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT run_id, created_at, committed_at FROM snapshots WHERE version = ?`, version).
		Scan(&info.RunID, &created, &committed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !committed.Valid) {
		return model.SnapshotInfo{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	if err != nil {
		return model.SnapshotInfo{}, err
	}
	info.CreatedAt = fromNanos(created)
	info.CommittedAt = fromNanos(committed.Int64)

	rows, err := q.QueryContext(ctx,
		`SELECT category, count FROM snapshot_counts WHERE version = ?`, version)
	if err != nil {
		return model.SnapshotInfo{}, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return model.SnapshotInfo{}, err
		}
		info.Counts[model.Category(cat)] = n
	}
	return info, rows.Err()
}

func readEntities(ctx context.Context, q querier, version int64, f Filter) ([]model.Entity, error) {
	query := `SELECT id, body FROM entities WHERE version = ? AND category = ?`
	args := []any{version, string(f.Category)}
	if len(f.IDs) > 0 {
		ph, idArgs := placeholders(f.IDs)
		query += ` AND id IN (` + ph + `)`
		args = append(args, idArgs...)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Entity, 0)
	for rows.Next() {
		var (
			id   int64
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		e, err := model.DecodeBody(f.Category, id, body)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%d: %w", f.Category, id, err)
		}
		if f.accept(e) {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

func placeholders(ids []int64) (string, []any) {
	uniq := make([]int64, len(ids))
	copy(uniq, ids)
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	args := make([]any, 0, len(uniq))
	for i, id := range uniq {
		if i > 0 && uniq[i-1] == id {
			continue
		}
		args = append(args, id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(args)), ","), args
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
