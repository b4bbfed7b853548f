// ABOUTME: SQLite storage implementation for the sample queue and sessions
// ABOUTME: Provides durable local persistence using pure Go SQLite driver

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/harper/walktrack/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteQueue implements Repository with a local SQLite database.
type SQLiteQueue struct {
	db   *sql.DB
	path string
	mu   gosync.Mutex // serializes state transitions
}

// Compile-time check that SQLiteQueue implements Repository.
var _ Repository = (*SQLiteQueue)(nil)

// DefaultDataDir returns the XDG data directory for walktrack.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "walktrack")
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	return filepath.Join(DefaultDataDir(), "walktrack.db")
}

// NewSQLiteQueue opens the database at path, creating the directory, file and
// schema when missing.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // 0750 is appropriate for user data directory
		return nil, fmt.Errorf("create directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{db: db, path: path}
	if err := q.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return q, nil
}

// migrate creates or updates the database schema.
func (q *SQLiteQueue) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			active INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS samples (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			accuracy REAL NOT NULL,
			speed REAL NOT NULL,
			captured_at INTEGER NOT NULL,
			sync_state TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_samples_session_state ON samples(session_id, sync_state, captured_at);
		CREATE INDEX IF NOT EXISTS idx_samples_state ON samples(sync_state);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (q *SQLiteQueue) Path() string {
	return q.path
}

// Close closes the database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

const sampleColumns = `id, session_id, latitude, longitude, accuracy, speed, captured_at,
	sync_state, attempts, next_attempt_at, created_at`

// Append inserts a sample, ignoring IDs that already exist.
func (q *SQLiteQueue) Append(ctx context.Context, s *models.LocationSample) error {
	if err := models.ValidateSessionID(s.SessionID); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO samples (`+sampleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		s.ID.String(), s.SessionID, s.Latitude, s.Longitude, s.Accuracy, s.Speed,
		toNanos(s.CapturedAt), s.SyncState.String(), s.Attempts, toNanos(s.NextAttemptAt),
		toNanos(s.CreatedAt),
	)
	return wrapStorage("insert sample", err)
}

// PendingFor returns Pending samples of a session in capture order.
func (q *SQLiteQueue) PendingFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error) {
	return q.query(ctx,
		`SELECT `+sampleColumns+` FROM samples
		 WHERE session_id = ? AND sync_state = 'pending'
		 ORDER BY captured_at, id`,
		sessionID,
	)
}

// AllFor returns every sample of a session in capture order.
func (q *SQLiteQueue) AllFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error) {
	return q.query(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE session_id = ? ORDER BY captured_at, id`,
		sessionID,
	)
}

// ClaimPending marks the due prefix of the session's Pending samples InFlight.
func (q *SQLiteQueue) ClaimPending(ctx context.Context, sessionID string, limit int, now time.Time) ([]*models.LocationSample, error) {
	if limit <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStorage("begin claim", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inFlight int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM samples WHERE session_id = ? AND sync_state = 'in_flight'`,
		sessionID,
	).Scan(&inFlight); err != nil {
		return nil, wrapStorage("count in-flight", err)
	}
	if inFlight > 0 {
		return nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+sampleColumns+` FROM samples
		 WHERE session_id = ? AND sync_state = 'pending'
		 ORDER BY captured_at, id LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, wrapStorage("query pending", err)
	}
	candidates, err := scanSamples(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	var claimed []*models.LocationSample
	for _, s := range candidates {
		if !due(s, now) {
			break
		}
		claimed = append(claimed, s)
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	for _, s := range claimed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE samples SET sync_state = 'in_flight' WHERE id = ?`, s.ID.String(),
		); err != nil {
			return nil, wrapStorage("claim sample", err)
		}
		s.SyncState = models.InFlight
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapStorage("commit claim", err)
	}
	return claimed, nil
}

// MarkSynced moves Pending or InFlight samples to Synced.
func (q *SQLiteQueue) MarkSynced(ctx context.Context, ids []uuid.UUID) error {
	return q.updateEach(ctx, "mark synced", ids,
		`UPDATE samples SET sync_state = 'synced', next_attempt_at = 0
		 WHERE id = ? AND sync_state IN ('pending', 'in_flight')`)
}

// MarkRejected moves Pending or InFlight samples to Failed.
func (q *SQLiteQueue) MarkRejected(ctx context.Context, ids []uuid.UUID) error {
	return q.updateEach(ctx, "mark rejected", ids,
		`UPDATE samples SET sync_state = 'failed', next_attempt_at = 0
		 WHERE id = ? AND sync_state IN ('pending', 'in_flight')`)
}

// MarkFailed increments attempts and reschedules or fails each sample.
func (q *SQLiteQueue) MarkFailed(ctx context.Context, ids []uuid.UUID, opts FailOptions) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("begin mark failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		var state string
		s := &models.LocationSample{ID: id}
		err := tx.QueryRowContext(ctx,
			`SELECT sync_state, attempts FROM samples WHERE id = ?`, id.String(),
		).Scan(&state, &s.Attempts)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return wrapStorage("read sample", err)
		}
		from, err := models.ParseSyncState(state)
		if err != nil {
			return wrapStorage("read sample", err)
		}
		opts.next(s)
		if !from.CanTransition(s.SyncState) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE samples SET sync_state = ?, attempts = ?, next_attempt_at = ? WHERE id = ?`,
			s.SyncState.String(), s.Attempts, toNanos(s.NextAttemptAt), id.String(),
		); err != nil {
			return wrapStorage("mark failed", err)
		}
	}
	return wrapStorage("commit mark failed", tx.Commit())
}

// ResetFailed returns a session's Failed samples to Pending.
func (q *SQLiteQueue) ResetFailed(ctx context.Context, sessionID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		`UPDATE samples SET sync_state = 'pending', attempts = 0, next_attempt_at = 0
		 WHERE session_id = ? AND sync_state = 'failed'`,
		sessionID,
	)
	if err != nil {
		return 0, wrapStorage("reset failed", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapStorage("reset failed", err)
}

// RecoverInFlight returns stranded InFlight samples to Pending.
func (q *SQLiteQueue) RecoverInFlight(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		`UPDATE samples SET sync_state = 'pending' WHERE sync_state = 'in_flight'`)
	if err != nil {
		return 0, wrapStorage("recover in-flight", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapStorage("recover in-flight", err)
}

// SessionsWithPending lists sessions with Pending samples.
func (q *SQLiteQueue) SessionsWithPending(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM samples WHERE sync_state = 'pending' ORDER BY session_id`)
	if err != nil {
		return nil, wrapStorage("query sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage("scan session id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapStorage("iterate sessions", rows.Err())
}

// Counts tallies a session's samples by state.
func (q *SQLiteQueue) Counts(ctx context.Context, sessionID string) (models.StateCounts, error) {
	var counts models.StateCounts
	rows, err := q.db.QueryContext(ctx,
		`SELECT sync_state, COUNT(*) FROM samples WHERE session_id = ? GROUP BY sync_state`,
		sessionID,
	)
	if err != nil {
		return counts, wrapStorage("count samples", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return counts, wrapStorage("scan counts", err)
		}
		state, err := models.ParseSyncState(name)
		if err != nil {
			return counts, err
		}
		counts.Add(state, n)
	}
	return counts, wrapStorage("iterate counts", rows.Err())
}

// CreateSession inserts a session. An existing id is reopened with the
// given active flag and end time; its start time is kept.
func (q *SQLiteQueue) CreateSession(ctx context.Context, s *models.TrackingSession) error {
	if err := models.ValidateSessionID(s.ID); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, ended_at, active) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET ended_at = excluded.ended_at, active = excluded.active`,
		s.ID, toNanos(s.StartedAt), nullableNanos(s.EndedAt), boolToInt(s.Active),
	)
	return wrapStorage("insert session", err)
}

// CloseSession marks a session inactive.
func (q *SQLiteQueue) CloseSession(ctx context.Context, id string, endedAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, ended_at = ? WHERE id = ?`,
		toNanos(endedAt), id,
	)
	if err != nil {
		return wrapStorage("close session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStorage("close session", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession retrieves a session by id.
func (q *SQLiteQueue) GetSession(ctx context.Context, id string) (*models.TrackingSession, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, active FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapStorage("scan session", err)
	}
	return s, nil
}

// ListSessions returns all sessions, newest first.
func (q *SQLiteQueue) ListSessions(ctx context.Context) ([]*models.TrackingSession, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, active FROM sessions ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, wrapStorage("query sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.TrackingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrapStorage("scan session", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, wrapStorage("iterate sessions", rows.Err())
}

func (q *SQLiteQueue) updateEach(ctx context.Context, op string, ids []uuid.UUID, stmt string) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStorage("begin "+op, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, stmt, id.String()); err != nil {
			return wrapStorage(op, err)
		}
	}
	return wrapStorage("commit "+op, tx.Commit())
}

func (q *SQLiteQueue) query(ctx context.Context, stmt string, args ...any) ([]*models.LocationSample, error) {
	rows, err := q.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, wrapStorage("query samples", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSamples(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSamples(rows *sql.Rows) ([]*models.LocationSample, error) {
	samples := []*models.LocationSample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, wrapStorage("iterate samples", rows.Err())
}

func scanSample(row scanner) (*models.LocationSample, error) {
	var idStr, state string
	var captured, next, created int64
	var s models.LocationSample
	err := row.Scan(&idStr, &s.SessionID, &s.Latitude, &s.Longitude, &s.Accuracy, &s.Speed,
		&captured, &state, &s.Attempts, &next, &created)
	if err != nil {
		return nil, wrapStorage("scan sample", err)
	}
	s.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse sample id %q: %w", idStr, err)
	}
	s.SyncState, err = models.ParseSyncState(state)
	if err != nil {
		return nil, err
	}
	s.CapturedAt = fromNanos(captured)
	s.NextAttemptAt = fromNanos(next)
	s.CreatedAt = fromNanos(created)
	return &s, nil
}

func scanSession(row scanner) (*models.TrackingSession, error) {
	var s models.TrackingSession
	var started int64
	var ended sql.NullInt64
	var active int
	if err := row.Scan(&s.ID, &started, &ended, &active); err != nil {
		return nil, err
	}
	s.StartedAt = fromNanos(started)
	if ended.Valid {
		t := fromNanos(ended.Int64)
		s.EndedAt = &t
	}
	s.Active = active != 0
	return &s, nil
}

// toNanos stores times as UTC unix nanoseconds so ordering is numeric.
// The zero time maps to 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
