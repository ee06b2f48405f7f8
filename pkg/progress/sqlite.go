package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS progress_records (
	namespace   TEXT NOT NULL,
	record_key  TEXT NOT NULL,
	item_key    TEXT NOT NULL,
	locale      TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	summary     TEXT,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (namespace, record_key)
);
CREATE TABLE IF NOT EXISTS progress_sessions (
	namespace     TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	session_start TEXT NOT NULL
);
`

// One statement per mutation; a re-touch as pending bumps the retry count.
const sqliteUpsert = `
INSERT INTO progress_records
	(namespace, record_key, item_key, locale, status, reason, retry_count, summary, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
ON CONFLICT(namespace, record_key) DO UPDATE SET
	status      = excluded.status,
	reason      = excluded.reason,
	summary     = excluded.summary,
	updated_at  = excluded.updated_at,
	retry_count = progress_records.retry_count + CASE WHEN excluded.status = 'pending' THEN 1 ELSE 0 END
`

// SQLiteStore keeps progress in a SQLite database. Every mutation is one
// autocommitted upsert.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create progress schema: %w", err)
	}
	if namespace == "" {
		namespace = "default"
	}

	s := &SQLiteStore{db: db, namespace: namespace}
	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO progress_sessions (namespace, session_id, session_start) VALUES (?, ?, ?)`,
		namespace, uuid.NewString(), nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init progress session: %w", err)
	}
	return s, nil
}

const sqliteColumns = `item_key, locale, status, reason, retry_count, summary, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var r Record
	var status, updated string
	var summary sql.NullString
	if err := row.Scan(&r.Key, &r.Locale, &status, &r.Reason, &r.RetryCount, &summary, &updated); err != nil {
		return Record{}, err
	}
	r.Status = Status(status)
	if summary.Valid && summary.String != "" {
		r.Summary = json.RawMessage(summary.String)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		r.UpdatedAt = ts
	}
	return r, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, key, locale string) (bool, error) {
	r, err := s.Get(ctx, key, locale)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.Status == StatusProcessed, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key, locale string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM progress_records WHERE namespace = ? AND record_key = ?`,
		s.namespace, RecordKey(key, locale))
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		ProgressErrors.WithLabelValues(BackendSQLite, "get").Inc()
		return Record{}, fmt.Errorf("query progress record: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) MarkPending(ctx context.Context, key, locale, reason string) error {
	return s.mark(ctx, key, locale, StatusPending, reason, nil)
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, key, locale string, summary json.RawMessage) error {
	return s.mark(ctx, key, locale, StatusProcessed, "", summary)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, key, locale, reason string) error {
	return s.mark(ctx, key, locale, StatusFailed, reason, nil)
}

func (s *SQLiteStore) mark(ctx context.Context, key, locale string, status Status, reason string, summary json.RawMessage) error {
	start := time.Now()

	var sum any
	if status == StatusProcessed && len(summary) > 0 {
		sum = string(summary)
	}
	_, err := s.db.ExecContext(ctx, sqliteUpsert,
		s.namespace, RecordKey(key, locale), key, locale, string(status), reason, sum,
		nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		ProgressErrors.WithLabelValues(BackendSQLite, string(status)).Inc()
		return fmt.Errorf("upsert progress record: %w", err)
	}

	ProgressOps.WithLabelValues(BackendSQLite, string(status)).Inc()
	ProgressWriteSeconds.WithLabelValues(BackendSQLite).Observe(time.Since(start).Seconds())
	return nil
}

func (s *SQLiteStore) list(ctx context.Context, status Status) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM progress_records WHERE namespace = ? AND status = ? ORDER BY record_key`,
		s.namespace, string(status))
	if err != nil {
		ProgressErrors.WithLabelValues(BackendSQLite, "list").Inc()
		return nil, fmt.Errorf("query progress records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]Record, error) {
	return s.list(ctx, StatusPending)
}

func (s *SQLiteStore) ListFailed(ctx context.Context) ([]Record, error) {
	return s.list(ctx, StatusFailed)
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM progress_records WHERE namespace = ? GROUP BY status`, s.namespace)
	if err != nil {
		return Stats{}, fmt.Errorf("query progress stats: %w", err)
	}
	defer rows.Close()

	var st Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan progress stats: %w", err)
		}
		switch Status(status) {
		case StatusProcessed:
			st.Processed = n
		case StatusPending:
			st.Pending = n
		case StatusFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	st.Total = st.Processed + st.Pending + st.Failed
	if st.Total > 0 {
		st.CompletionRate = float64(st.Processed) / float64(st.Total)
	}
	return st, nil
}

func (s *SQLiteStore) Session(ctx context.Context) (Session, error) {
	var sess Session
	var start string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, session_start FROM progress_sessions WHERE namespace = ?`, s.namespace).
		Scan(&sess.ID, &start)
	if err != nil {
		return Session{}, fmt.Errorf("query progress session: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, start); err == nil {
		sess.Start = ts
	}
	return sess, nil
}

func (s *SQLiteStore) ResetSession(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM progress_records WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("clear progress records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO progress_sessions (namespace, session_id, session_start) VALUES (?, ?, ?)`,
		s.namespace, uuid.NewString(), nowFunc().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("start progress session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		ProgressErrors.WithLabelValues(BackendSQLite, "reset").Inc()
		return fmt.Errorf("commit reset: %w", err)
	}
	ProgressOps.WithLabelValues(BackendSQLite, "reset").Inc()
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
