// Package ledger records which works have been fully materialized on disk.
//
// An id is inserted only after every byte of the work has been written, so
// presence in the ledger is the single source of truth for "already synced".
// The store is backed by SQLite through the ncruces/go-sqlite3 driver.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"pixivsync/pkg/errors"
)

// Kind selects the logical table an id lives in.
type Kind string

const (
	KindIllustration Kind = "illustration"
	KindNovel        Kind = "novel"
)

func (k Kind) table() (string, error) {
	switch k {
	case KindIllustration:
		return "illustration", nil
	case KindNovel:
		return "novel", nil
	default:
		return "", fmt.Errorf("unknown ledger kind %q", string(k))
	}
}

// Entry is one committed work. Series fields are empty for standalone novels
// and illustrations.
type Entry struct {
	Kind        Kind
	ID          int64
	Title       string
	OwnerID     int64
	WorkType    string
	SeriesID    int64
	SeriesTitle string
	CoverURL    string
	CreatedAt   time.Time
	RecordedAt  time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS illustration (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    type TEXT NOT NULL DEFAULT 'illust',
    created_at INTEGER,
    recorded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS novel (
    id INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    series_id INTEGER,
    series_title TEXT,
    cover_url TEXT,
    created_at INTEGER,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_illustration_user ON illustration(user_id);
CREATE INDEX IF NOT EXISTS idx_novel_user ON novel(user_id);
CREATE INDEX IF NOT EXISTS idx_novel_series ON novel(series_id);
`

// Store owns the database handle for one process run.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	locks map[lockKey]*keyLock
}

type lockKey struct {
	kind Kind
	id   int64
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Persistence("open ledger", fmt.Errorf("failed to create ledger directory: %w", err))
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Persistence("open ledger", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Persistence("open ledger", fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Persistence("open ledger", fmt.Errorf("failed to create schema: %w", err))
	}

	return &Store{
		db:    db,
		path:  path,
		locks: make(map[lockKey]*keyLock),
	}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.db.Close(); err != nil {
		return errors.Persistence("close ledger", err)
	}
	s.db = nil
	return nil
}

// Lock serializes work on one id. The returned func releases it.
func (s *Store) Lock(kind Kind, id int64) func() {
	key := lockKey{kind: kind, id: id}

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Session is a ledger connection scoped to a single item.
type Session struct {
	conn *sql.Conn
}

// Session acquires a connection. Callers must Close it on every path.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	if s.db == nil {
		return nil, errors.Persistence("ledger session", fmt.Errorf("ledger is closed"))
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, errors.Persistence("ledger session", err)
	}
	return &Session{conn: conn}, nil
}

// WithSession runs fn with a session and releases it afterwards.
func (s *Store) WithSession(ctx context.Context, fn func(*Session) error) error {
	sess, err := s.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// Close releases the connection back to the pool.
func (sess *Session) Close() error {
	return sess.conn.Close()
}

// Exists reports whether id has been committed.
func (sess *Session) Exists(ctx context.Context, kind Kind, id int64) (bool, error) {
	table, err := kind.table()
	if err != nil {
		return false, errors.Persistence("ledger exists", err)
	}

	var one int
	err = sess.conn.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, errors.Persistence("ledger exists", err)
	}
	return true, nil
}

// Insert records a committed work. Inserting an id twice is an error.
func (sess *Session) Insert(ctx context.Context, e Entry) error {
	recorded := e.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}

	var err error
	switch e.Kind {
	case KindIllustration:
		workType := e.WorkType
		if workType == "" {
			workType = "illust"
		}
		_, err = sess.conn.ExecContext(ctx,
			`INSERT INTO illustration (id, title, user_id, type, created_at, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Title, e.OwnerID, workType, unixOrNil(e.CreatedAt), recorded.Unix())
	case KindNovel:
		_, err = sess.conn.ExecContext(ctx,
			`INSERT INTO novel (id, title, user_id, series_id, series_title, cover_url, created_at, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Title, e.OwnerID, nullInt(e.SeriesID), nullString(e.SeriesTitle), nullString(e.CoverURL),
			unixOrNil(e.CreatedAt), recorded.Unix())
	default:
		err = fmt.Errorf("unknown ledger kind %q", string(e.Kind))
	}
	if err != nil {
		return errors.Persistence("ledger insert", fmt.Errorf("%s %d: %w", e.Kind, e.ID, err))
	}
	return nil
}

// Count returns the number of committed entries of kind.
func (s *Store) Count(ctx context.Context, kind Kind) (int, error) {
	table, err := kind.table()
	if err != nil {
		return 0, errors.Persistence("ledger count", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, errors.Persistence("ledger count", err)
	}
	return n, nil
}

// List returns the most recently recorded entries of kind, newest first.
func (s *Store) List(ctx context.Context, kind Kind, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	var query string
	switch kind {
	case KindIllustration:
		query = `SELECT id, title, user_id, type, 0, '', '', created_at, recorded_at
			FROM illustration ORDER BY recorded_at DESC, id DESC LIMIT ?`
	case KindNovel:
		query = `SELECT id, title, user_id, '', COALESCE(series_id, 0), COALESCE(series_title, ''),
			COALESCE(cover_url, ''), created_at, recorded_at
			FROM novel ORDER BY recorded_at DESC, id DESC LIMIT ?`
	default:
		return nil, errors.Persistence("ledger list", fmt.Errorf("unknown ledger kind %q", string(kind)))
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Persistence("ledger list", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			created  sql.NullInt64
			recorded int64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.OwnerID, &e.WorkType, &e.SeriesID, &e.SeriesTitle,
			&e.CoverURL, &created, &recorded); err != nil {
			return nil, errors.Persistence("ledger list", err)
		}
		e.Kind = kind
		if created.Valid {
			e.CreatedAt = time.Unix(created.Int64, 0)
		}
		e.RecordedAt = time.Unix(recorded, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Persistence("ledger list", err)
	}
	return entries, nil
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
