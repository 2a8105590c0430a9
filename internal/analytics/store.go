// Package analytics is the append-only event log: queue movement and
// session outcomes land in sqlite for later aggregation. Tracking state
// never reads anything back from here.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "queuewatch/pkg/logx"
)

var ErrClosed = errors.New("analytics: store closed")

// Event kinds recorded in the log.
const (
	EventStarted = "started"
	EventPassed  = "passed"
	EventFailed  = "failed"
	EventMissed  = "missed"
	EventAdvance = "advance"
)

type Event struct {
	At       time.Time
	Kind     string
	Username string
	Message  string
}

const (
	DefaultBusyTimeout = 5 * time.Second
	// DefaultDedupWindow suppresses re-recording the same (user, kind) pair;
	// interview bots repeat announcements and relays echo them.
	DefaultDedupWindow = 12 * time.Hour
)

type Config struct {
	Path        string
	BusyTimeout time.Duration
	DedupWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = DefaultBusyTimeout
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	return c
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	at       INTEGER NOT NULL,
	hour     INTEGER NOT NULL,
	kind     TEXT    NOT NULL,
	username TEXT    NOT NULL DEFAULT '',
	message  TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_kind_at ON events(kind, at);
CREATE INDEX IF NOT EXISTS idx_events_user_kind_at ON events(username, kind, at);
`

// Store wraps the sqlite database. Safe for concurrent use; sqlite itself
// is kept to a single connection.
type Store struct {
	db  *sql.DB
	log logx.Logger
	cfg Config
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("analytics: db path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("analytics: migrate: %w", err)
	}
	return &Store{db: db, log: log, cfg: cfg}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append records one event. Returns false when an event with the same
// (username, kind) already exists inside the dedup window.
func (s *Store) Append(ctx context.Context, e Event) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	if e.Username != "" && e.Kind != EventAdvance {
		lo := e.At.Add(-s.cfg.DedupWindow).UnixMilli()
		hi := e.At.Add(s.cfg.DedupWindow).UnixMilli()
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM events WHERE username = ? AND kind = ? AND at BETWEEN ? AND ?`,
			e.Username, e.Kind, lo, hi,
		).Scan(&n)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(at, hour, kind, username, message) VALUES(?,?,?,?,?)`,
		e.At.UnixMilli(), e.At.Hour(), e.Kind, e.Username, e.Message,
	)
	return err == nil, err
}

// Totals counts events per kind since the given time.
func (s *Store) Totals(ctx context.Context, since time.Time) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM events WHERE at >= ? GROUP BY kind`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// BusiestHour reports the hour of day (0..23) with the most events of the
// given kind since the given time. ok is false when no events exist.
func (s *Store) BusiestHour(ctx context.Context, kind string, since time.Time) (hour, count int, ok bool, err error) {
	if s == nil || s.db == nil {
		return 0, 0, false, ErrClosed
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT hour, COUNT(*) AS n FROM events WHERE kind = ? AND at >= ?
		 GROUP BY hour ORDER BY n DESC, hour ASC LIMIT 1`,
		kind, since.UnixMilli(),
	).Scan(&hour, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return hour, count, true, nil
}

// Recent returns the newest events of a kind, newest first.
func (s *Store) Recent(ctx context.Context, kind string, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, username, message FROM events WHERE kind = ? ORDER BY at DESC LIMIT ?`,
		kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ms int64
		var e Event
		if err := rows.Scan(&ms, &e.Kind, &e.Username, &e.Message); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
