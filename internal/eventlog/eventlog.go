// Package eventlog records per-process simulation events in SQLite.
//
// Every engine tick produces one row: event kind, peers involved, inbox
// length, logical clock, wall time, keyed by process and run. Keeping
// multi-run simulations in one database makes the harness's trace
// assembly a simple ordered query.
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Kind classifies a recorded event.
type Kind string

const (
	// KindReceived is a tick that consumed a message from the inbox.
	KindReceived Kind = "received"
	// KindSent is a tick that emitted one or more messages.
	KindSent Kind = "sent"
	// KindInternal is a tick that only advanced the local clock.
	KindInternal Kind = "internal"
)

// Event is one recorded engine tick.
type Event struct {
	Process  string
	Run      int
	Tick     int64
	Kind     Kind
	Peers    string // sender for received, comma-joined recipients for sent
	Body     string
	QueueLen int // inbox length after the tick
	Clock    int64
	WallTime time.Time
}

// Log is a SQLite-backed event log. Safe for use by one writer; the
// connection pool is limited to a single connection to avoid SQLITE_BUSY
// under concurrent process recording into a shared file.
type Log struct {
	db *sql.DB
}

// Open creates or opens the event log database at path. Use ":memory:"
// for an ephemeral log (the harness does). Idempotent.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect event log: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply event log schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record inserts one event.
func (l *Log) Record(ctx context.Context, ev Event) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events
		(process, run, tick, kind, peers, body, queue_len, clock, wall_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Process,
		ev.Run,
		ev.Tick,
		string(ev.Kind),
		ev.Peers,
		ev.Body,
		ev.QueueLen,
		ev.Clock,
		ev.WallTime.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Events returns all events for one process and run in recording order.
func (l *Log) Events(ctx context.Context, process string, run int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT process, run, tick, kind, peers, body, queue_len, clock, wall_time
		FROM events
		WHERE process = ? AND run = ?
		ORDER BY id
	`, process, run)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// AllEvents returns every event for one run across all processes in
// recording order.
func (l *Log) AllEvents(ctx context.Context, run int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT process, run, tick, kind, peers, body, queue_len, clock, wall_time
		FROM events
		WHERE run = ?
		ORDER BY id
	`, run)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var ev Event
		var kind, wallTime string
		if err := rows.Scan(&ev.Process, &ev.Run, &ev.Tick, &kind, &ev.Peers,
			&ev.Body, &ev.QueueLen, &ev.Clock, &wallTime); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		t, err := time.Parse(time.RFC3339Nano, wallTime)
		if err != nil {
			return nil, fmt.Errorf("parse event wall time: %w", err)
		}
		ev.WallTime = t
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}
