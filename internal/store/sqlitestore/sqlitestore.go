// Package sqlitestore is the local bookkeeping database: an audit trail of
// what the agent posted, counters for engagement budgets, and string
// cursors. It is deliberately not the dedup oracle; the platform's own
// conversation history holds that role.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil { return nil, err }
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil { return nil, err }
	db := &DB{sql: d}
	if err := db.migrate(); err != nil { _ = d.Close(); return nil, err }
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS events (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  type TEXT NOT NULL,
	  payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE TABLE IF NOT EXISTS actions (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  type TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions(ts);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

// PutEvent stores an audit event (posted reply, posted tweet) with payload.
func (d *DB) PutEvent(ctx context.Context, ts time.Time, typ string, payload any) error {
	pb, _ := json.Marshal(payload)
	_, err := d.sql.ExecContext(ctx, `INSERT INTO events(ts, type, payload) VALUES(?,?,?)`, ts.Unix(), typ, string(pb))
	return err
}

// Event is a stored audit event.
type Event struct {
	TS      time.Time
	Type    string
	Payload string
}

// LoadEventsRange returns events in [start, end), optionally by type.
func (d *DB) LoadEventsRange(ctx context.Context, start, end time.Time, typ string) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = d.sql.QueryContext(ctx, `SELECT ts, type, payload FROM events WHERE ts>=? AND ts<? ORDER BY ts`, start.Unix(), end.Unix())
	} else {
		rows, err = d.sql.QueryContext(ctx, `SELECT ts, type, payload FROM events WHERE ts>=? AND ts<? AND type=? ORDER BY ts`, start.Unix(), end.Unix(), typ)
	}
	if err != nil { return nil, err }
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ts int64; var typ string; var payload string
		if err := rows.Scan(&ts, &typ, &payload); err != nil { return nil, err }
		out = append(out, Event{TS: time.Unix(ts, 0).UTC(), Type: typ, Payload: payload})
	}
	return out, rows.Err()
}

// CountEventsByType aggregates event counts per type over [start, end).
func (d *DB) CountEventsByType(ctx context.Context, start, end time.Time) (map[string]int, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT type, COUNT(*) FROM events WHERE ts>=? AND ts<? GROUP BY type`, start.Unix(), end.Unix())
	if err != nil { return nil, err }
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var typ string; var n int
		if err := rows.Scan(&typ, &n); err != nil { return nil, err }
		out[typ] = n
	}
	return out, rows.Err()
}

// PutAction records one budgeted action of the given type.
func (d *DB) PutAction(ctx context.Context, ts time.Time, typ string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO actions(ts, type) VALUES(?,?)`, ts.Unix(), typ)
	return err
}

// CountActionsWithin counts actions of typ in [start, end).
func (d *DB) CountActionsWithin(ctx context.Context, start, end time.Time, typ string) (int, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE ts>=? AND ts<? AND type=?`, start.Unix(), end.Unix(), typ)
	var n int
	if err := row.Scan(&n); err != nil { return 0, err }
	return n, nil
}

// SaveCursor stores a named string cursor.
func (d *DB) SaveCursor(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// LoadCursor returns the stored value for key, or "" when absent.
func (d *DB) LoadCursor(ctx context.Context, key string) (string, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows { return "", nil }
		return "", err
	}
	return v, nil
}
