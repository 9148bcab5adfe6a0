// Package journal persists domain events, the latest known state of every
// message and transport cursors in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pocketsync/internal/events"
	"pocketsync/internal/model"
)

// DB wraps the SQLite journal.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// :memory: databases exist per connection.
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS events (
	  id TEXT PRIMARY KEY,
	  ts INTEGER NOT NULL,
	  kind TEXT NOT NULL,
	  message_id TEXT,
	  payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE TABLE IF NOT EXISTS messages (
	  id TEXT PRIMARY KEY,
	  created INTEGER NOT NULL,
	  payload TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS actions (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  type TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions(ts);
	CREATE TABLE IF NOT EXISTS cursors (
	  name TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

// Event is a journaled domain event. Payload is the JSON encoding of the event.
type Event struct {
	ID        string
	TS        time.Time
	Kind      events.Kind
	MessageID string
	Payload   string
}

// Decode rebuilds the domain event.
func (e Event) Decode() (events.Event, error) {
	switch e.Kind {
	case events.KindReady:
		return events.Ready{}, nil
	case events.KindDiscovered:
		return decodeAs[events.Discovered](e)
	case events.KindCreated:
		return decodeAs[events.Created](e)
	case events.KindReacted:
		return decodeAs[events.Reacted](e)
	}
	return nil, fmt.Errorf("journal: unknown event kind %q", e.Kind)
}

func decodeAs[T events.Event](e Event) (events.Event, error) {
	var v T
	if err := json.Unmarshal([]byte(e.Payload), &v); err != nil {
		return nil, fmt.Errorf("journal: decode %s %s: %w", e.Kind, e.ID, err)
	}
	return v, nil
}

func messageOf(ev events.Event) string {
	switch v := ev.(type) {
	case events.Discovered:
		return v.Message.ID
	case events.Created:
		return v.Message.ID
	case events.Reacted:
		return v.Message.ID
	}
	return ""
}

// PutEvent appends ev observed at ts and returns its id.
func (d *DB) PutEvent(ctx context.Context, ts time.Time, ev events.Event) (string, error) {
	pb, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	var mid *string
	if m := messageOf(ev); m != "" {
		mid = &m
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO events(id, ts, kind, message_id, payload) VALUES(?,?,?,?,?)`,
		id, ts.UnixMilli(), string(ev.Kind()), mid, string(pb))
	return id, err
}

// LoadEventsRange returns events in [start, end), all kinds when kind is empty.
func (d *DB) LoadEventsRange(ctx context.Context, start, end time.Time, kind events.Kind) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = d.sql.QueryContext(ctx, `SELECT id, ts, kind, COALESCE(message_id, ''), payload FROM events WHERE ts>=? AND ts<? ORDER BY ts, rowid`, start.UnixMilli(), end.UnixMilli())
	} else {
		rows, err = d.sql.QueryContext(ctx, `SELECT id, ts, kind, COALESCE(message_id, ''), payload FROM events WHERE ts>=? AND ts<? AND kind=? ORDER BY ts, rowid`, start.UnixMilli(), end.UnixMilli(), string(kind))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		var k string
		if err := rows.Scan(&e.ID, &ts, &k, &e.MessageID, &e.Payload); err != nil {
			return nil, err
		}
		e.TS = time.UnixMilli(ts).UTC()
		e.Kind = events.Kind(k)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveMessage stores m as the latest known state of its id.
func (d *DB) SaveMessage(ctx context.Context, m model.Message) error {
	pb, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO messages(id, created, payload) VALUES(?,?,?) ON CONFLICT(id) DO UPDATE SET created=excluded.created, payload=excluded.payload`,
		m.ID, m.Timestamps.Created.UnixMilli(), string(pb))
	return err
}

// LoadMessages returns the snapshot, oldest first.
func (d *DB) LoadMessages(ctx context.Context) ([]model.Message, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT payload FROM messages ORDER BY created, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Message
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		var m model.Message
		if err := json.Unmarshal([]byte(p), &m); err != nil {
			return nil, fmt.Errorf("journal: decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutAction records an outgoing action of typ, e.g. "send" or "hearts".
func (d *DB) PutAction(ctx context.Context, ts time.Time, typ string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO actions(ts, type) VALUES(?, ?)`, ts.UnixMilli(), typ)
	return err
}

// CountActionsWithin counts actions of typ in [start, end).
func (d *DB) CountActionsWithin(ctx context.Context, start, end time.Time, typ string) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM actions WHERE ts>=? AND ts<? AND type=?`, start.UnixMilli(), end.UnixMilli(), typ).Scan(&n)
	return n, err
}

func (d *DB) SaveCursor(ctx context.Context, name, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value=excluded.value`, name, value)
	return err
}

// LoadCursor returns "" when name was never saved.
func (d *DB) LoadCursor(ctx context.Context, name string) (string, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE name=?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}
