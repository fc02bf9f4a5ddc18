package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cmdflow/internal/domain"
	"cmdflow/internal/serializer"
)

// EnsureSchema creates the events table if it doesn't exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS command_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  command_id TEXT NOT NULL,
  command_type TEXT NOT NULL DEFAULT '',
  command TEXT NOT NULL DEFAULT '',
  status INTEGER NOT NULL,
  occurred_at INTEGER NOT NULL,
  error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_command_events_command ON command_events(command_id, occurred_at DESC, status DESC);
`)
	return err
}

// SQLite keeps event histories in the same database as the sqlite queue.
type SQLite struct {
	db         *sql.DB
	serializer serializer.Serializer
}

func NewSQLite(db *sql.DB, s serializer.Serializer) *SQLite {
	return &SQLite{db: db, serializer: s}
}

func (r *SQLite) Add(ctx context.Context, ev domain.Event) error {
	rec := encode(r.serializer, ev)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO command_events (command_id, command_type, command, status, occurred_at, error)
VALUES (?, ?, ?, ?, ?, ?)`, rec.CommandID, rec.CommandType, rec.Command, int(rec.Status), rec.Timestamp.UnixNano(), rec.Err)
	return err
}

const selectEvents = `
SELECT command_id, command_type, command, status, occurred_at, error
FROM command_events
WHERE command_id = ?
ORDER BY occurred_at DESC, status DESC, id DESC`

func (r *SQLite) Latest(ctx context.Context, commandID string) (domain.Event, bool, error) {
	row := r.db.QueryRowContext(ctx, selectEvents+" LIMIT 1", commandID)
	ev, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, err
	}
	return ev, true, nil
}

func (r *SQLite) All(ctx context.Context, commandID string) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, selectEvents, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLite) scan(s scanner) (domain.Event, error) {
	var (
		rec    stored
		status int
		at     int64
	)
	if err := s.Scan(&rec.CommandID, &rec.CommandType, &rec.Command, &status, &at, &rec.Err); err != nil {
		return domain.Event{}, err
	}
	rec.Status = domain.Status(status)
	rec.Timestamp = time.Unix(0, at).UTC()
	return rec.decode(r.serializer), nil
}
