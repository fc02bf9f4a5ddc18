package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EnsureSchema creates the queue table if it doesn't exist. Times are stored
// as unix nanoseconds.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS queue_messages (
  id TEXT PRIMARY KEY,
  queue TEXT NOT NULL,
  payload TEXT NOT NULL,
  receipt TEXT,
  dequeue_count INTEGER NOT NULL DEFAULT 0,
  visible_at INTEGER NOT NULL,
  expires_at INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_messages_visible ON queue_messages(queue, visible_at, created_at);
`
	_, err := db.Exec(schema)
	return err
}

// SQLite is a lease-based durable queue stored in a sqlite table. Several
// named queues can share one database.
type SQLite struct {
	db   *sql.DB
	name string
}

func NewSQLite(db *sql.DB, name string) *SQLite {
	if name == "" {
		name = "commands"
	}
	return &SQLite{db: db, name: name}
}

func (q *SQLite) Enqueue(ctx context.Context, payload string, opts EnqueueOptions) error {
	now := time.Now()
	var expires sql.NullInt64
	if opts.TTL > 0 {
		expires = sql.NullInt64{Int64: now.Add(opts.TTL).UnixNano(), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
INSERT INTO queue_messages (id, queue, payload, visible_at, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, "msg_"+uuid.NewString(), q.name, payload, now.Add(opts.InitialVisibilityDelay).UnixNano(), expires, now.UnixNano())
	return err
}

func (q *SQLite) Lease(ctx context.Context, batchSize int, visibilityTimeout time.Duration) (msgs []Message, err error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now()
	rows, err := tx.QueryContext(ctx, `
SELECT id, payload, dequeue_count
FROM queue_messages
WHERE queue = ? AND visible_at <= ? AND (expires_at IS NULL OR expires_at > ?)
ORDER BY created_at ASC, rowid ASC
LIMIT ?
`, q.name, now.UnixNano(), now.UnixNano(), batchSize)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var m Message
		if err = rows.Scan(&m.Handle.MessageID, &m.Payload, &m.DequeueCount); err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	until := now.Add(visibilityTimeout)
	for i := range msgs {
		msgs[i].Handle.Receipt = uuid.NewString()
		msgs[i].DequeueCount++
		msgs[i].VisibleUntil = until
		_, err = tx.ExecContext(ctx, `
UPDATE queue_messages SET receipt = ?, dequeue_count = dequeue_count + 1, visible_at = ?
WHERE id = ?`, msgs[i].Handle.Receipt, until.UnixNano(), msgs[i].Handle.MessageID)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (q *SQLite) Delete(ctx context.Context, h Handle) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ? AND receipt = ?`, h.MessageID, h.Receipt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// PurgeExpired removes messages whose TTL elapsed.
func (q *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
DELETE FROM queue_messages WHERE queue = ? AND expires_at IS NOT NULL AND expires_at <= ?`, q.name, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type Stats struct {
	Visible int `json:"visible"`
	Leased  int `json:"leased"`
}

func (q *SQLite) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	now := time.Now().UnixNano()
	row := q.db.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN visible_at > ? AND receipt IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM queue_messages
WHERE queue = ? AND (expires_at IS NULL OR expires_at > ?)`, now, now, q.name, now)
	if err := row.Scan(&s.Visible, &s.Leased); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stats{}, nil
		}
		return Stats{}, err
	}
	return s, nil
}
