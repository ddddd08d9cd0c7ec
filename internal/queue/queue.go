// Package queue is the durable, ordered store of pending write operations a
// device accumulates while the service is unreachable. Entries are opaque
// replayable requests, keyed by insertion order; an entry is deleted only
// after that exact mutation is confirmed applied. No deduplication is
// performed: enqueueing the same logical edit twice replays it twice.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS sync_queue (
    key INTEGER PRIMARY KEY AUTOINCREMENT,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    headers TEXT NOT NULL,
    body BLOB,
    attempts INTEGER NOT NULL DEFAULT 0
);
`

// Mutation is one queued write operation: a fully described HTTP request to
// replay verbatim, plus replay bookkeeping.
type Mutation struct {
	// Key is the insertion-ordered identifier assigned on enqueue.
	Key int64

	// Method and URL address the operation.
	Method string
	URL    string

	// Header includes the optional originating-endpoint identifier so the
	// server can exclude this device from its own fan-out on replay too.
	Header http.Header

	// Body is the serialized request body.
	Body []byte

	// Attempts counts replay tries so far.
	Attempts int
}

// Queue is a durable FIFO of pending mutations backed by a local SQLite
// file, so it survives process and device restarts.
type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at the given path.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate queue: %w", err)
	}
	return &Queue{db: db}, nil
}

// Close closes the queue database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue persists a mutation and assigns its order key before returning.
func (q *Queue) Enqueue(ctx context.Context, m *Mutation) error {
	headers, err := json.Marshal(m.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	res, err := q.db.ExecContext(ctx,
		"INSERT INTO sync_queue (method, url, headers, body) VALUES (?, ?, ?, ?)",
		m.Method, m.URL, string(headers), m.Body,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue mutation: %w", err)
	}
	key, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue key: %w", err)
	}
	m.Key = key
	return nil
}

// List returns all pending mutations in FIFO order.
func (q *Queue) List(ctx context.Context) ([]Mutation, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT key, method, url, headers, body, attempts FROM sync_queue ORDER BY key",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	var out []Mutation
	for rows.Next() {
		var m Mutation
		var headers string
		if err := rows.Scan(&m.Key, &m.Method, &m.URL, &headers, &m.Body, &m.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &m.Header); err != nil {
			return nil, fmt.Errorf("failed to decode headers for entry %d: %w", m.Key, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return out, nil
}

// Remove deletes exactly one entry. Removing an absent key is a no-op.
func (q *Queue) Remove(ctx context.Context, key int64) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM sync_queue WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to remove queue entry %d: %w", key, err)
	}
	return nil
}

// Bump increments the attempt counter after a failed replay.
func (q *Queue) Bump(ctx context.Context, key int64) error {
	if _, err := q.db.ExecContext(ctx,
		"UPDATE sync_queue SET attempts = attempts + 1 WHERE key = ?", key,
	); err != nil {
		return fmt.Errorf("failed to bump queue entry %d: %w", key, err)
	}
	return nil
}

// Stalled returns entries whose attempts have reached the given cap, in FIFO
// order. They remain queued; surfacing them is the caller's concern.
func (q *Queue) Stalled(ctx context.Context, maxAttempts int) ([]Mutation, error) {
	all, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Mutation
	for _, m := range all {
		if m.Attempts >= maxAttempts {
			out = append(out, m)
		}
	}
	return out, nil
}
