// Package queue provides the durable outbox of pending local mutations.
//
// Every successful document mutation records an entry here, coalesced to
// at most one live entry per document id: a later mutation replaces the
// pending one. The sync engine drains the queue with at-least-once
// semantics - an entry is removed only after the remote confirms the
// operation. Failures increment a retry counter with bounded exponential
// backoff; entries past the retry cap are held for inspection, never
// deleted, and never block the drain of other ids.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Operations recorded in the queue.
const (
	OpPut    = "put"
	OpRemove = "remove"
)

// DefaultMaxRetries is the number of failed attempts after which an
// entry is surfaced as a sync error and held for manual intervention.
const DefaultMaxRetries = 5

// Backoff bounds for failed entries.
const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = time.Hour
)

// Item is one pending mutation.
type Item struct {
	DocID       string
	Operation   string
	Timestamp   time.Time
	RetryCount  int
	NextAttempt time.Time
	LastError   string
}

// Stats summarizes queue state for status display.
type Stats struct {
	Pending   int
	Exhausted int
}

// Queue reads and acknowledges pending mutations. Writes happen either
// through EnqueueTx (from the document store's mutation transaction) or
// through Fail/Ack (from the sync engine).
type Queue struct {
	conn       *sql.DB
	maxRetries int
}

// New creates a Queue over the store's database connection.
// maxRetries <= 0 selects DefaultMaxRetries.
func New(conn *sql.DB, maxRetries int) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{conn: conn, maxRetries: maxRetries}
}

// EnqueueTx records a pending mutation inside the caller's transaction.
//
// A pending entry for the same id is replaced: its operation and
// timestamp are overwritten and its retry bookkeeping reset, so the
// queue always reflects the latest local intent for the id.
func EnqueueTx(tx *sql.Tx, docID, operation string, now time.Time) error {
	if operation != OpPut && operation != OpRemove {
		return fmt.Errorf("unknown queue operation %q", operation)
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	_, err := tx.Exec(`
		INSERT INTO sync_queue (doc_id, operation, timestamp, retry_count, next_attempt, last_error)
		VALUES (?, ?, ?, 0, ?, NULL)
		ON CONFLICT(doc_id) DO UPDATE SET
			operation = excluded.operation,
			timestamp = excluded.timestamp,
			retry_count = 0,
			next_attempt = excluded.next_attempt,
			last_error = NULL
	`, docID, operation, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for %s: %w", operation, docID, err)
	}
	return nil
}

// Get returns the pending entry for a document id, or nil if none.
func (q *Queue) Get(ctx context.Context, docID string) (*Item, error) {
	row := q.conn.QueryRowContext(ctx, `
		SELECT doc_id, operation, timestamp, retry_count, next_attempt, last_error
		FROM sync_queue WHERE doc_id = ?
	`, docID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entry for %s: %w", docID, err)
	}
	return item, nil
}

// Due returns entries ready for a delivery attempt: not past the retry
// cap and with a next-attempt time at or before now. Ordered by
// timestamp so older intents drain first.
func (q *Queue) Due(ctx context.Context, now time.Time) ([]*Item, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT doc_id, operation, timestamp, retry_count, next_attempt, last_error
		FROM sync_queue
		WHERE retry_count <= ? AND next_attempt <= ?
		ORDER BY timestamp
	`, q.maxRetries, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to list due queue entries: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// Exhausted returns entries past the retry cap. They are held for
// manual intervention and surfaced through sync results.
func (q *Queue) Exhausted(ctx context.Context) ([]*Item, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT doc_id, operation, timestamp, retry_count, next_attempt, last_error
		FROM sync_queue
		WHERE retry_count > ?
		ORDER BY timestamp
	`, q.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list exhausted queue entries: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// Ack removes a delivered entry. The timestamp guards against removing
// an entry that was replaced by a newer mutation while the delivery was
// in flight; the newer intent stays queued.
func (q *Queue) Ack(ctx context.Context, docID string, timestamp time.Time) error {
	_, err := q.conn.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE doc_id = ? AND timestamp = ?
	`, docID, timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to ack queue entry for %s: %w", docID, err)
	}
	return nil
}

// Fail records a delivery failure: the retry counter increments and the
// next attempt backs off exponentially (30s doubling, capped at 1h).
func (q *Queue) Fail(ctx context.Context, docID string, cause error) error {
	var count int
	err := q.conn.QueryRowContext(ctx,
		`SELECT retry_count FROM sync_queue WHERE doc_id = ?`, docID).Scan(&count)
	if err == sql.ErrNoRows {
		return nil // replaced or acked meanwhile
	}
	if err != nil {
		return fmt.Errorf("failed to read retry count for %s: %w", docID, err)
	}

	count++
	next := time.Now().UTC().Add(backoff(count))

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	_, err = q.conn.ExecContext(ctx, `
		UPDATE sync_queue
		SET retry_count = ?, next_attempt = ?, last_error = ?
		WHERE doc_id = ?
	`, count, next.Format(time.RFC3339Nano), msg, docID)
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", docID, err)
	}
	return nil
}

// Stats returns pending and exhausted entry counts.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := q.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN retry_count <= ? THEN 1 END),
			COUNT(CASE WHEN retry_count > ? THEN 1 END)
		FROM sync_queue
	`, q.maxRetries, q.maxRetries).Scan(&s.Pending, &s.Exhausted)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &s, nil
}

// MaxRetries returns the configured retry cap.
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// backoff returns the delay before attempt number count.
func backoff(count int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < count; i++ {
		d *= 2
		if d >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return d
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item    Item
		ts      string
		next    string
		lastErr sql.NullString
	)
	if err := row.Scan(&item.DocID, &item.Operation, &ts, &item.RetryCount, &next, &lastErr); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		item.Timestamp = t
	}
	if t, err := time.Parse(time.RFC3339Nano, next); err == nil {
		item.NextAttempt = t
	}
	item.LastError = lastErr.String
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
