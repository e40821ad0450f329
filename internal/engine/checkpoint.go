package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// checkpoints records the last remote modification time the engine has
// reconciled per document id. A remote file whose mtime is at or before
// its checkpoint is treated as unchanged - including the engine's own
// just-pushed writes, which checkpoint immediately after upload so they
// are not re-pulled as echoes.
type checkpoints struct {
	conn *sql.DB
}

// get returns the checkpointed remote mtime for a document id.
func (c *checkpoints) get(ctx context.Context, docID string) (time.Time, bool, error) {
	var raw string
	err := c.conn.QueryRowContext(ctx,
		`SELECT remote_modified FROM checkpoints WHERE doc_id = ?`, docID).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read checkpoint for %s: %w", docID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed checkpoint for %s: %w", docID, err)
	}
	return t, true, nil
}

// set advances the checkpoint for a document id.
func (c *checkpoints) set(ctx context.Context, docID string, remoteModified time.Time) error {
	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO checkpoints (doc_id, remote_modified, synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			remote_modified = excluded.remote_modified,
			synced_at = excluded.synced_at
	`, docID, remoteModified.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set checkpoint for %s: %w", docID, err)
	}
	return nil
}

// delete drops the checkpoint for a document id (after a remote delete).
func (c *checkpoints) delete(ctx context.Context, docID string) error {
	_, err := c.conn.ExecContext(ctx, `DELETE FROM checkpoints WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint for %s: %w", docID, err)
	}
	return nil
}

// syncState persists engine bookkeeping in the sync_state table.
type syncState struct {
	conn *sql.DB
}

const lastSyncTimeKey = "last_sync_time"

// lastSyncTime returns the completion time of the most recent cycle.
func (s *syncState) lastSyncTime(ctx context.Context) (time.Time, bool, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, lastSyncTimeKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed last sync time: %w", err)
	}
	return t, true, nil
}

// setLastSyncTime records the completion time of a cycle.
func (s *syncState) setLastSyncTime(ctx context.Context, t time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastSyncTimeKey, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record last sync time: %w", err)
	}
	return nil
}
