package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Attachment is a binary payload stored and replicated independently of
// the documents that reference it. Meta is an optional JSON sidecar.
type Attachment struct {
	ID        string
	Data      []byte
	Meta      json.RawMessage
	CreatedAt time.Time
}

// PutAttachment stores or replaces an attachment payload. meta may be nil.
func (s *Store) PutAttachment(ctx context.Context, id string, data []byte, meta json.RawMessage) error {
	if id == "" {
		return fmt.Errorf("attachment id is required")
	}
	if len(meta) > 0 && !json.Valid(meta) {
		return fmt.Errorf("attachment meta for %s is not valid JSON", id)
	}

	var metaCol sql.NullString
	if len(meta) > 0 {
		metaCol = sql.NullString{String: string(meta), Valid: true}
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO attachments (id, data, meta, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			meta = excluded.meta
	`, id, data, metaCol, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store attachment %s: %w", id, err)
	}
	return nil
}

// GetAttachment retrieves an attachment payload and its sidecar.
// Returns ErrNotFound if no such attachment exists.
func (s *Store) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	var (
		att       Attachment
		meta      sql.NullString
		createdAt string
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, data, meta, created_at FROM attachments WHERE id = ?
	`, id).Scan(&att.ID, &att.Data, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attachment %s: %w", id, err)
	}
	if meta.Valid {
		att.Meta = json.RawMessage(meta.String)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		att.CreatedAt = t
	}
	return &att, nil
}

// DeleteAttachment removes an attachment payload.
// Deleting an absent attachment is not an error (idempotent).
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	_, err := s.db.conn.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attachment %s: %w", id, err)
	}
	return nil
}

// ListAttachments returns the ids of all locally stored attachments,
// ordered lexically.
func (s *Store) ListAttachments(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `SELECT id FROM attachments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan attachment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasAttachment reports whether an attachment payload is stored locally.
func (s *Store) HasAttachment(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.conn.QueryRowContext(ctx, `SELECT 1 FROM attachments WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check attachment %s: %w", id, err)
	}
	return true, nil
}
