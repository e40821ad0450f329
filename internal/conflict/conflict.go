// Package conflict persists unresolved divergences between local and
// remote versions of a document.
//
// A record is created when the sync engine cannot determine a safe
// ordering between a locally pending edit and a remotely changed version
// of the same document. Records hold both full versions and stay until
// externally resolved - the engine never auto-merges and never deletes
// them on its own.
package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when the requested conflict record doesn't exist.
var ErrNotFound = errors.New("conflict record not found")

// Record is one persisted divergence. LocalDoc and RemoteDoc are the
// full serialized documents as they were at detection time.
type Record struct {
	ID        int64
	DocID     string
	LocalDoc  json.RawMessage
	RemoteDoc json.RawMessage
	CreatedAt time.Time
}

// Store persists conflict records in the shared satchel database.
type Store struct {
	conn *sql.DB
}

// New creates a conflict Store over the store's database connection.
func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Add persists a new conflict record and returns its id.
func (s *Store) Add(ctx context.Context, docID string, localDoc, remoteDoc json.RawMessage) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO conflicts (doc_id, local_doc, remote_doc, created_at)
		VALUES (?, ?, ?, ?)
	`, docID, string(localDoc), string(remoteDoc), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to record conflict for %s: %w", docID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get conflict id: %w", err)
	}
	return id, nil
}

// Get retrieves a conflict record by id.
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, doc_id, local_doc, remote_doc, created_at
		FROM conflicts WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict %d: %w", id, err)
	}
	return rec, nil
}

// List returns all conflict records, oldest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, doc_id, local_doc, remote_doc, created_at
		FROM conflicts ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// HasPending reports whether an unresolved conflict exists for a
// document id.
func (s *Store) HasPending(ctx context.Context, docID string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		`SELECT 1 FROM conflicts WHERE doc_id = ? LIMIT 1`, docID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts for %s: %w", docID, err)
	}
	return true, nil
}

// Delete removes a resolved conflict record.
// Returns nil if the record doesn't exist (idempotent).
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM conflicts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conflict %d: %w", id, err)
	}
	return nil
}

// Count returns the number of unresolved conflict records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec       Record
		localDoc  string
		remoteDoc string
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.DocID, &localDoc, &remoteDoc, &createdAt); err != nil {
		return nil, err
	}
	rec.LocalDoc = json.RawMessage(localDoc)
	rec.RemoteDoc = json.RawMessage(remoteDoc)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	return &rec, nil
}
