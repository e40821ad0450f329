package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/satchelhq/satchel/internal/queue"
)

// DefaultMaxDocSize is the default limit on a document's serialized
// content size (1 MiB).
const DefaultMaxDocSize = 1 << 20

// Options configures a Store.
type Options struct {
	// MaxDocSize is the maximum serialized content size in bytes.
	// Zero means DefaultMaxDocSize.
	MaxDocSize int
}

// WriteOptions modifies the behavior of a single Put or Remove.
type WriteOptions struct {
	// Force bypasses the optimistic-concurrency revision check.
	Force bool
}

// PutResult reports the outcome of a successful mutation.
type PutResult struct {
	ID  string
	Rev string
}

// Store is the local document store.
//
// Every successful Put/Remove enqueues (or replaces) a sync queue entry
// for the document id in the same transaction, so the mutation and its
// pending-replication record are durable together. Store operations
// never block on network activity; replication is entirely the sync
// engine's concern.
type Store struct {
	db         *DB
	maxDocSize int
}

// New creates a Store on top of an opened database.
// The schema must be initialized before use (see DB.InitSchema).
func New(db *DB, opts *Options) *Store {
	maxSize := DefaultMaxDocSize
	if opts != nil && opts.MaxDocSize > 0 {
		maxSize = opts.MaxDocSize
	}
	return &Store{
		db:         db,
		maxDocSize: maxSize,
	}
}

// Get retrieves a document by id.
// Returns ErrNotFound if the document does not exist or has been removed.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

// Lookup retrieves a document by id, including tombstones of removed
// documents. The sync engine uses this to compare pending local state
// against pulled remote versions; application callers want Get.
func (s *Store) Lookup(ctx context.Context, id string) (*Document, error) {
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, rev, content, attachments, deleted, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	return doc, nil
}

// Put creates or updates a document.
//
// The caller's doc.Rev must match the currently stored revision unless
// opts.Force is set; a mismatch returns a *ConflictError and leaves
// stored state untouched. Oversized content returns ErrTooLarge.
// On success the new revision is returned and a coalesced sync queue
// entry is recorded for the id.
func (s *Store) Put(ctx context.Context, doc *Document, opts *WriteOptions) (*PutResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}

	content, err := doc.CompactContent()
	if err != nil {
		return nil, err
	}
	if len(content) > s.maxDocSize {
		return nil, fmt.Errorf("document %s is %d bytes (limit %d): %w",
			doc.ID, len(content), s.maxDocSize, ErrTooLarge)
	}

	force := opts != nil && opts.Force

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentRev, deleted, exists, err := currentRevision(tx, doc.ID)
	if err != nil {
		return nil, err
	}

	// Tombstones don't participate in the rev check: writing over a
	// removed document resurrects it, continuing its sequence.
	if !force && !deleted {
		given := doc.Rev
		stored := ""
		if exists {
			stored = currentRev
		}
		if given != stored {
			return nil, &ConflictError{ID: doc.ID, GivenRev: given, CurrentRev: stored}
		}
	}

	newRev := NewRev(currentRev)
	now := time.Now().UTC()

	attachmentsJSON, err := marshalAttachments(doc.Attachments)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, rev, content, attachments, deleted, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			content = excluded.content,
			attachments = excluded.attachments,
			deleted = 0,
			updated_at = excluded.updated_at
	`, doc.ID, newRev, string(content), attachmentsJSON, now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}

	if err := queue.EnqueueTx(tx, doc.ID, queue.OpPut, now); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", doc.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit put %s: %w", doc.ID, err)
	}

	return &PutResult{ID: doc.ID, Rev: newRev}, nil
}

// Remove deletes a document, leaving a tombstone so the removal
// replicates. The same revision rule as Put applies. Returns the
// tombstone revision.
func (s *Store) Remove(ctx context.Context, id, rev string, opts *WriteOptions) (string, error) {
	force := opts != nil && opts.Force

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	currentRev, deleted, exists, err := currentRevision(tx, id)
	if err != nil {
		return "", err
	}
	if !exists || deleted {
		return "", fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	if !force && rev != currentRev {
		return "", &ConflictError{ID: id, GivenRev: rev, CurrentRev: currentRev}
	}

	newRev := NewRev(currentRev)
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET rev = ?, content = 'null', attachments = NULL, deleted = 1, updated_at = ?
		WHERE id = ?
	`, newRev, now.Format(time.RFC3339), id)
	if err != nil {
		return "", fmt.Errorf("failed to remove document %s: %w", id, err)
	}

	if err := queue.EnqueueTx(tx, id, queue.OpRemove, now); err != nil {
		return "", fmt.Errorf("failed to enqueue removal of %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit remove %s: %w", id, err)
	}

	return newRev, nil
}

// List returns all live documents whose id starts with prefix, ordered
// lexically by id. An empty prefix returns everything.
func (s *Store) List(ctx context.Context, prefix string) ([]*Document, error) {
	query := `
		SELECT id, rev, content, attachments, deleted, updated_at
		FROM documents WHERE deleted = 0
	`
	args := []any{}
	if prefix != "" {
		query += ` AND id LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(prefix)+"%")
	}
	query += ` ORDER BY id`

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ApplyRemote installs a document pulled from the remote, keeping its
// revision verbatim and recording no sync queue entry. Only the sync
// engine should call this.
//
// The write is refused with ErrLocalPending if a sync queue entry
// exists for the id. The check and the write share one transaction, so
// a local Put committing concurrently either lands before (the apply
// aborts and the caller re-runs conflict detection) or after (a
// normal sequential edit on top of the applied version). A committed
// local edit is never overwritten here.
func (s *Store) ApplyRemote(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("invalid remote document: id is required")
	}

	content, err := doc.CompactContent()
	if err != nil {
		return err
	}
	attachmentsJSON, err := marshalAttachments(doc.Attachments)
	if err != nil {
		return err
	}

	deleted := 0
	if doc.Deleted {
		deleted = 1
	}
	updated := doc.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sync_queue WHERE doc_id = ?`, doc.ID).Scan(&one)
	if err == nil {
		return fmt.Errorf("apply remote %s: %w", doc.ID, ErrLocalPending)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check pending state of %s: %w", doc.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, rev, content, attachments, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			content = excluded.content,
			attachments = excluded.attachments,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Rev, string(content), attachmentsJSON, deleted, updated.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to apply remote document %s: %w", doc.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit apply of %s: %w", doc.ID, err)
	}
	return nil
}

// ReferencedAttachments returns the sorted union of attachment ids
// referenced by live documents.
func (s *Store) ReferencedAttachments(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT attachments FROM documents
		WHERE deleted = 0 AND attachments IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment references: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan attachment references: %w", err)
		}
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("malformed attachment list %q: %w", raw, err)
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	sort.Strings(refs)
	return refs, nil
}

// currentRevision reads a document's stored revision inside a mutation
// transaction.
func currentRevision(tx *sql.Tx, id string) (rev string, deleted, exists bool, err error) {
	var del int
	err = tx.QueryRow(`SELECT rev, deleted FROM documents WHERE id = ?`, id).Scan(&rev, &del)
	if err == sql.ErrNoRows {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, fmt.Errorf("failed to read revision of %s: %w", id, err)
	}
	return rev, del != 0, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc         Document
		content     string
		attachments sql.NullString
		deleted     int
		updatedAt   string
	)
	if err := row.Scan(&doc.ID, &doc.Rev, &content, &attachments, &deleted, &updatedAt); err != nil {
		return nil, err
	}
	doc.Content = json.RawMessage(content)
	doc.Deleted = deleted != 0
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &doc.Attachments); err != nil {
			return nil, fmt.Errorf("malformed attachment list for %s: %w", doc.ID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		doc.UpdatedAt = t
	}
	return &doc, nil
}

func marshalAttachments(ids []string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal attachment ids: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
