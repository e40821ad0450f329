package store

import (
	"errors"
	"fmt"
)

// Common errors returned by store operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, store.ErrNotFound) {
//	    // Document doesn't exist; a normal outcome, not a failure
//	}
var (
	// ErrNotFound is returned when the requested document or attachment
	// does not exist (or has been removed).
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a mutation supplies a revision that
	// does not match the currently stored revision. The write is never
	// applied. Use errors.As with *ConflictError to recover the current
	// revision.
	ErrConflict = errors.New("revision conflict")

	// ErrTooLarge is returned when a document's serialized content
	// exceeds the configured size limit.
	ErrTooLarge = errors.New("document too large")

	// ErrLocalPending is returned by ApplyRemote when the document has
	// a pending sync queue entry. The local edit behind that entry must
	// go through conflict detection; it is never overwritten blindly.
	ErrLocalPending = errors.New("document has a pending local mutation")
)

// ConflictError reports an optimistic-concurrency violation on a local
// write. It matches ErrConflict under errors.Is.
type ConflictError struct {
	ID         string
	GivenRev   string
	CurrentRev string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("revision conflict on %q: given %q, current %q", e.ID, e.GivenRev, e.CurrentRev)
}

// Is makes ConflictError match ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
