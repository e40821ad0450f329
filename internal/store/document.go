package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Document is a keyed, revisioned JSON record.
//
// Content holds the document body as raw JSON. Attachments lists ids of
// binary payloads stored and replicated independently of the document,
// so large unchanged blobs are never re-transferred with every edit.
type Document struct {
	ID          string          `json:"id"`
	Rev         string          `json:"rev,omitempty"`
	Content     json.RawMessage `json:"content"`
	Attachments []string        `json:"attachments,omitempty"`
	Deleted     bool            `json:"deleted,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at,omitzero"`
}

// Validate checks if the Document has valid field values.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(d.Content) == 0 && !d.Deleted {
		return fmt.Errorf("content is required")
	}
	if len(d.Content) > 0 && !json.Valid(d.Content) {
		return fmt.Errorf("content is not valid JSON")
	}
	return nil
}

// CompactContent returns the document content with insignificant
// whitespace removed. This is the canonical serialized form used for
// size accounting and content comparison.
func (d *Document) CompactContent() (json.RawMessage, error) {
	out, err := compactJSON(d.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to compact content for %s: %w", d.ID, err)
	}
	return out, nil
}

// ContentEqual reports whether two content payloads are equal after
// canonicalization. Malformed input compares unequal.
func ContentEqual(a, b json.RawMessage) bool {
	x, err := compactJSON(a)
	if err != nil {
		return false
	}
	y, err := compactJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

func compactJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
