package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// NewRev produces the next revision token for a document.
//
// The leading integer of prev is parsed (missing or malformed input is
// treated as 0), incremented, and paired with a fresh random 32-hex-char
// suffix: "<seq+1>-<hex>". The suffix guarantees global uniqueness but
// carries no causal or merge semantics; it is not a content hash.
//
// NewRev is a pure function with no shared state and produces a distinct
// suffix on every call, even for identical inputs.
func NewRev(prev string) string {
	suffix := make([]byte, 16)
	// rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%d-%s", RevSeq(prev)+1, hex.EncodeToString(suffix))
}

// RevSeq returns the sequence number encoded in a revision token.
// Returns 0 for an empty or malformed token.
func RevSeq(rev string) int64 {
	if rev == "" {
		return 0
	}
	head, _, _ := strings.Cut(rev, "-")
	seq, err := strconv.ParseInt(head, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
