package engine

import (
	"sync"
	"time"
)

// SyncError describes one document's failure during a cycle. Failures
// are scoped per document and never abort the rest of the cycle.
type SyncError struct {
	DocID   string `json:"doc_id"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

// SyncResult is the per-cycle outcome, intended for user-facing status
// display. Each document's outcome is tallied independently.
type SyncResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Uploaded   int           `json:"uploaded"`
	Downloaded int           `json:"downloaded"`
	Conflicts  int           `json:"conflicts"`
	Errors     []SyncError   `json:"errors,omitempty"`
}

// tally accumulates a SyncResult from concurrent per-document workers.
type tally struct {
	mu  sync.Mutex
	res *SyncResult
}

func newTally() *tally {
	return &tally{res: &SyncResult{StartedAt: time.Now()}}
}

func (t *tally) uploaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.res.Uploaded++
}

func (t *tally) downloaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.res.Downloaded++
}

func (t *tally) conflict() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.res.Conflicts++
}

func (t *tally) fail(docID, op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.res.Errors = append(t.res.Errors, SyncError{DocID: docID, Op: op, Message: err.Error()})
}

func (t *tally) finish() *SyncResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.res.Duration = time.Since(t.res.StartedAt)
	return t.res
}
