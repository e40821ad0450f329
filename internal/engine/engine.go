package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/satchelhq/satchel/internal/conflict"
	"github.com/satchelhq/satchel/internal/queue"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/store"
)

// ErrSyncInProgress is returned when a sync request arrives while a
// cycle is already running. Cycles are strictly serialized; the caller
// should retry at the next slot.
var ErrSyncInProgress = errors.New("sync cycle already in progress")

// Config holds engine configuration.
type Config struct {
	// Workers bounds per-document transfer concurrency within a cycle.
	Workers int

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers: 4,
		Logger:  log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine orchestrates pull/push/conflict-detection cycles between the
// local document store and the WebDAV remote.
//
// The engine owns the remote connection handle explicitly: it is
// created on init or config change and passed in, never held as hidden
// global state. Within a cycle, per-document transfers run concurrently
// up to the worker bound; across cycles everything is serialized.
type Engine struct {
	store       *store.Store
	queue       *queue.Queue
	conflicts   *conflict.Store
	remote      *remote.Client
	checkpoints *checkpoints
	state       *syncState
	workers     int
	logger      *log.Logger

	remoteMu sync.Mutex // guards remote handle swaps
	cycleMu  sync.Mutex // serializes cycles
}

// New creates an Engine. The database must have its schema initialized.
func New(db *store.DB, s *store.Store, q *queue.Queue, cs *conflict.Store, client *remote.Client, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultConfig().Workers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = DefaultConfig().Logger
	}
	return &Engine{
		store:       s,
		queue:       q,
		conflicts:   cs,
		remote:      client,
		checkpoints: &checkpoints{conn: db.RawDB()},
		state:       &syncState{conn: db.RawDB()},
		workers:     workers,
		logger:      logger,
	}
}

// SetRemote replaces the remote connection handle after a config
// change. Takes effect from the next cycle.
func (e *Engine) SetRemote(client *remote.Client) {
	e.remoteMu.Lock()
	defer e.remoteMu.Unlock()
	e.remote = client
}

func (e *Engine) client() *remote.Client {
	e.remoteMu.Lock()
	defer e.remoteMu.Unlock()
	return e.remote
}

// LastSyncTime returns the completion time of the most recent cycle.
func (e *Engine) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	return e.state.lastSyncTime(ctx)
}

// Sync runs one reconciliation cycle and reports its result.
//
// The cycle: connect, pull remote changes, detect conflicts, push
// pending local mutations, reconcile attachments, update bookkeeping.
// Only a connection failure aborts the whole cycle; every other failure
// is tallied in the result, scoped to one document or one phase. A
// second Sync
// arriving mid-cycle returns ErrSyncInProgress. Cancelling ctx stops
// the cycle between document operations, never mid-transfer.
func (e *Engine) Sync(ctx context.Context) (*SyncResult, error) {
	if !e.cycleMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer e.cycleMu.Unlock()

	client := e.client()
	t := newTally()

	// Connect. Failure here means there is nothing to reconcile
	// against; abort without touching local state.
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("sync aborted: %w", err)
	}

	// Pull. The remote listing is the sole detection mechanism for
	// remote changes. A listing failure skips the pull phase but not
	// the rest of the cycle; pending entries need no listing.
	metas, err := client.ListDocs()
	if err != nil {
		e.logger.Printf("list failed: %v", err)
		t.fail("", "list", err)
		metas = nil
	}

	// Ids whose push is held for this cycle: detected conflicts, and
	// ids whose pull failed. A failed pull means a remote change the
	// engine never got to examine; uploading over it would discard it.
	held := make(map[string]bool)
	var heldMu sync.Mutex

	e.runWorkers(ctx, len(metas), func(i int) {
		meta := metas[i]
		hold, err := e.pullOne(ctx, client, meta, t)
		if err != nil {
			e.logger.Printf("pull %s failed: %v", meta.DocID, err)
			t.fail(meta.DocID, "pull", err)
			hold = true
		}
		if hold {
			heldMu.Lock()
			held[meta.DocID] = true
			heldMu.Unlock()
		}
	})

	// Push every remaining pending mutation that is due and not held
	// this cycle.
	items, err := e.queue.Due(ctx, time.Now())
	if err != nil {
		t.fail("", "push", err)
		items = nil
	}

	var pushable []*queue.Item
	for _, item := range items {
		if !held[item.DocID] {
			pushable = append(pushable, item)
		}
	}

	e.runWorkers(ctx, len(pushable), func(i int) {
		item := pushable[i]
		if err := e.pushOne(ctx, client, item, t); err != nil {
			e.logger.Printf("push %s (%s) failed: %v", item.DocID, item.Operation, err)
			t.fail(item.DocID, item.Operation, err)
			if ferr := e.queue.Fail(ctx, item.DocID, err); ferr != nil {
				e.logger.Printf("failed to record retry for %s: %v", item.DocID, ferr)
			}
		}
	})

	// Entries past the retry cap are held, not deleted; surface them.
	exhausted, err := e.queue.Exhausted(ctx)
	if err != nil {
		t.fail("", "queue", err)
	}
	for _, item := range exhausted {
		t.fail(item.DocID, item.Operation,
			fmt.Errorf("retry limit exceeded after %d attempts: %s", item.RetryCount, item.LastError))
	}

	// Attachment pass.
	e.syncAttachments(ctx, client, t)

	// Bookkeeping.
	if err := e.state.setLastSyncTime(ctx, time.Now()); err != nil {
		e.logger.Printf("failed to record last sync time: %v", err)
	}

	res := t.finish()
	e.logger.Printf("cycle complete: uploaded=%d downloaded=%d conflicts=%d errors=%d (%v)",
		res.Uploaded, res.Downloaded, res.Conflicts, len(res.Errors), res.Duration.Round(time.Millisecond))
	return res, nil
}

// pullOne reconciles a single remote document. Returns true when the id
// is in conflict and its push must be held for this cycle.
func (e *Engine) pullOne(ctx context.Context, client *remote.Client, meta remote.FileMeta, t *tally) (bool, error) {
	cp, ok, err := e.checkpoints.get(ctx, meta.DocID)
	if err != nil {
		return false, err
	}
	// Equal or older mtimes mean unchanged. The conflict check below,
	// not timestamp ordering, is what prevents data loss.
	if ok && !meta.LastModified.After(cp) {
		return false, nil
	}

	pending, err := e.queue.Get(ctx, meta.DocID)
	if err != nil {
		return false, err
	}

	remoteDoc, err := client.DownloadDoc(meta.DocID)
	if err != nil {
		return false, err
	}
	if remoteDoc == nil {
		// Vanished between list and download; nothing to reconcile.
		return false, nil
	}

	if pending != nil {
		return e.reconcilePending(ctx, meta, remoteDoc, t)
	}

	local, err := e.store.Lookup(ctx, meta.DocID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	// Unchanged content needs no apply, only a checkpoint advance.
	if local != nil && local.Rev == remoteDoc.Rev && store.ContentEqual(local.Content, remoteDoc.Content) {
		return false, e.checkpoints.set(ctx, meta.DocID, meta.LastModified)
	}

	if err := e.store.ApplyRemote(ctx, remoteDoc); err != nil {
		// A local edit committed after the pending check above; it
		// must win the race into conflict detection, not be clobbered.
		if errors.Is(err, store.ErrLocalPending) {
			return e.reconcilePending(ctx, meta, remoteDoc, t)
		}
		return false, err
	}
	if err := e.checkpoints.set(ctx, meta.DocID, meta.LastModified); err != nil {
		return false, err
	}
	t.downloaded()
	return false, nil
}

// reconcilePending handles a pulled document whose id has a local edit
// waiting in the sync queue. If the contents differ, neither version is
// discarded: a conflict record captures both and the local copy stays
// the working copy. This is the sole correctness-critical rule.
func (e *Engine) reconcilePending(ctx context.Context, meta remote.FileMeta, remoteDoc *store.Document, t *tally) (bool, error) {
	local, err := e.store.Lookup(ctx, meta.DocID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if local == nil {
		local = &store.Document{ID: meta.DocID, Deleted: true, Content: json.RawMessage("null")}
	}

	if store.ContentEqual(local.Content, remoteDoc.Content) && local.Deleted == remoteDoc.Deleted {
		// Both sides converged; the pending push will reconcile revs.
		return false, e.checkpoints.set(ctx, meta.DocID, meta.LastModified)
	}

	// Already recorded in a previous cycle: keep skipping the id, but
	// don't duplicate the record.
	already, err := e.conflicts.HasPending(ctx, meta.DocID)
	if err != nil {
		return false, err
	}
	if already {
		return true, nil
	}

	localJSON, err := json.Marshal(local)
	if err != nil {
		return false, fmt.Errorf("failed to marshal local %s: %w", meta.DocID, err)
	}
	remoteJSON, err := json.Marshal(remoteDoc)
	if err != nil {
		return false, fmt.Errorf("failed to marshal remote %s: %w", meta.DocID, err)
	}

	if _, err := e.conflicts.Add(ctx, meta.DocID, localJSON, remoteJSON); err != nil {
		return false, err
	}
	e.logger.Printf("conflict detected on %s: local and remote diverged", meta.DocID)
	t.conflict()
	return true, nil
}

// pushOne delivers a single pending mutation to the remote.
func (e *Engine) pushOne(ctx context.Context, client *remote.Client, item *queue.Item, t *tally) error {
	switch item.Operation {
	case queue.OpPut:
		doc, err := e.store.Lookup(ctx, item.DocID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Mutated away locally since enqueueing; drop the entry.
				return e.queue.Ack(ctx, item.DocID, item.Timestamp)
			}
			return err
		}
		if err := client.UploadDoc(doc); err != nil {
			return err
		}
		// Checkpoint the freshly written file's mtime so the next
		// cycle doesn't re-pull our own write as a remote change.
		if meta, err := client.StatDoc(item.DocID); err == nil && meta != nil {
			if err := e.checkpoints.set(ctx, item.DocID, meta.LastModified); err != nil {
				e.logger.Printf("failed to checkpoint %s after push: %v", item.DocID, err)
			}
		}

	case queue.OpRemove:
		if err := client.DeleteDoc(item.DocID); err != nil {
			return err
		}
		if err := e.checkpoints.delete(ctx, item.DocID); err != nil {
			e.logger.Printf("failed to drop checkpoint for %s: %v", item.DocID, err)
		}

	default:
		return fmt.Errorf("unknown queue operation %q for %s", item.Operation, item.DocID)
	}

	if err := e.queue.Ack(ctx, item.DocID, item.Timestamp); err != nil {
		return err
	}
	t.uploaded()
	return nil
}

// syncAttachments reconciles the remote attachments directory against
// attachment ids referenced by local documents: referenced payloads
// missing remotely are uploaded, referenced payloads missing locally
// are downloaded. Remote orphans are left untouched - no automatic
// deletion.
func (e *Engine) syncAttachments(ctx context.Context, client *remote.Client, t *tally) {
	refs, err := e.store.ReferencedAttachments(ctx)
	if err != nil {
		t.fail("", "attachments", err)
		return
	}
	if len(refs) == 0 {
		return
	}

	remoteIDs, err := client.ListAttachments()
	if err != nil {
		t.fail("", "attachments", err)
		return
	}
	onRemote := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		onRemote[id] = true
	}

	e.runWorkers(ctx, len(refs), func(i int) {
		id := refs[i]
		if err := e.syncAttachment(ctx, client, id, onRemote[id], t); err != nil {
			e.logger.Printf("attachment %s failed: %v", id, err)
			t.fail(id, "attachment", err)
		}
	})
}

func (e *Engine) syncAttachment(ctx context.Context, client *remote.Client, id string, onRemote bool, t *tally) error {
	haveLocal, err := e.store.HasAttachment(ctx, id)
	if err != nil {
		return err
	}

	switch {
	case haveLocal && !onRemote:
		att, err := e.store.GetAttachment(ctx, id)
		if err != nil {
			return err
		}
		if err := client.UploadAttachment(id, att.Data, att.Meta); err != nil {
			return err
		}
		t.uploaded()

	case !haveLocal && onRemote:
		data, meta, err := client.DownloadAttachment(id)
		if err != nil {
			return err
		}
		if data == nil {
			return nil // vanished between list and download
		}
		if err := e.store.PutAttachment(ctx, id, data, meta); err != nil {
			return err
		}
		t.downloaded()
	}
	return nil
}

// runWorkers fans n indexed jobs out over the engine's worker bound.
// A cancelled context stops feeding new jobs; in-flight transfers run
// to completion so remote and local state stay internally consistent.
func (e *Engine) runWorkers(ctx context.Context, n int, run func(i int)) {
	if n == 0 {
		return
	}
	workers := e.workers
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				run(i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
}
