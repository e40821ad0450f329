package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satchelhq/satchel/internal/store"
)

// Resolution selects the winning side of a recorded conflict.
type Resolution int

const (
	// KeepLocal keeps the local version and pushes it to the remote.
	KeepLocal Resolution = iota

	// KeepRemote overwrites the local version with the recorded
	// remote one.
	KeepRemote
)

// Resolve settles a conflict record by id.
//
// KeepLocal uploads the current local version to the remote (or
// deletes the remote file when the local side is a tombstone) and acks
// the pending queue entry. KeepRemote applies the recorded remote
// version locally, discarding the local edit and its queue entry.
// Either way the record is deleted and the document's checkpoint is
// refreshed so the next cycle doesn't re-detect the same divergence.
//
// KeepLocal needs the remote to be reachable; KeepRemote works
// offline, with a best-effort checkpoint refresh.
func (e *Engine) Resolve(ctx context.Context, recordID int64, res Resolution) error {
	rec, err := e.conflicts.Get(ctx, recordID)
	if err != nil {
		return err
	}

	client := e.client()

	switch res {
	case KeepLocal:
		if err := client.Connect(); err != nil {
			return fmt.Errorf("resolve aborted: %w", err)
		}

		local, err := e.store.Lookup(ctx, rec.DocID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if local == nil || local.Deleted {
			if err := client.DeleteDoc(rec.DocID); err != nil {
				return err
			}
			if err := e.checkpoints.delete(ctx, rec.DocID); err != nil {
				return err
			}
		} else {
			if err := client.UploadDoc(local); err != nil {
				return err
			}
			if meta, err := client.StatDoc(rec.DocID); err == nil && meta != nil {
				if err := e.checkpoints.set(ctx, rec.DocID, meta.LastModified); err != nil {
					return err
				}
			}
		}

	case KeepRemote:
		var remoteDoc store.Document
		if err := json.Unmarshal(rec.RemoteDoc, &remoteDoc); err != nil {
			return fmt.Errorf("corrupt conflict record %d: %w", recordID, err)
		}
		// The discarded edit's entry must be acked first: ApplyRemote
		// refuses to overwrite a document with a pending entry. An edit
		// committed after this ack re-pends the id and the apply aborts,
		// keeping the record for another Resolve.
		if item, err := e.queue.Get(ctx, rec.DocID); err != nil {
			return err
		} else if item != nil {
			if err := e.queue.Ack(ctx, rec.DocID, item.Timestamp); err != nil {
				return err
			}
		}
		if err := e.store.ApplyRemote(ctx, &remoteDoc); err != nil {
			return err
		}
		if err := client.Connect(); err == nil {
			if meta, err := client.StatDoc(rec.DocID); err == nil && meta != nil {
				if err := e.checkpoints.set(ctx, rec.DocID, meta.LastModified); err != nil {
					return err
				}
			}
		}

	default:
		return fmt.Errorf("unknown resolution %d", res)
	}

	// KeepLocal's pending entry is settled too: Resolve delivered it.
	// For KeepRemote this is a no-op, the entry was acked above.
	if item, err := e.queue.Get(ctx, rec.DocID); err != nil {
		return err
	} else if item != nil {
		if err := e.queue.Ack(ctx, rec.DocID, item.Timestamp); err != nil {
			return err
		}
	}

	if err := e.conflicts.Delete(ctx, rec.ID); err != nil {
		return err
	}

	e.logger.Printf("resolved conflict %d on %s", rec.ID, rec.DocID)
	return nil
}
