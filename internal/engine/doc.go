// Package engine orchestrates replication between the local document
// store and a WebDAV remote.
//
// Overview
//
// The remote exposes only flat file primitives - no transactions, no
// server logic, no native revisions. The engine reconciles two
// independently-mutating document sets using nothing but file content
// and modification timestamps, and it never silently loses a
// conflicting edit: when a locally pending mutation and a remotely
// changed version of the same document diverge, both versions are
// captured in a conflict record and the local copy stays the working
// copy. Conflicts are recorded, never merged.
//
// Cycle
//
//	Connect ──► Pull ──► Conflict check ──► Push ──► Attachments ──► Bookkeeping
//
// Only a connection failure aborts a cycle. Every other failure lands
// in SyncResult.Errors while the rest of the cycle proceeds. A failed
// push increments that document's queue retry counter; a failed pull
// holds that document's push until the next cycle, since the remote
// change it signalled was never examined.
//
// Cycles are strictly serialized; a sync request arriving mid-cycle
// gets ErrSyncInProgress. Within a cycle, per-document transfers run
// concurrently up to a bounded worker limit.
//
// Usage
//
//	e := engine.New(db, s, q, conflicts, client, nil)
//	res, err := e.Sync(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("uploaded=%d downloaded=%d conflicts=%d\n",
//	    res.Uploaded, res.Downloaded, res.Conflicts)
package engine
