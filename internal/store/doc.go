// Package store provides the local document store for satchel.
//
// Overview
//
// The store persists keyed JSON documents in an embedded SQLite database
// with optimistic-concurrency revisions. Every successful mutation bumps
// the document's revision sequence and records a pending entry in the
// sync queue so the sync engine can later replicate the change.
//
// Architecture
//
//	Application callers
//	     ├── Get / Put / Remove / List     → documents table
//	     └── PutAttachment / GetAttachment → attachments table
//	                                      ↓
//	                              sync_queue table
//	                      (drained by the sync engine)
//
// Revisions
//
// Revisions are tokens of the form "<seq>-<32 hex chars>". The sequence
// number strictly increases with every successful mutation of an id; the
// hex suffix is freshly generated randomness that makes each token
// globally unique but carries no merge semantics.
//
// Usage
//
//	db, err := store.Open(".satchel/satchel.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.InitSchema(); err != nil {
//	    return err
//	}
//
//	s := store.New(db, nil)
//	res, err := s.Put(ctx, &store.Document{
//	    ID:      "settings",
//	    Content: json.RawMessage(`{"theme":"dark"}`),
//	})
package store
