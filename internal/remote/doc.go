// Package remote maps document and attachment operations onto raw
// WebDAV file primitives.
//
// Overview
//
// The remote endpoint is a dumb replicated filesystem: get/put/delete/
// list and per-file modification times are the only signals it exposes.
// This package keeps the mapping thin and synchronous - one method, one
// WebDAV round trip (plus an optional Stat) - and performs no internal
// retries. Retry policy and conflict detection belong to the sync
// engine and sync queue.
//
// Remote layout
//
//	<root>/
//	    ├── <percent-encoded-id>.json          one file per document
//	    └── attachments/
//	        ├── <percent-encoded-id>.bin       binary payload
//	        └── <percent-encoded-id>.meta.json optional JSON sidecar
//
// Document ids are percent-encoded into filenames, so ids containing
// path separators or reserved characters cannot corrupt remote paths
// and always round-trip through upload → list → download.
package remote
