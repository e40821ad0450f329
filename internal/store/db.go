package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite database connection shared by the document store,
// the sync queue, the conflict store, and the sync engine's checkpoint
// bookkeeping. The database runs in WAL mode with immediate write
// transactions so two concurrent mutations of the same document never
// interleave.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// If the database doesn't exist, it is created. The caller MUST call
// Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.Open(".satchel/satchel.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _txlock=immediate makes every write transaction take the write
	// lock up front, serializing mutations of a document id.
	connStr := fmt.Sprintf("file:%s?_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// The sync queue, conflict store, and checkpoint store share it.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the documents, attachments, sync_queue, conflicts,
// checkpoints, and sync_state tables along with supporting indexes.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- Documents, including tombstones (deleted=1) so removals replicate
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		rev TEXT NOT NULL,
		content TEXT NOT NULL,
		attachments TEXT,  -- JSON array of attachment ids
		deleted INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	-- Attachment payloads, addressed independently of their documents
	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		meta TEXT,  -- optional JSON sidecar
		created_at TEXT NOT NULL
	);

	-- Durable outbox of pending local mutations, one live entry per id
	CREATE TABLE IF NOT EXISTS sync_queue (
		doc_id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,  -- put, remove
		timestamp TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_attempt TEXT NOT NULL,
		last_error TEXT
	);

	-- Unresolved divergences, persisted until externally resolved
	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		local_doc TEXT NOT NULL,
		remote_doc TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Last-seen remote modification time per document id
	CREATE TABLE IF NOT EXISTS checkpoints (
		doc_id TEXT PRIMARY KEY,
		remote_modified TEXT NOT NULL,
		synced_at TEXT NOT NULL
	);

	-- Engine bookkeeping (last_sync_time)
	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_deleted ON documents(deleted);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_next ON sync_queue(next_attempt);
	CREATE INDEX IF NOT EXISTS idx_conflicts_doc ON conflicts(doc_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
