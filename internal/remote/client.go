package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/satchelhq/satchel/internal/store"
)

// DefaultTimeout bounds each WebDAV round trip.
const DefaultTimeout = 30 * time.Second

// Config describes the WebDAV endpoint.
type Config struct {
	// ServerURL is the WebDAV base URL, e.g. https://dav.example.com/remote.php/dav.
	ServerURL string

	// Username and Password are passed to the transport as-is.
	Username string
	Password string

	// Root is the sync directory under the base URL (default "satchel").
	Root string

	// Timeout per request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// FileMeta is the only per-document signal the remote exposes:
// the id (decoded from the filename) and the file's modification time.
// There is no remote revision log.
type FileMeta struct {
	DocID        string
	LastModified time.Time
}

// Client is a document/attachment-oriented façade over raw WebDAV
// operations. All methods are synchronous single calls; any of them may
// fail with a *TransportError. The client performs no retries.
type Client struct {
	dav  *gowebdav.Client
	root string
}

// New creates a Client for the configured endpoint. No network traffic
// happens until Connect.
func New(cfg Config) *Client {
	dav := gowebdav.NewClient(cfg.ServerURL, cfg.Username, cfg.Password)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dav.SetTimeout(timeout)

	root := cfg.Root
	if root == "" {
		root = "satchel"
	}

	return &Client{
		dav:  dav,
		root: "/" + root,
	}
}

// Connect verifies the endpoint is reachable with the configured
// credentials, then idempotently ensures the root sync directory and
// its attachments/ subdirectory exist.
func (c *Client) Connect() error {
	if err := c.dav.Connect(); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	if err := c.dav.MkdirAll(c.root, 0755); err != nil {
		return &TransportError{Op: "mkdir", Path: c.root, Err: err}
	}
	if err := c.dav.MkdirAll(c.attachmentsPath(), 0755); err != nil {
		return &TransportError{Op: "mkdir", Path: c.attachmentsPath(), Err: err}
	}
	return nil
}

// UploadDoc serializes the document to canonical JSON and writes it to
// the id-derived remote path, overwriting unconditionally. Overwrite
// safety is not conflict detection; that lives in the sync engine.
func (c *Client) UploadDoc(doc *store.Document) error {
	content, err := doc.CompactContent()
	if err != nil {
		return err
	}
	payload := *doc
	payload.Content = content

	data, err := json.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
	}

	p := c.docPath(doc.ID)
	if err := c.dav.Write(p, data, 0644); err != nil {
		return &TransportError{Op: "put", Path: p, Err: err}
	}
	return nil
}

// DownloadDoc fetches and parses a document. A missing remote file is
// a normal outcome, reported as (nil, nil). Malformed remote JSON is a
// *DecodeError.
func (c *Client) DownloadDoc(id string) (*store.Document, error) {
	p := c.docPath(id)
	data, err := c.dav.Read(p)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, &TransportError{Op: "get", Path: p, Err: err}
	}

	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Path: p, Err: err}
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, nil
}

// StatDoc returns the remote metadata of a single document file, or
// (nil, nil) if it doesn't exist.
func (c *Client) StatDoc(id string) (*FileMeta, error) {
	p := c.docPath(id)
	fi, err := c.dav.Stat(p)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, &TransportError{Op: "stat", Path: p, Err: err}
	}
	return &FileMeta{DocID: id, LastModified: fi.ModTime()}, nil
}

// ListDocs lists the sync directory, filters to document files, and
// pairs each decoded id with the file's last-modified time. This is the
// sole detection mechanism for remote changes.
func (c *Client) ListDocs() ([]FileMeta, error) {
	entries, err := c.dav.ReadDir(c.root)
	if err != nil {
		return nil, &TransportError{Op: "list", Path: c.root, Err: err}
	}

	var metas []FileMeta
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		id, ok := docIDFromName(fi.Name())
		if !ok {
			continue
		}
		metas = append(metas, FileMeta{DocID: id, LastModified: fi.ModTime()})
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].DocID < metas[j].DocID })
	return metas, nil
}

// DeleteDoc removes the remote document file. An already-absent file is
// treated as success (idempotent).
func (c *Client) DeleteDoc(id string) error {
	p := c.docPath(id)
	if err := c.dav.Remove(p); err != nil && !gowebdav.IsErrNotFound(err) {
		return &TransportError{Op: "delete", Path: p, Err: err}
	}
	return nil
}
