package remote

import (
	"encoding/json"
	"sort"

	"github.com/studio-b12/gowebdav"
)

// UploadAttachment writes an attachment payload and, when meta is
// non-empty, its JSON metadata sidecar. Payload and sidecar are
// addressed independently of any owning document, so unchanged blobs
// are never re-transferred with a document edit.
func (c *Client) UploadAttachment(id string, data []byte, meta json.RawMessage) error {
	p := c.attachmentPath(id)
	if err := c.dav.Write(p, data, 0644); err != nil {
		return &TransportError{Op: "put", Path: p, Err: err}
	}
	if len(meta) > 0 {
		mp := c.attachmentMetaPath(id)
		if err := c.dav.Write(mp, meta, 0644); err != nil {
			return &TransportError{Op: "put", Path: mp, Err: err}
		}
	}
	return nil
}

// DownloadAttachment fetches an attachment payload and its optional
// sidecar. A missing payload is reported as (nil, nil, nil); a missing
// sidecar simply yields nil meta.
func (c *Client) DownloadAttachment(id string) ([]byte, json.RawMessage, error) {
	p := c.attachmentPath(id)
	data, err := c.dav.Read(p)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, &TransportError{Op: "get", Path: p, Err: err}
	}

	mp := c.attachmentMetaPath(id)
	meta, err := c.dav.Read(mp)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return data, nil, nil
		}
		return nil, nil, &TransportError{Op: "get", Path: mp, Err: err}
	}
	return data, meta, nil
}

// DeleteAttachment removes an attachment payload and its sidecar.
// Already-absent files are treated as success (idempotent).
func (c *Client) DeleteAttachment(id string) error {
	p := c.attachmentPath(id)
	if err := c.dav.Remove(p); err != nil && !gowebdav.IsErrNotFound(err) {
		return &TransportError{Op: "delete", Path: p, Err: err}
	}
	mp := c.attachmentMetaPath(id)
	if err := c.dav.Remove(mp); err != nil && !gowebdav.IsErrNotFound(err) {
		return &TransportError{Op: "delete", Path: mp, Err: err}
	}
	return nil
}

// ListAttachments returns the ids of attachment payloads present on the
// remote, sorted. Metadata sidecars are not listed separately.
func (c *Client) ListAttachments() ([]string, error) {
	dir := c.attachmentsPath()
	entries, err := c.dav.ReadDir(dir)
	if err != nil {
		return nil, &TransportError{Op: "list", Path: dir, Err: err}
	}

	var ids []string
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		id, ok := attachmentIDFromName(fi.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
