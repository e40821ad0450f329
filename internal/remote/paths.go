package remote

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

const (
	docSuffix      = ".json"
	attachmentsDir = "attachments"
	payloadSuffix  = ".bin"
	metaSuffix     = ".meta.json"
)

// encodeID percent-encodes a document or attachment id so it is safe as
// a single remote path segment. Separators and reserved characters in
// ids cannot collide with other ids' paths after encoding.
func encodeID(id string) string {
	return url.PathEscape(id)
}

// decodeID reverses encodeID.
func decodeID(name string) (string, error) {
	id, err := url.PathUnescape(name)
	if err != nil {
		return "", fmt.Errorf("undecodable remote filename %q: %w", name, err)
	}
	return id, nil
}

// docPath returns the remote path of a document file.
func (c *Client) docPath(id string) string {
	return path.Join(c.root, encodeID(id)+docSuffix)
}

// attachmentsPath returns the remote attachments directory.
func (c *Client) attachmentsPath() string {
	return path.Join(c.root, attachmentsDir)
}

// attachmentPath returns the remote path of an attachment payload.
func (c *Client) attachmentPath(id string) string {
	return path.Join(c.attachmentsPath(), encodeID(id)+payloadSuffix)
}

// attachmentMetaPath returns the remote path of an attachment's JSON
// metadata sidecar.
func (c *Client) attachmentMetaPath(id string) string {
	return path.Join(c.attachmentsPath(), encodeID(id)+metaSuffix)
}

// docIDFromName extracts the document id from a remote filename.
// Returns ok=false for names that are not document files.
func docIDFromName(name string) (string, bool) {
	if !strings.HasSuffix(name, docSuffix) {
		return "", false
	}
	id, err := decodeID(strings.TrimSuffix(name, docSuffix))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// attachmentIDFromName extracts the attachment id from a remote payload
// filename. Metadata sidecars and foreign files are skipped.
func attachmentIDFromName(name string) (string, bool) {
	if strings.HasSuffix(name, metaSuffix) {
		return "", false
	}
	if !strings.HasSuffix(name, payloadSuffix) {
		return "", false
	}
	id, err := decodeID(strings.TrimSuffix(name, payloadSuffix))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}
