package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/net/webdav"

	"github.com/satchelhq/satchel/internal/store"
)

// newTestServer starts an in-memory WebDAV server.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	handler := &webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	srv := newTestServer(t)
	client := New(Config{ServerURL: srv.URL, Root: "satchel"})
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return client
}

func TestUploadDownloadRoundtrip(t *testing.T) {
	client := newTestClient(t)

	doc := &store.Document{
		ID:      "note-1",
		Rev:     "3-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Content: json.RawMessage(`{"title": "hello"}`),
	}
	if err := client.UploadDoc(doc); err != nil {
		t.Fatalf("UploadDoc failed: %v", err)
	}

	got, err := client.DownloadDoc("note-1")
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if got == nil {
		t.Fatal("document not found after upload")
	}
	if got.ID != "note-1" || got.Rev != doc.Rev {
		t.Errorf("identity mismatch: %q @ %q", got.ID, got.Rev)
	}
	if !store.ContentEqual(got.Content, doc.Content) {
		t.Errorf("content mismatch: %s", got.Content)
	}
}

func TestDownloadMissing(t *testing.T) {
	client := newTestClient(t)

	doc, err := client.DownloadDoc("nope")
	if err != nil {
		t.Fatalf("missing document should not error, got %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil for missing document, got %+v", doc)
	}
}

func TestStatDoc(t *testing.T) {
	client := newTestClient(t)

	meta, err := client.StatDoc("note-1")
	if err != nil {
		t.Fatalf("StatDoc failed: %v", err)
	}
	if meta != nil {
		t.Fatalf("expected nil for missing document, got %+v", meta)
	}

	doc := &store.Document{ID: "note-1", Rev: "1-bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		Content: json.RawMessage(`{}`)}
	if err := client.UploadDoc(doc); err != nil {
		t.Fatalf("UploadDoc failed: %v", err)
	}

	meta, err = client.StatDoc("note-1")
	if err != nil {
		t.Fatalf("StatDoc failed: %v", err)
	}
	if meta == nil {
		t.Fatal("expected metadata after upload")
	}
	if meta.DocID != "note-1" {
		t.Errorf("doc id mismatch: %q", meta.DocID)
	}
	if time.Since(meta.LastModified) > time.Minute {
		t.Errorf("suspicious modification time: %v", meta.LastModified)
	}
}

func TestListDocs(t *testing.T) {
	client := newTestClient(t)

	for _, id := range []string{"alpha", "beta"} {
		doc := &store.Document{ID: id, Rev: "1-cccccccccccccccccccccccccccccccc",
			Content: json.RawMessage(`{}`)}
		if err := client.UploadDoc(doc); err != nil {
			t.Fatalf("UploadDoc %s failed: %v", id, err)
		}
	}

	metas, err := client.ListDocs()
	if err != nil {
		t.Fatalf("ListDocs failed: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(metas))
	}
	if metas[0].DocID != "alpha" || metas[1].DocID != "beta" {
		t.Errorf("unexpected order: %q, %q", metas[0].DocID, metas[1].DocID)
	}
}

func TestNastyIDRoundtrip(t *testing.T) {
	client := newTestClient(t)

	// Ids with path separators and reserved characters must encode to
	// flat filenames and decode back.
	id := "notes/2024 plans?.md"
	doc := &store.Document{ID: id, Rev: "1-dddddddddddddddddddddddddddddddd",
		Content: json.RawMessage(`{"ok": true}`)}
	if err := client.UploadDoc(doc); err != nil {
		t.Fatalf("UploadDoc failed: %v", err)
	}

	got, err := client.DownloadDoc(id)
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if got == nil || got.ID != id {
		t.Fatalf("id did not roundtrip: %+v", got)
	}

	metas, err := client.ListDocs()
	if err != nil {
		t.Fatalf("ListDocs failed: %v", err)
	}
	if len(metas) != 1 || metas[0].DocID != id {
		t.Fatalf("listed id did not decode: %+v", metas)
	}
}

func TestDeleteDocIdempotent(t *testing.T) {
	client := newTestClient(t)

	doc := &store.Document{ID: "note-1", Rev: "1-eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
		Content: json.RawMessage(`{}`)}
	if err := client.UploadDoc(doc); err != nil {
		t.Fatalf("UploadDoc failed: %v", err)
	}

	if err := client.DeleteDoc("note-1"); err != nil {
		t.Fatalf("DeleteDoc failed: %v", err)
	}
	if err := client.DeleteDoc("note-1"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}

	got, err := client.DownloadDoc("note-1")
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if got != nil {
		t.Fatalf("document still present after delete")
	}
}

func TestAttachmentRoundtrip(t *testing.T) {
	client := newTestClient(t)

	data := []byte{0x00, 0x01, 0xff}
	meta := json.RawMessage(`{"content_type": "application/octet-stream"}`)

	if err := client.UploadAttachment("img-1", data, meta); err != nil {
		t.Fatalf("UploadAttachment failed: %v", err)
	}

	gotData, gotMeta, err := client.DownloadAttachment("img-1")
	if err != nil {
		t.Fatalf("DownloadAttachment failed: %v", err)
	}
	if string(gotData) != string(data) {
		t.Errorf("payload mismatch: %x", gotData)
	}
	if string(gotMeta) != string(meta) {
		t.Errorf("meta mismatch: %s", gotMeta)
	}

	ids, err := client.ListAttachments()
	if err != nil {
		t.Fatalf("ListAttachments failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "img-1" {
		t.Fatalf("sidecar files must not be listed as attachments: %v", ids)
	}
}

func TestAttachmentMissing(t *testing.T) {
	client := newTestClient(t)

	data, meta, err := client.DownloadAttachment("nope")
	if err != nil {
		t.Fatalf("missing attachment should not error, got %v", err)
	}
	if data != nil || meta != nil {
		t.Fatalf("expected nils for missing attachment")
	}
}

func TestDeleteAttachmentIdempotent(t *testing.T) {
	client := newTestClient(t)

	if err := client.UploadAttachment("img-1", []byte("x"), nil); err != nil {
		t.Fatalf("UploadAttachment failed: %v", err)
	}
	if err := client.DeleteAttachment("img-1"); err != nil {
		t.Fatalf("DeleteAttachment failed: %v", err)
	}
	if err := client.DeleteAttachment("img-1"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}
