package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/webdav"

	"github.com/satchelhq/satchel/internal/conflict"
	"github.com/satchelhq/satchel/internal/queue"
	"github.com/satchelhq/satchel/internal/remote"
	"github.com/satchelhq/satchel/internal/store"
)

// newTestServer starts an in-memory WebDAV server shared by test devices.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	handler := &webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// device bundles one simulated installation: its own local database and
// an engine pointed at the shared server.
type device struct {
	store     *store.Store
	queue     *queue.Queue
	conflicts *conflict.Store
	client    *remote.Client
	engine    *Engine
}

func newDevice(t *testing.T, name, serverURL string) *device {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), name+".db"))
	if err != nil {
		t.Fatalf("failed to open database for %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema for %s: %v", name, err)
	}

	s := store.New(db, nil)
	q := queue.New(db.RawDB(), queue.DefaultMaxRetries)
	cs := conflict.New(db.RawDB())
	client := remote.New(remote.Config{ServerURL: serverURL, Root: "satchel"})

	eng := New(db, s, q, cs, client, &Config{
		Workers: 2,
		Logger:  log.New(io.Discard, "", 0),
	})

	return &device{store: s, queue: q, conflicts: cs, client: client, engine: eng}
}

func (d *device) put(t *testing.T, id, rev, content string) *store.PutResult {
	t.Helper()

	res, err := d.store.Put(context.Background(), &store.Document{
		ID:      id,
		Rev:     rev,
		Content: json.RawMessage(content),
	}, nil)
	if err != nil {
		t.Fatalf("Put %s failed: %v", id, err)
	}
	return res
}

func (d *device) sync(t *testing.T) *SyncResult {
	t.Helper()

	res, err := d.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	return res
}

func TestSyncPushesPending(t *testing.T) {
	srv := newTestServer(t)
	dev := newDevice(t, "a", srv.URL)
	ctx := context.Background()

	dev.put(t, "note-1", "", `{"v": 1}`)

	res := dev.sync(t)
	if res.Uploaded != 1 {
		t.Errorf("Uploaded = %d, want 1", res.Uploaded)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}

	remoteDoc, err := dev.client.DownloadDoc("note-1")
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if remoteDoc == nil {
		t.Fatal("document not on remote after push")
	}

	item, err := dev.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item != nil {
		t.Errorf("queue entry should be acked after push, got %+v", item)
	}

	if last, ok, err := dev.engine.LastSyncTime(ctx); err != nil || !ok || last.IsZero() {
		t.Errorf("last sync time not recorded: %v %v %v", last, ok, err)
	}
}

func TestSyncPullsRemote(t *testing.T) {
	srv := newTestServer(t)
	devA := newDevice(t, "a", srv.URL)
	devB := newDevice(t, "b", srv.URL)
	ctx := context.Background()

	resA := devA.put(t, "note-1", "", `{"v": 1}`)
	devA.sync(t)

	res := devB.sync(t)
	if res.Downloaded != 1 {
		t.Errorf("Downloaded = %d, want 1", res.Downloaded)
	}

	doc, err := devB.store.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("pulled document not readable: %v", err)
	}
	if doc.Rev != resA.Rev {
		t.Errorf("pulled rev %q, want %q", doc.Rev, resA.Rev)
	}

	// A pull is not a local mutation; it must not enqueue an echo push.
	item, err := devB.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item != nil {
		t.Errorf("pull must not enqueue, got %+v", item)
	}
}

func TestOwnWriteNotRedownloaded(t *testing.T) {
	srv := newTestServer(t)
	dev := newDevice(t, "a", srv.URL)

	dev.put(t, "note-1", "", `{"v": 1}`)
	dev.sync(t)

	res := dev.sync(t)
	if res.Downloaded != 0 {
		t.Errorf("own push should be checkpointed, Downloaded = %d", res.Downloaded)
	}
	if res.Uploaded != 0 {
		t.Errorf("nothing pending, Uploaded = %d", res.Uploaded)
	}
}

func TestPushRemoveDeletesRemote(t *testing.T) {
	srv := newTestServer(t)
	dev := newDevice(t, "a", srv.URL)
	ctx := context.Background()

	res := dev.put(t, "note-1", "", `{"v": 1}`)
	dev.sync(t)

	if _, err := dev.store.Remove(ctx, "note-1", res.Rev, nil); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	dev.sync(t)

	remoteDoc, err := dev.client.DownloadDoc("note-1")
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if remoteDoc != nil {
		t.Fatalf("remote file should be deleted, got %+v", remoteDoc)
	}
}

// makeConflict drives two devices into divergence on note-1: B holds a
// pending local edit while A's different edit is already on the remote.
func makeConflict(t *testing.T) (devA, devB *device, localRev string) {
	t.Helper()

	srv := newTestServer(t)
	devA = newDevice(t, "a", srv.URL)
	devB = newDevice(t, "b", srv.URL)

	base := devA.put(t, "note-1", "", `{"v": "base"}`)
	devA.sync(t)
	devB.sync(t)

	// B edits locally but does not sync yet.
	resB := devB.put(t, "note-1", base.Rev, `{"v": "from-b"}`)

	// WebDAV last-modified has second resolution; the remote edit must
	// land strictly after B's checkpoint.
	time.Sleep(1100 * time.Millisecond)

	devA.put(t, "note-1", base.Rev, `{"v": "from-a"}`)
	devA.sync(t)

	return devA, devB, resB.Rev
}

func TestConflictDetected(t *testing.T) {
	_, devB, localRev := makeConflict(t)
	ctx := context.Background()

	res := devB.sync(t)
	if res.Conflicts != 1 {
		t.Fatalf("Conflicts = %d, want 1", res.Conflicts)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected errors: %v", res.Errors)
	}

	// The local copy stays the working copy, untouched.
	doc, err := devB.store.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Rev != localRev || !strings.Contains(string(doc.Content), "from-b") {
		t.Errorf("local copy was modified: %q @ %q", doc.Content, doc.Rev)
	}

	// The pending push is held, not dropped.
	item, err := devB.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item == nil {
		t.Error("pending queue entry was dropped")
	}

	records, err := devB.conflicts.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 || records[0].DocID != "note-1" {
		t.Fatalf("expected one conflict record for note-1, got %v", records)
	}
	if !strings.Contains(string(records[0].LocalDoc), "from-b") ||
		!strings.Contains(string(records[0].RemoteDoc), "from-a") {
		t.Errorf("record does not capture both versions")
	}

	// A second cycle must not duplicate the record or re-count it.
	res = devB.sync(t)
	if res.Conflicts != 0 {
		t.Errorf("second cycle re-counted the conflict: %d", res.Conflicts)
	}
	n, err := devB.conflicts.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("conflict record duplicated: %d", n)
	}
}

func TestResolveKeepRemote(t *testing.T) {
	_, devB, _ := makeConflict(t)
	ctx := context.Background()

	devB.sync(t)
	records, err := devB.conflicts.List(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one conflict record: %v %v", records, err)
	}

	if err := devB.engine.Resolve(ctx, records[0].ID, KeepRemote); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	doc, err := devB.store.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !strings.Contains(string(doc.Content), "from-a") {
		t.Errorf("remote version should have won: %q", doc.Content)
	}

	item, err := devB.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item != nil {
		t.Errorf("discarded edit's queue entry should be acked, got %+v", item)
	}

	if n, _ := devB.conflicts.Count(ctx); n != 0 {
		t.Errorf("record should be deleted, %d left", n)
	}
}

func TestResolveKeepLocal(t *testing.T) {
	_, devB, localRev := makeConflict(t)
	ctx := context.Background()

	devB.sync(t)
	records, err := devB.conflicts.List(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one conflict record: %v %v", records, err)
	}

	if err := devB.engine.Resolve(ctx, records[0].ID, KeepLocal); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	remoteDoc, err := devB.client.DownloadDoc("note-1")
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if remoteDoc == nil || !strings.Contains(string(remoteDoc.Content), "from-b") {
		t.Errorf("local version should be on the remote: %+v", remoteDoc)
	}

	doc, err := devB.store.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Rev != localRev {
		t.Errorf("local copy should be untouched, rev %q want %q", doc.Rev, localRev)
	}

	item, err := devB.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item != nil {
		t.Errorf("delivered edit's queue entry should be acked, got %+v", item)
	}

	if n, _ := devB.conflicts.Count(ctx); n != 0 {
		t.Errorf("record should be deleted, %d left", n)
	}
}

func TestErrorIsolation(t *testing.T) {
	srv := newTestServer(t)
	devA := newDevice(t, "a", srv.URL)
	devB := newDevice(t, "b", srv.URL)

	devA.put(t, "good", "", `{"v": 1}`)
	devA.sync(t)

	// Plant a file that decodes as garbage next to the good one.
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/satchel/bad.json",
		strings.NewReader("not json at all"))
	if err != nil {
		t.Fatalf("building request failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("planting corrupt file failed: %v", err)
	}
	resp.Body.Close()

	res := devB.sync(t)
	if res.Downloaded != 1 {
		t.Errorf("good document should still download, got %d", res.Downloaded)
	}
	if len(res.Errors) != 1 || res.Errors[0].DocID != "bad" {
		t.Fatalf("corrupt document should fail alone: %v", res.Errors)
	}

	if _, err := devB.store.Get(context.Background(), "good"); err != nil {
		t.Errorf("good document missing locally: %v", err)
	}
}

func TestPullFailureHoldsPush(t *testing.T) {
	srv := newTestServer(t)
	dev := newDevice(t, "a", srv.URL)
	ctx := context.Background()

	if err := dev.client.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// The remote copy of note-1 is undecodable: the engine knows a
	// remote change exists but never gets to examine it.
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/satchel/note-1.json",
		strings.NewReader("not json at all"))
	if err != nil {
		t.Fatalf("building request failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("planting corrupt file failed: %v", err)
	}
	resp.Body.Close()

	dev.put(t, "note-1", "", `{"v": "local"}`)

	res := dev.sync(t)
	if len(res.Errors) != 1 || res.Errors[0].DocID != "note-1" || res.Errors[0].Op != "pull" {
		t.Fatalf("expected one pull error for note-1, got %v", res.Errors)
	}
	if res.Uploaded != 0 {
		t.Errorf("push of a failed-pull id must be held, Uploaded = %d", res.Uploaded)
	}

	// The unexamined remote version is still there, not overwritten.
	get, err := http.Get(srv.URL + "/satchel/note-1.json")
	if err != nil {
		t.Fatalf("reading remote file failed: %v", err)
	}
	body, err := io.ReadAll(get.Body)
	get.Body.Close()
	if err != nil {
		t.Fatalf("reading remote body failed: %v", err)
	}
	if string(body) != "not json at all" {
		t.Errorf("remote file was overwritten: %q", body)
	}

	// The local edit stays pending for the next cycle.
	item, err := dev.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item == nil {
		t.Error("pending entry lost")
	}
}

// newListFailingServer serves WebDAV but refuses directory listings,
// so ListDocs fails while single-file operations keep working.
func newListFailingServer(t *testing.T) *httptest.Server {
	t.Helper()

	handler := &webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "PROPFIND" && r.Header.Get("Depth") == "1" {
			http.Error(w, "listing unavailable", http.StatusInternalServerError)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestListFailureStillPushes(t *testing.T) {
	srv := newListFailingServer(t)
	dev := newDevice(t, "a", srv.URL)
	ctx := context.Background()

	dev.put(t, "note-1", "", `{"v": 1}`)

	res := dev.sync(t)
	if res.Uploaded != 1 {
		t.Errorf("push needs no listing, Uploaded = %d", res.Uploaded)
	}

	var listErr bool
	for _, se := range res.Errors {
		if se.Op == "list" {
			listErr = true
		}
	}
	if !listErr {
		t.Errorf("listing failure should be tallied: %v", res.Errors)
	}

	remoteDoc, err := dev.client.DownloadDoc("note-1")
	if err != nil {
		t.Fatalf("DownloadDoc failed: %v", err)
	}
	if remoteDoc == nil {
		t.Fatal("document not on remote after push")
	}

	item, err := dev.queue.Get(ctx, "note-1")
	if err != nil {
		t.Fatalf("queue Get failed: %v", err)
	}
	if item != nil {
		t.Errorf("pushed entry should be acked, got %+v", item)
	}
}

func TestSyncAttachments(t *testing.T) {
	srv := newTestServer(t)
	devA := newDevice(t, "a", srv.URL)
	devB := newDevice(t, "b", srv.URL)
	ctx := context.Background()

	if err := devA.store.PutAttachment(ctx, "img-1", []byte("pixels"), nil); err != nil {
		t.Fatalf("PutAttachment failed: %v", err)
	}
	_, err := devA.store.Put(ctx, &store.Document{
		ID:          "photo",
		Content:     json.RawMessage(`{"caption": "x"}`),
		Attachments: []string{"img-1"},
	}, nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	devA.sync(t)

	// B pulls the document in the same cycle as the attachment pass.
	devB.sync(t)

	att, err := devB.store.GetAttachment(ctx, "img-1")
	if err != nil {
		t.Fatalf("attachment not replicated: %v", err)
	}
	if string(att.Data) != "pixels" {
		t.Errorf("payload mismatch: %q", att.Data)
	}
}

func TestSyncAbortsWhenUnreachable(t *testing.T) {
	dev := newDevice(t, "a", "http://127.0.0.1:1")

	dev.put(t, "note-1", "", `{"v": 1}`)

	_, err := dev.engine.Sync(context.Background())
	if err == nil {
		t.Fatal("expected connect failure to abort the cycle")
	}
	if !errors.Is(err, remote.ErrTransport) {
		t.Errorf("expected a transport error, got %v", err)
	}

	// The pending mutation survives the aborted cycle.
	item, qerr := dev.queue.Get(context.Background(), "note-1")
	if qerr != nil {
		t.Fatalf("queue Get failed: %v", qerr)
	}
	if item == nil {
		t.Error("pending entry lost on aborted cycle")
	}
}
