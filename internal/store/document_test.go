package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDocumentJSONOmitsZeroTimestamp(t *testing.T) {
	data, err := json.Marshal(&Document{
		ID:      "note-1",
		Content: json.RawMessage(`{"v": 1}`),
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if strings.Contains(string(data), "updated_at") {
		t.Errorf("unset timestamp should not serialize: %s", data)
	}

	data, err = json.Marshal(&Document{
		ID:        "note-1",
		Content:   json.RawMessage(`{"v": 1}`),
		UpdatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"updated_at":"2026-08-30T12:00:00Z"`) {
		t.Errorf("set timestamp missing from payload: %s", data)
	}
}
