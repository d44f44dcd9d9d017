package audit

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"vera/internal/config"
	"vera/internal/lifecycle"
	"vera/internal/models"
	"vera/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return st
}

func TestRecordAndList(t *testing.T) {
	st := newTestStore(t)

	err := Record(st.DB(), "doc-1", "", lifecycle.EventUploaded, "test_user",
		map[string]any{"filename": "scan.png"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := Record(st.DB(), "doc-1", "page-a", lifecycle.EventOCRDone, "test_user", nil); err != nil {
		t.Fatalf("Record page event: %v", err)
	}
	if err := Record(st.DB(), "doc-2", "", lifecycle.EventUploaded, "test_user", nil); err != nil {
		t.Fatalf("Record other doc: %v", err)
	}

	entries, err := List(st.DB(), "doc-1", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	var detail map[string]any
	for _, e := range entries {
		if e.EventType != lifecycle.EventUploaded {
			continue
		}
		if err := json.Unmarshal(e.Detail, &detail); err != nil {
			t.Fatalf("decode detail: %v", err)
		}
	}
	if detail["filename"] != "scan.png" {
		t.Fatalf("detail = %v, structured values must round-trip", detail)
	}

	pageScoped, err := List(st.DB(), "doc-1", "page-a")
	if err != nil {
		t.Fatalf("List page scope: %v", err)
	}
	if len(pageScoped) != 1 || pageScoped[0].EventType != lifecycle.EventOCRDone {
		t.Fatalf("page-scoped entries = %v", pageScoped)
	}
}

func TestListNewestFirst(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	rows := []models.AuditLog{
		{ID: "e1", DocumentID: "d", EventType: lifecycle.EventUploaded, Actor: "u", Detail: []byte("{}"), CreatedAt: base},
		{ID: "e2", DocumentID: "d", EventType: lifecycle.EventOCRStarted, Actor: "u", Detail: []byte("{}"), CreatedAt: base.Add(time.Minute)},
		{ID: "e3", DocumentID: "d", EventType: lifecycle.EventOCRDone, Actor: "u", Detail: []byte("{}"), CreatedAt: base.Add(2 * time.Minute)},
	}
	if err := st.DB().Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	entries, err := List(st.DB(), "d", "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries[0].ID != "e3" || entries[2].ID != "e1" {
		t.Fatalf("order = %s %s %s, want newest first", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestCountByEvent(t *testing.T) {
	st := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := Record(st.DB(), "d", "", lifecycle.EventExported, "u", nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	n, err := CountByEvent(st.DB(), "d", lifecycle.EventExported)
	if err != nil {
		t.Fatalf("CountByEvent: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	n, err = CountByEvent(st.DB(), "d", lifecycle.EventValidated)
	if err != nil {
		t.Fatalf("CountByEvent: %v", err)
	}
	if n != 0 {
		t.Fatalf("count = %d, want 0", n)
	}
}
