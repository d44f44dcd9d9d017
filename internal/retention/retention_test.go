package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vera/internal/artifact"
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

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("image bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

type seedOpts struct {
	id             string
	status         lifecycle.Status
	reviewedAgo    time.Duration
	exportedAgo    time.Duration
	withExportTail bool
}

func seedDoc(t *testing.T, st *store.Store, dir string, opts seedOpts) models.Document {
	t.Helper()
	doc := models.Document{
		ID:               opts.id,
		ImagePath:        writeArtifact(t, dir, opts.id+".png"),
		Status:           opts.status,
		StructuredFields: []byte("{}"),
		PageCount:        1,
		Version:          1,
	}
	if opts.reviewedAgo > 0 {
		ts := time.Now().UTC().Add(-opts.reviewedAgo)
		doc.ReviewCompleteAt = &ts
	}
	if err := st.DB().Create(&doc).Error; err != nil {
		t.Fatalf("seed document %s: %v", opts.id, err)
	}

	page := models.DocumentPage{
		ID:               opts.id + "-page",
		DocumentID:       doc.ID,
		ImagePath:        writeArtifact(t, dir, opts.id+"-page.png"),
		Status:           opts.status,
		StructuredFields: []byte("{}"),
		Version:          1,
	}
	if err := st.DB().Create(&page).Error; err != nil {
		t.Fatalf("seed page: %v", err)
	}
	token := models.Token{
		ID: opts.id + "-token", DocumentID: doc.ID, PageID: page.ID,
		LineID: "l", Text: "word", ConfidenceLabel: "high",
	}
	if err := st.DB().Create(&token).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if opts.withExportTail {
		entry := models.AuditLog{
			ID:         opts.id + "-export",
			DocumentID: doc.ID,
			EventType:  lifecycle.EventExported,
			Actor:      "test_user",
			Detail:     []byte("{}"),
			CreatedAt:  time.Now().UTC().Add(-opts.exportedAgo),
		}
		if err := st.DB().Create(&entry).Error; err != nil {
			t.Fatalf("seed export entry: %v", err)
		}
	}
	return doc
}

func rowCount(t *testing.T, st *store.Store, model any) int64 {
	t.Helper()
	var n int64
	if err := st.DB().Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestCleanupDeleteModePostReview(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	cfg := config.RetentionConfig{Days: 30, Trigger: "post_review", Mode: "delete"}
	eng := New(st, artifact.NewLocal(filepath.Join(dir, "archive")), cfg, "test_user")

	old := seedDoc(t, st, dir, seedOpts{id: "old", status: lifecycle.StatusExported, reviewedAgo: 31 * 24 * time.Hour})
	fresh := seedDoc(t, st, dir, seedOpts{id: "fresh", status: lifecycle.StatusExported, reviewedAgo: 2 * 24 * time.Hour})

	n, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	if _, err := os.Stat(old.ImagePath); !os.IsNotExist(err) {
		t.Fatal("expired artifact still on disk")
	}
	if _, err := os.Stat(fresh.ImagePath); err != nil {
		t.Fatalf("unexpired artifact touched: %v", err)
	}

	if _, err := store.GetDocument(st.DB(), "old"); err == nil {
		t.Fatal("expired document row survived")
	}
	if _, err := store.GetDocument(st.DB(), "fresh"); err != nil {
		t.Fatalf("unexpired document purged: %v", err)
	}
	// Every dependent row of the reclaimed document goes with it, the audit
	// journal included.
	for _, model := range []any{&models.DocumentPage{}, &models.Token{}, &models.AuditLog{}} {
		var n int64
		if err := st.DB().Model(model).Where("document_id = ?", "old").Count(&n).Error; err != nil {
			t.Fatalf("count dependents: %v", err)
		}
		if n != 0 {
			t.Fatalf("%T rows for reclaimed document = %d, want 0", model, n)
		}
	}
}

func TestCleanupArchiveMode(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	archiveRoot := filepath.Join(dir, "archive")
	cfg := config.RetentionConfig{Days: 7, Trigger: "post_review", Mode: "archive"}
	eng := New(st, artifact.NewLocal(archiveRoot), cfg, "test_user")

	doc := seedDoc(t, st, dir, seedOpts{id: "aged", status: lifecycle.StatusValidated, reviewedAgo: 8 * 24 * time.Hour})

	n, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}

	for _, name := range []string{"aged.png", "aged-page.png"} {
		archived := filepath.Join(archiveRoot, doc.ID, name)
		if _, err := os.Stat(archived); err != nil {
			t.Fatalf("archived copy %s missing: %v", name, err)
		}
	}
	if _, err := os.Stat(doc.ImagePath); !os.IsNotExist(err) {
		t.Fatal("source artifact still in place after archive")
	}
	if got := rowCount(t, st, &models.Document{}); got != 0 {
		t.Fatalf("document rows = %d, archive mode still purges rows", got)
	}
}

func TestCleanupPostExportTrigger(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	cfg := config.RetentionConfig{Days: 30, Trigger: "post_export", Mode: "delete"}
	eng := New(st, artifact.NewLocal(filepath.Join(dir, "archive")), cfg, "test_user")

	seedDoc(t, st, dir, seedOpts{id: "stale", status: lifecycle.StatusExported, exportedAgo: 40 * 24 * time.Hour, withExportTail: true})
	seedDoc(t, st, dir, seedOpts{id: "recent", status: lifecycle.StatusExported, exportedAgo: 24 * time.Hour, withExportTail: true})
	// Validated but never exported: the post_export clock has not started.
	seedDoc(t, st, dir, seedOpts{id: "unexported", status: lifecycle.StatusValidated, reviewedAgo: 90 * 24 * time.Hour})

	n, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed = %d, want only the stale export", n)
	}
	if _, err := store.GetDocument(st.DB(), "stale"); err == nil {
		t.Fatal("stale export survived")
	}
	for _, id := range []string{"recent", "unexported"} {
		if _, err := store.GetDocument(st.DB(), id); err != nil {
			t.Fatalf("document %s purged: %v", id, err)
		}
	}
}

func TestCleanupNeverTouchesActiveDocuments(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	cfg := config.RetentionConfig{Days: 1, Trigger: "post_review", Mode: "delete"}
	eng := New(st, artifact.NewLocal(filepath.Join(dir, "archive")), cfg, "test_user")

	// Old timestamps but still under orchestration: never eligible.
	seedDoc(t, st, dir, seedOpts{id: "inflight", status: lifecycle.StatusProcessing, reviewedAgo: 365 * 24 * time.Hour})
	seedDoc(t, st, dir, seedOpts{id: "pending", status: lifecycle.StatusUploaded, reviewedAgo: 365 * 24 * time.Hour})

	n, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, active documents must be skipped", n)
	}
	if got := rowCount(t, st, &models.Document{}); got != 2 {
		t.Fatalf("document rows = %d, want 2", got)
	}
}

func TestCleanupDisabled(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	eng := New(st, artifact.NewLocal(dir), config.RetentionConfig{Days: 0}, "test_user")

	seedDoc(t, st, dir, seedOpts{id: "any", status: lifecycle.StatusExported, reviewedAgo: 400 * 24 * time.Hour})

	n, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, disabled engine must be a no-op", n)
	}
}

func TestCleanupZeroCandidatesIsNormal(t *testing.T) {
	st := newTestStore(t)
	dir := t.TempDir()
	eng := New(st, artifact.NewLocal(dir), config.RetentionConfig{Days: 30, Trigger: "post_review", Mode: "delete"}, "test_user")

	n, err := eng.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup on empty store: %v", err)
	}
	if n != 0 {
		t.Fatalf("reclaimed = %d, want 0", n)
	}
}
