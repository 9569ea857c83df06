package recovery

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/finalize"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/repository/memstore"
	"github.com/securestor/securestor/internal/validator"
)

func writeValidZip(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("entry.txt")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write([]byte("contents")); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return data
}

func newTestService(store *memstore.Store, dir string) *Service {
	blobs := blobstore.New(logger.New())
	v := validator.New()
	f := finalize.NewFinalizer(store, blobs, v, logger.New())
	return NewService(store, blobs, f, time.Hour, logger.New())
}

func createSession(t *testing.T, store *memstore.Store, sess *models.Session) {
	t.Helper()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestRunOnce_ProcessingWithMissingBlobFails(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	id := uuid.New()
	createSession(t, store, &models.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   10,
		TotalChunks: 1,
		Status:      models.StatusProcessing,
		BlobPath:    filepath.Join(dir, "missing.zip"),
	})

	svc := newTestService(store, dir)
	counts, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counts.ProcessingRecovered != 0 {
		t.Errorf("ProcessingRecovered = %d, want 0 (blob-missing is not counted as recovered)", counts.ProcessingRecovered)
	}

	sess, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", sess.Status)
	}
}

func TestRunOnce_ProcessingWithIncompleteChunksResetsToUploading(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	id := uuid.New()
	path := filepath.Join(dir, id.String()+".zip")
	if err := os.WriteFile(path, []byte("partial data"), 0644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	createSession(t, store, &models.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   12,
		TotalChunks: 2,
		Status:      models.StatusProcessing,
		BlobPath:    path,
	})
	if err := store.MarkChunkSuccess(context.Background(), id, 0); err != nil {
		t.Fatalf("MarkChunkSuccess: %v", err)
	}
	// chunk 1 left PENDING.

	svc := newTestService(store, dir)
	counts, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counts.ProcessingRecovered != 1 {
		t.Errorf("ProcessingRecovered = %d, want 1", counts.ProcessingRecovered)
	}

	sess, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.StatusUploading {
		t.Errorf("status = %s, want UPLOADING", sess.Status)
	}
}

func TestRunOnce_ProcessingWithAllChunksCompletesViaReFinalize(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	id := uuid.New()
	path := filepath.Join(dir, id.String()+".zip")
	data := writeValidZip(t, path)
	createSession(t, store, &models.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   int64(len(data)),
		TotalChunks: 1,
		Status:      models.StatusProcessing,
		BlobPath:    path,
	})
	if err := store.MarkChunkSuccess(context.Background(), id, 0); err != nil {
		t.Fatalf("MarkChunkSuccess: %v", err)
	}

	svc := newTestService(store, dir)
	counts, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counts.ProcessingRecovered != 1 {
		t.Errorf("ProcessingRecovered = %d, want 1", counts.ProcessingRecovered)
	}

	sess, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", sess.Status)
	}
}

func TestRunOnce_UploadingWithAllChunksSuccessGetsFinalized(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	id := uuid.New()
	path := filepath.Join(dir, id.String()+".zip")
	data := writeValidZip(t, path)
	createSession(t, store, &models.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   int64(len(data)),
		TotalChunks: 1,
		Status:      models.StatusUploading,
		BlobPath:    path,
	})
	if err := store.MarkChunkSuccess(context.Background(), id, 0); err != nil {
		t.Fatalf("MarkChunkSuccess: %v", err)
	}

	svc := newTestService(store, dir)
	counts, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counts.UploadingFinalized != 1 {
		t.Errorf("UploadingFinalized = %d, want 1", counts.UploadingFinalized)
	}

	sess, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Status != models.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", sess.Status)
	}
}

func TestRunOnce_AbandonedSessionIsReapedAndBlobDeleted(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	id := uuid.New()
	path := filepath.Join(dir, id.String()+".zip")
	if err := os.WriteFile(path, []byte("stale upload"), 0644); err != nil {
		t.Fatalf("write blob: %v", err)
	}

	sess := &models.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   12,
		TotalChunks: 1,
		Status:      models.StatusUploading,
		BlobPath:    path,
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	svc := newTestService(store, dir)
	counts, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if counts.Abandoned != 1 {
		t.Errorf("Abandoned = %d, want 1", counts.Abandoned)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected abandoned blob to be deleted")
	}

	got, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
}

func TestRunOnce_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := memstore.New()
	id := uuid.New()
	path := filepath.Join(dir, id.String()+".zip")
	data := writeValidZip(t, path)
	createSession(t, store, &models.Session{
		ID:          id,
		Filename:    "a.zip",
		TotalSize:   int64(len(data)),
		TotalChunks: 1,
		Status:      models.StatusUploading,
		BlobPath:    path,
	})
	if err := store.MarkChunkSuccess(context.Background(), id, 0); err != nil {
		t.Fatalf("MarkChunkSuccess: %v", err)
	}

	svc := newTestService(store, dir)
	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}
	firstSess, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	counts, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if counts.ProcessingRecovered != 0 || counts.UploadingFinalized != 0 || counts.Abandoned != 0 {
		t.Errorf("second RunOnce should be a no-op, got %+v", counts)
	}

	secondSess, err := store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if secondSess.Status != firstSess.Status || *secondSess.FinalHash != *firstSess.FinalHash {
		t.Error("session state changed on second idempotent RunOnce")
	}
}
