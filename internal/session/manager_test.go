package session

import (
	"context"
	"os"
	"testing"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/repository/memstore"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	store := memstore.New()
	blobs := blobstore.New(logger.New())
	return NewManager(store, blobs, dir, 5<<20, ".zip", logger.New()), dir
}

func TestInitialize_HappyPath(t *testing.T) {
	mgr, dir := newTestManager(t)

	result, err := mgr.Initialize(context.Background(), "archive.zip", 10485760, 2)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(result.UploadedIndices) != 0 {
		t.Errorf("fresh session should report no uploaded indices, got %v", result.UploadedIndices)
	}

	sess, progress, err := mgr.Status(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if sess.Status != models.StatusUploading {
		t.Errorf("status = %s, want UPLOADING", sess.Status)
	}
	if progress.Total != 2 || progress.Completed != 0 {
		t.Errorf("progress = %+v, want {0 2}", progress)
	}

	if _, err := os.Stat(sess.BlobPath); err != nil {
		t.Errorf("blob file not created: %v", err)
	}
	info, err := os.Stat(sess.BlobPath)
	if err != nil {
		t.Fatalf("stat blob: %v", err)
	}
	if info.Size() != 10485760 {
		t.Errorf("blob size = %d, want 10485760", info.Size())
	}

	_ = dir
}

func TestInitialize_RejectsBadInputs(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name        string
		filename    string
		totalSize   int64
		totalChunks int
	}{
		{"zero size", "a.zip", 0, 1},
		{"negative size", "a.zip", -1, 1},
		{"zero chunks", "a.zip", 100, 0},
		{"wrong extension", "a.tar", 100, 1},
		{"mismatched chunk count", "a.zip", 10485760, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.Initialize(ctx, tc.filename, tc.totalSize, tc.totalChunks); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

func TestInitialize_OneByteFile(t *testing.T) {
	mgr, _ := newTestManager(t)

	result, err := mgr.Initialize(context.Background(), "tiny.zip", 1, 1)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	sess, _, err := mgr.Status(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	info, err := os.Stat(sess.BlobPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 1 {
		t.Errorf("blob size = %d, want 1", info.Size())
	}
}
