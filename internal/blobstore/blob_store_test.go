package blobstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/securestor/securestor/internal/logger"
)

func TestPreallocateAndWriteAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.zip")

	b := New(logger.New())
	if err := b.Preallocate(path, 100); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}

	size, err := b.Size(path)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 100 {
		t.Fatalf("Size = %d, want 100", size)
	}

	if _, err := b.WriteAt(path, 0, bytes.NewReader([]byte("aaaaa"))); err != nil {
		t.Fatalf("WriteAt first chunk: %v", err)
	}
	if _, err := b.WriteAt(path, 50, bytes.NewReader([]byte("bbbbb"))); err != nil {
		t.Fatalf("WriteAt second chunk: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(contents[0:5], []byte("aaaaa")) {
		t.Errorf("offset 0 not written correctly: %q", contents[0:5])
	}
	if !bytes.Equal(contents[50:55], []byte("bbbbb")) {
		t.Errorf("offset 50 not written correctly: %q", contents[50:55])
	}
	if len(contents) != 100 {
		t.Errorf("file size changed after WriteAt: got %d, want 100", len(contents))
	}
}

func TestWriteAt_OutOfOrderDoesNotCorruptAdjacentRanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.zip")

	b := New(logger.New())
	if err := b.Preallocate(path, 30); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}

	if _, err := b.WriteAt(path, 20, bytes.NewReader([]byte("CCCCCCCCCC"))); err != nil {
		t.Fatalf("write chunk 2: %v", err)
	}
	if _, err := b.WriteAt(path, 0, bytes.NewReader([]byte("AAAAAAAAAA"))); err != nil {
		t.Fatalf("write chunk 0: %v", err)
	}
	if _, err := b.WriteAt(path, 10, bytes.NewReader([]byte("BBBBBBBBBB"))); err != nil {
		t.Fatalf("write chunk 1: %v", err)
	}

	f, err := b.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "AAAAAAAAAABBBBBBBBBBCCCCCCCCCC"
	if string(got) != want {
		t.Errorf("got %q, want %q", string(got), want)
	}
}

func TestExistsAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.zip")
	b := New(logger.New())

	if b.Exists(path) {
		t.Error("Exists should be false before creation")
	}

	if err := b.Preallocate(path, 10); err != nil {
		t.Fatalf("Preallocate: %v", err)
	}
	if !b.Exists(path) {
		t.Error("Exists should be true after Preallocate")
	}

	if err := b.Delete(path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if b.Exists(path) {
		t.Error("Exists should be false after Delete")
	}

	// Delete must be idempotent.
	if err := b.Delete(path); err != nil {
		t.Errorf("second Delete should be a no-op, got error: %v", err)
	}
}

func TestSize_MissingFile(t *testing.T) {
	b := New(logger.New())
	if _, err := b.Size("/nonexistent/session.zip"); err == nil {
		t.Error("expected error for missing file")
	}
}
