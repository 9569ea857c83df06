package validator

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, contents := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(contents)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
}

func TestHashBlob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	data := []byte("the quick brown fox jumps over the lazy dog")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	v := New()
	hash, err := v.HashBlob(path)
	if err != nil {
		t.Fatalf("HashBlob: %v", err)
	}

	want := sha256.Sum256(data)
	if hash != hex.EncodeToString(want[:]) {
		t.Errorf("hash mismatch: got %s", hash)
	}
}

func TestHashBlob_MissingFile(t *testing.T) {
	v := New()
	if _, err := v.HashBlob("/nonexistent/path/blob.bin"); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestIsValidArchive(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid archive", func(t *testing.T) {
		path := filepath.Join(dir, "valid.zip")
		writeZip(t, path, map[string]string{"hello.txt": "world"})

		v := New()
		ok, err := v.IsValidArchive(path)
		if err != nil {
			t.Fatalf("IsValidArchive: %v", err)
		}
		if !ok {
			t.Error("expected valid archive to report true")
		}
	})

	t.Run("garbage bytes", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.bin")
		if err := os.WriteFile(path, bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 128), 0644); err != nil {
			t.Fatalf("write garbage file: %v", err)
		}

		v := New()
		ok, err := v.IsValidArchive(path)
		if err != nil {
			t.Fatalf("IsValidArchive: %v", err)
		}
		if ok {
			t.Error("expected garbage bytes to report invalid archive")
		}
	})
}

func TestListArchiveContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entries.zip")
	writeZip(t, path, map[string]string{
		"a.txt":     "aaaa",
		"sub/b.txt": "bbbbbbbb",
	})

	v := New()
	entries, err := v.ListArchiveContents(path)
	if err != nil {
		t.Fatalf("ListArchiveContents: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	byName := map[string]ArchiveEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	if byName["a.txt"].Size != 4 {
		t.Errorf("a.txt size = %d, want 4", byName["a.txt"].Size)
	}
	if byName["sub/b.txt"].Size != 8 {
		t.Errorf("sub/b.txt size = %d, want 8", byName["sub/b.txt"].Size)
	}
}

func TestListArchiveContents_NotAnArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notazip.bin")
	if err := os.WriteFile(path, []byte("not a zip file"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	v := New()
	if _, err := v.ListArchiveContents(path); err == nil {
		t.Error("expected error for non-archive file, got nil")
	}
}
