// Package validator performs the two post-assembly checks Finalizer and
// RecoveryService need: a streaming whole-file hash, and a structural
// archive check. Both operate on a path rather than an in-memory buffer,
// so memory use is bounded regardless of blob size.
package validator

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/securestor/securestor/internal/coordinator"
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// HashBlob computes the hex-encoded SHA-256 digest of the file at path,
// streaming it through the hasher in fixed-size chunks so memory use does
// not scale with file size.
func (v *Validator) HashBlob(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", coordinator.ErrBlobIO, path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: hash %s: %v", coordinator.ErrBlobIO, path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsValidArchive opens path as a zip archive and confirms its central
// directory parses. zip.NewReader needs an io.ReaderAt and the file size
// up front, but it never extracts entries. This is a structural check
// only, with memory use bounded by the central directory itself rather
// than the archive's uncompressed contents.
func (v *Validator) IsValidArchive(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("%w: open %s: %v", coordinator.ErrBlobIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", coordinator.ErrBlobIO, path, err)
	}

	if _, err := zip.NewReader(f, info.Size()); err != nil {
		return false, nil
	}
	return true, nil
}

// ArchiveEntry describes one entry in an archive's central directory, as
// returned by GET /upload/{id}/contents.
type ArchiveEntry struct {
	Name         string `json:"name"`
	Size         uint64 `json:"size"`
	Compressed   uint64 `json:"compressed"`
	IsDirectory  bool   `json:"is_directory"`
	ModifiedUnix int64  `json:"modified"`
}

// ListArchiveContents reads the central directory of the archive at path
// and returns its entries, without extracting any file data.
func (v *Validator) ListArchiveContents(path string) ([]ArchiveEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", coordinator.ErrBlobIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", coordinator.ErrBlobIO, path, err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid archive: %v", coordinator.ErrIntegrityFailed, path, err)
	}

	entries := make([]ArchiveEntry, 0, len(zr.File))
	for _, file := range zr.File {
		fi := file.FileInfo()
		entries = append(entries, ArchiveEntry{
			Name:         file.Name,
			Size:         file.UncompressedSize64,
			Compressed:   file.CompressedSize64,
			IsDirectory:  fi.IsDir(),
			ModifiedUnix: file.Modified.Unix(),
		})
	}
	return entries, nil
}
