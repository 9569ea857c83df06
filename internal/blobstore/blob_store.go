// Package blobstore provides offset-addressed I/O over a sparse,
// pre-sized file on local disk. It is deliberately the simplest possible
// storage layer: one file per session, writers address disjoint byte
// ranges, and no coordination beyond the filesystem's own per-fd write
// semantics is required.
package blobstore

import (
	"fmt"
	"io"
	"os"

	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/logger"
)

// BlobStore is the filesystem abstraction ChunkIngestor, Finalizer and
// RecoveryService use to read and write session blobs.
type BlobStore struct {
	logger *logger.Logger
}

func New(log *logger.Logger) *BlobStore {
	return &BlobStore{logger: log}
}

// Preallocate creates (or truncates) path to exactly size bytes. The file
// may be sparse; callers must not assume the bytes are zeroed on disk,
// only that reads past any unwritten region return zero bytes (true of
// every filesystem this package targets). Must succeed before any
// WriteAt call against path.
func (b *BlobStore) Preallocate(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", coordinator.ErrBlobIO, path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate %s to %d: %v", coordinator.ErrBlobIO, path, size, err)
	}
	return nil
}

// WriteAt streams the full payload of r into path starting at offset. It
// neither extends nor truncates the file. Two concurrent WriteAt calls on
// the same path are safe provided their [offset, offset+n) ranges don't
// overlap. The caller (ChunkIngestor) guarantees this by construction,
// since chunk indices map to disjoint byte ranges.
func (b *BlobStore) WriteAt(path string, offset int64, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", coordinator.ErrBlobIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", coordinator.ErrBlobIO, path, err)
	}
	// Bytes of r beyond the file's current size are not written, so the
	// file is never extended; the returned count tells the caller how much landed.
	written, err := io.Copy(io.NewOffsetWriter(f, offset), io.LimitReader(r, info.Size()-offset))
	if err != nil {
		return written, fmt.Errorf("%w: write %s at %d: %v", coordinator.ErrBlobIO, path, offset, err)
	}
	return written, nil
}

// Size returns the current on-disk size of path.
func (b *BlobStore) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s does not exist", coordinator.ErrNotFound, path)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", coordinator.ErrBlobIO, path, err)
	}
	return info.Size(), nil
}

// Exists reports whether path is present on disk.
func (b *BlobStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Delete removes path. Deleting an absent file is not an error: callers
// (notably the abandonment sweep) must be able to call Delete twice
// without special-casing "already gone".
func (b *BlobStore) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %s: %v", coordinator.ErrBlobIO, path, err)
	}
	return nil
}

// Open returns a read handle suitable for streaming reads (hashing,
// archive validation). Callers are responsible for closing it.
func (b *BlobStore) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist", coordinator.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", coordinator.ErrBlobIO, path, err)
	}
	return f, nil
}
