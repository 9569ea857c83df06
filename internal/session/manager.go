// Package session implements SessionManager: the entry point that turns a
// client's upload request into a durable Session plus its pre-materialized
// Chunk rows and a pre-sized blob file on disk.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/repository"
)

// Manager creates upload sessions and answers resume queries.
type Manager struct {
	store     repository.MetaStore
	blobs     *blobstore.BlobStore
	uploadDir string
	chunkSize int64
	extension string
	logger    *logger.Logger
}

func NewManager(store repository.MetaStore, blobs *blobstore.BlobStore, uploadDir string, chunkSize int64, extension string, log *logger.Logger) *Manager {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		log.Error("failed to create upload directory", err)
	}
	return &Manager{
		store:     store,
		blobs:     blobs,
		uploadDir: uploadDir,
		chunkSize: chunkSize,
		extension: extension,
		logger:    log,
	}
}

// InitResult is what Initialize hands back to the caller: the new session
// id and the indices already SUCCESS (always empty for a fresh session;
// resuming a session by content fingerprint is not supported).
type InitResult struct {
	SessionID       uuid.UUID
	UploadedIndices []int
}

// Initialize validates the request, preallocates the blob, and inserts
// the Session plus all total_chunks Chunk rows in one MetaStore
// transaction.
func (m *Manager) Initialize(ctx context.Context, filename string, totalSize int64, totalChunks int) (*InitResult, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total_size must be positive", coordinator.ErrBadRequest)
	}
	if totalChunks <= 0 {
		return nil, fmt.Errorf("%w: total_chunks must be positive", coordinator.ErrBadRequest)
	}
	if !strings.HasSuffix(strings.ToLower(filename), strings.ToLower(m.extension)) {
		return nil, fmt.Errorf("%w: filename must end in %s", coordinator.ErrBadRequest, m.extension)
	}

	expectedChunks := int((totalSize + m.chunkSize - 1) / m.chunkSize)
	if totalChunks != expectedChunks {
		return nil, fmt.Errorf("%w: total_chunks %d does not match total_size/chunk_size (expected %d)",
			coordinator.ErrBadRequest, totalChunks, expectedChunks)
	}

	id := uuid.New()
	blobPath := filepath.Join(m.uploadDir, id.String()+m.extension)

	if err := m.blobs.Preallocate(blobPath, totalSize); err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &models.Session{
		ID:          id,
		Filename:    filename,
		TotalSize:   totalSize,
		TotalChunks: totalChunks,
		Status:      models.StatusUploading,
		BlobPath:    blobPath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		// The blob file is left in place. RecoveryService's sweeps only
		// visit sessions that have a row, so they do not remove this file.
		m.logger.Error("failed to create session row after preallocating blob", err)
		return nil, err
	}

	return &InitResult{SessionID: id, UploadedIndices: []int{}}, nil
}

// Status returns the session and its chunk progress, for
// GET /upload/{id}/status.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (*models.Session, models.Progress, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, models.Progress{}, err
	}
	total, successful, err := m.store.CountChunks(ctx, id)
	if err != nil {
		return nil, models.Progress{}, err
	}
	return sess, models.Progress{Completed: successful, Total: total}, nil
}
