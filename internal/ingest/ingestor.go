// Package ingest implements ChunkIngestor: accepting one chunk's bytes,
// writing them to their offset in the session blob, and recording success.
// It is the hot path, called once per chunk with potentially many
// concurrent chunks per session, and is built to be safe when two uploads
// of the same index race, and to be a no-op on retry of a chunk already
// marked SUCCESS.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/repository"
)

// FinalizeTrigger is the advisory hook ChunkIngestor calls once every
// chunk of a session reports SUCCESS. It must tolerate being invoked more
// than once for the same session.
type FinalizeTrigger func(sessionID uuid.UUID)

type Ingestor struct {
	store     repository.MetaStore
	blobs     *blobstore.BlobStore
	chunkSize int64
	trigger   FinalizeTrigger
	logger    *logger.Logger
}

func NewIngestor(store repository.MetaStore, blobs *blobstore.BlobStore, chunkSize int64, trigger FinalizeTrigger, log *logger.Logger) *Ingestor {
	return &Ingestor{store: store, blobs: blobs, chunkSize: chunkSize, trigger: trigger, logger: log}
}

// Outcome reports what AcceptChunk actually did, mirroring the
// {chunk_index, duplicate, progress} response shape of POST /upload/chunk.
type Outcome struct {
	Duplicate bool
	Progress  models.Progress
}

// AcceptChunk writes r's contents to the correct offset in the session's
// blob and marks the chunk SUCCESS:
//  1. Session must exist and be in UPLOADING (any other status is a
//     conflict).
//  2. index must be in [0, total_chunks).
//  3. If the chunk is already SUCCESS, the write is skipped and the call
//     returns Duplicate=true: a client retrying a chunk it already
//     delivered must not corrupt a byte range another in-flight request
//     may be reading (Finalizer hashing the blob, for instance).
//  4. The payload length must match the expected size for that index,
//     CHUNK_SIZE for every chunk but the last and the remainder for the
//     last, enforced by capping the read and checking what came back.
//  5. If expectedHash is non-empty, the payload is staged into a bounded
//     buffer and hashed before it ever reaches the blob; a mismatch fails
//     with ErrIntegrityFailed and no write happens.
//  6. On success, once every chunk reports SUCCESS, Finalize is triggered
//     asynchronously. This is advisory only and never the sole path to
//     completion; RecoveryService's periodic sweep closes that gap.
func (ig *Ingestor) AcceptChunk(ctx context.Context, sessionID uuid.UUID, index int, expectedHash string, r io.Reader) (Outcome, error) {
	sess, err := ig.store.GetSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if sess.Status != models.StatusUploading {
		return Outcome{}, fmt.Errorf("%w: session %s is %s, not accepting chunks", coordinator.ErrConflict, sessionID, sess.Status)
	}
	if index < 0 || index >= sess.TotalChunks {
		return Outcome{}, fmt.Errorf("%w: chunk index %d out of range [0,%d)", coordinator.ErrBadRequest, index, sess.TotalChunks)
	}

	status, err := ig.store.GetChunkStatus(ctx, sessionID, index)
	if err != nil {
		return Outcome{}, err
	}
	if status == models.ChunkSuccess {
		total, successful, err := ig.store.CountChunks(ctx, sessionID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Duplicate: true, Progress: models.Progress{Completed: successful, Total: total}}, nil
	}

	start, end := models.ChunkOffset(index, sess.TotalChunks, ig.chunkSize, sess.TotalSize)
	expectedLen := end - start

	if expectedHash != "" {
		// Hash while streaming into a bounded buffer; only write to the
		// blob once the payload is confirmed to match.
		buf := make([]byte, 0, expectedLen)
		w := bytes.NewBuffer(buf)
		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(w, h), io.LimitReader(r, expectedLen+1))
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: reading chunk %d: %v", coordinator.ErrBlobIO, index, err)
		}
		if n != expectedLen {
			return Outcome{}, fmt.Errorf("%w: chunk %d length %d does not match expected %d", coordinator.ErrBadRequest, index, n, expectedLen)
		}
		if hex.EncodeToString(h.Sum(nil)) != expectedHash {
			return Outcome{}, fmt.Errorf("%w: chunk %d hash mismatch", coordinator.ErrIntegrityFailed, index)
		}
		if _, err := ig.blobs.WriteAt(sess.BlobPath, start, w); err != nil {
			return Outcome{}, err
		}
	} else {
		n, err := ig.blobs.WriteAt(sess.BlobPath, start, io.LimitReader(r, expectedLen))
		if err != nil {
			return Outcome{}, err
		}
		if n == expectedLen {
			// Probe for one byte past the expected length without letting
			// it reach the blob, where it would land in the next chunk's range.
			extra, _ := io.ReadFull(r, make([]byte, 1))
			n += int64(extra)
		}
		if n != expectedLen {
			return Outcome{}, fmt.Errorf("%w: chunk %d length %d does not match expected %d", coordinator.ErrBadRequest, index, n, expectedLen)
		}
	}

	if err := ig.store.MarkChunkSuccess(ctx, sessionID, index); err != nil {
		return Outcome{}, err
	}

	total, successful, err := ig.store.CountChunks(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if successful == total && ig.trigger != nil {
		go ig.trigger(sessionID)
	}

	return Outcome{Duplicate: false, Progress: models.Progress{Completed: successful, Total: total}}, nil
}
