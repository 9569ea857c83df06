// Package recovery implements RecoveryService: the startup-and-periodic
// sweep that drives stuck sessions to a well-defined terminal state and
// reaps abandoned ones. Idempotency is the central property here: both
// sweeps must be safe to run any number of times, concurrently with
// regular ingestion, with the same eventual outcome.
package recovery

import (
	"context"
	"time"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/finalize"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/repository"
)

// Service runs the two recovery sweeps: interrupted-finalization recovery
// and abandoned-session reaping.
type Service struct {
	store              repository.MetaStore
	blobs              *blobstore.BlobStore
	finalizer          *finalize.Finalizer
	abandonmentTimeout time.Duration
	logger             *logger.Logger
}

func NewService(store repository.MetaStore, blobs *blobstore.BlobStore, finalizer *finalize.Finalizer, abandonmentTimeout time.Duration, log *logger.Logger) *Service {
	return &Service{
		store:              store,
		blobs:              blobs,
		finalizer:          finalizer,
		abandonmentTimeout: abandonmentTimeout,
		logger:             log,
	}
}

// RunOnce executes both sweeps in sequence and returns aggregate counts,
// used both at startup and by each periodic tick.
type Counts struct {
	ProcessingRecovered int
	UploadingFinalized  int
	Abandoned           int
}

func (s *Service) RunOnce(ctx context.Context) (Counts, error) {
	var counts Counts

	recoveredA, finalizedA, err := s.sweepInterruptedFinalization(ctx)
	if err != nil {
		return counts, err
	}
	counts.ProcessingRecovered = recoveredA
	counts.UploadingFinalized = finalizedA

	abandoned, err := s.sweepAbandonedSessions(ctx)
	if err != nil {
		return counts, err
	}
	counts.Abandoned = abandoned

	return counts, nil
}

// sweepInterruptedFinalization covers two overlapping gaps: sessions
// stuck in PROCESSING because the process died between the lock release
// and the terminal write, and sessions still UPLOADING whose chunks are
// all SUCCESS but whose advisory finalize trigger never fired or was
// lost. Both are driven back through Finalize to guarantee progress.
func (s *Service) sweepInterruptedFinalization(ctx context.Context) (recovered, finalized int, err error) {
	processing, err := s.store.ListSessionsByStatus(ctx, models.StatusProcessing)
	if err != nil {
		return 0, 0, err
	}
	for _, sess := range processing {
		if !s.blobs.Exists(sess.BlobPath) {
			now := time.Now()
			if err := s.store.UpdateSessionStatus(ctx, sess.ID, models.StatusFailed, nil, &now); err != nil {
				s.logger.Error("sweep A: failed to mark blob-missing session FAILED", err)
			}
			continue
		}

		total, successful, err := s.store.CountChunks(ctx, sess.ID)
		if err != nil {
			s.logger.Error("sweep A: failed to count chunks", err)
			continue
		}
		if successful < total {
			if err := s.store.UpdateSessionStatus(ctx, sess.ID, models.StatusUploading, nil, nil); err != nil {
				s.logger.Error("sweep A: failed to reset incomplete PROCESSING session to UPLOADING", err)
				continue
			}
			recovered++
			continue
		}

		// All chunks present and blob on disk: the process died somewhere
		// in the step 3-5 pipeline. Re-running it is safe; it is a pure
		// function of the file's current bytes.
		if _, err := s.finalizer.Finalize(ctx, sess.ID); err != nil {
			s.logger.Error("sweep A: re-running finalize for PROCESSING session failed", err)
			continue
		}
		recovered++
	}

	uploading, err := s.store.ListSessionsByStatus(ctx, models.StatusUploading)
	if err != nil {
		return recovered, finalized, err
	}
	for _, sess := range uploading {
		total, successful, err := s.store.CountChunks(ctx, sess.ID)
		if err != nil {
			s.logger.Error("sweep A: failed to count chunks for UPLOADING session", err)
			continue
		}
		if successful != total {
			continue
		}
		if _, err := s.finalizer.Finalize(ctx, sess.ID); err != nil {
			s.logger.Error("sweep A: finalize for complete-but-UPLOADING session failed", err)
			continue
		}
		finalized++
	}

	return recovered, finalized, nil
}

// sweepAbandonedSessions is Sweep B. The blob is deleted before the
// status update so the commit point is the database write: if the
// process dies in between, a subsequent Sweep B finds the same stale
// UPLOADING session, Delete is a no-op on the missing blob, and the
// FAILED update is retried.
func (s *Service) sweepAbandonedSessions(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.abandonmentTimeout)
	stale, err := s.store.ListSessionsOlderThan(ctx, models.StatusUploading, cutoff)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, sess := range stale {
		if err := s.blobs.Delete(sess.BlobPath); err != nil {
			s.logger.Error("sweep B: failed to delete blob for abandoned session", err)
			continue
		}
		now := time.Now()
		if err := s.store.UpdateSessionStatus(ctx, sess.ID, models.StatusFailed, nil, &now); err != nil {
			s.logger.Error("sweep B: failed to mark abandoned session FAILED", err)
			continue
		}
		reaped++
	}
	return reaped, nil
}
