// Package finalize implements Finalizer: the transition from UPLOADING to
// a terminal state once every chunk has reported SUCCESS. Finalization is
// driven both by ChunkIngestor's advisory trigger and by RecoveryService's
// periodic sweep, so every step must be safe to invoke concurrently or
// repeatedly for the same session.
package finalize

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/repository"
	"github.com/securestor/securestor/internal/validator"
)

type Finalizer struct {
	store     repository.MetaStore
	blobs     *blobstore.BlobStore
	validator *validator.Validator
	logger    *logger.Logger
}

func NewFinalizer(store repository.MetaStore, blobs *blobstore.BlobStore, v *validator.Validator, log *logger.Logger) *Finalizer {
	return &Finalizer{store: store, blobs: blobs, validator: v, logger: log}
}

// Result reports what Finalize actually did, so callers (the HTTP handler,
// RecoveryService) can log or respond without re-deriving it.
type Result struct {
	Status    models.Status
	FinalHash string
	NoOp      bool // nothing changed: the session was already off UPLOADING, or not every chunk is SUCCESS yet
}

// Finalize drives the state machine:
//
//	UPLOADING ──(lock, all chunks SUCCESS)──▶ PROCESSING
//	PROCESSING ──(size ok ∧ hash ok ∧ archive ok)──▶ COMPLETED
//	PROCESSING ──(any check fails)──▶ FAILED
//
// Steps 1-2 run inside a row lock and are fast; steps 3-5 run outside any
// transaction since hashing a large blob must not pin a DB connection. A
// caller that finds the session already past UPLOADING at step 1 is the
// loser of a concurrent finalize race and returns a no-op result rather
// than an error.
func (f *Finalizer) Finalize(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	entered, err := f.tryEnterProcessing(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if !entered.proceed {
		return Result{Status: entered.status, FinalHash: entered.finalHash, NoOp: true}, nil
	}

	return f.runValidationPipeline(ctx, sessionID)
}

type entryOutcome struct {
	proceed   bool
	status    models.Status
	finalHash string
}

// tryEnterProcessing implements steps 1-2: lock the session, bail out if
// it isn't UPLOADING (double-finalize defense), otherwise mark PROCESSING
// and commit, releasing the lock.
func (f *Finalizer) tryEnterProcessing(ctx context.Context, sessionID uuid.UUID) (entryOutcome, error) {
	var outcome entryOutcome

	err := f.store.WithSessionLock(ctx, sessionID, func(tx *sql.Tx, sess *models.Session) error {
		if sess.Status != models.StatusUploading {
			f.logger.Debug("finalize no-op: session already left UPLOADING", sess.ID, sess.Status)
			outcome.status = sess.Status
			if sess.FinalHash != nil {
				outcome.finalHash = *sess.FinalHash
			}
			return nil
		}

		total, successful, err := f.store.CountChunks(ctx, sessionID)
		if err != nil {
			return err
		}
		if successful < total {
			// Not ready: leave UPLOADING so the client or a later trigger
			// can retry once the remaining chunks land.
			outcome.status = models.StatusUploading
			return nil
		}

		if err := f.store.UpdateSessionStatus(ctx, sessionID, models.StatusProcessing, nil, nil); err != nil {
			return err
		}
		outcome.proceed = true
		outcome.status = models.StatusProcessing
		return nil
	})
	if err != nil {
		return entryOutcome{}, err
	}
	return outcome, nil
}

// runValidationPipeline implements steps 3-5: outside any transaction,
// verify size, hash the blob, validate archive structure, then commit the
// terminal status. Safe to re-run: rehashing and revalidating a file in
// place are pure functions of its bytes, which is what lets the recovery
// sweep call this again for a session stuck mid-PROCESSING.
func (f *Finalizer) runValidationPipeline(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	sess, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	fail := func(reason error) (Result, error) {
		f.logger.Error(fmt.Sprintf("finalization failed for session %s", sessionID), reason)
		now := time.Now()
		if err := f.store.UpdateSessionStatus(ctx, sessionID, models.StatusFailed, nil, &now); err != nil {
			return Result{}, err
		}
		return Result{Status: models.StatusFailed}, nil
	}

	actualSize, err := f.blobs.Size(sess.BlobPath)
	if err != nil {
		return fail(err)
	}
	if actualSize != sess.TotalSize {
		return fail(fmt.Errorf("%w: blob size %d does not match declared total_size %d", coordinator.ErrIntegrityFailed, actualSize, sess.TotalSize))
	}

	hash, err := f.validator.HashBlob(sess.BlobPath)
	if err != nil {
		return fail(err)
	}

	valid, err := f.validator.IsValidArchive(sess.BlobPath)
	if err != nil {
		return fail(err)
	}
	if !valid {
		return fail(fmt.Errorf("%w: blob is not a structurally valid archive", coordinator.ErrIntegrityFailed))
	}

	now := time.Now()
	if err := f.store.UpdateSessionStatus(ctx, sessionID, models.StatusCompleted, &hash, &now); err != nil {
		return Result{}, err
	}
	return Result{Status: models.StatusCompleted, FinalHash: hash}, nil
}
