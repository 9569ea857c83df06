// Package coordinator holds the error vocabulary shared by every layer of
// the upload coordinator: MetaStore, BlobStore, Validator, SessionManager,
// ChunkIngestor, Finalizer and RecoveryService all return one of these
// sentinels (wrapped with context via %w) instead of ad-hoc error strings,
// so the HTTP handler layer can map failures to status codes with a single
// errors.Is chain.
package coordinator

import "errors"

var (
	// ErrBadRequest marks malformed caller input. Surfaced as HTTP 400.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound marks a reference to an unknown session or chunk index.
	// Surfaced as HTTP 404.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation that is invalid given the session's
	// current status (e.g. a chunk arriving after PROCESSING/COMPLETED).
	// Surfaced as HTTP 409.
	ErrConflict = errors.New("conflict")

	// ErrIntegrityFailed marks a checksum or structural-validation
	// mismatch: a client-supplied chunk hash that doesn't match the
	// received bytes, or a post-assembly hash/archive check that failed.
	ErrIntegrityFailed = errors.New("integrity check failed")

	// ErrBlobIO marks a filesystem I/O failure on the blob store.
	// Surfaced as HTTP 500; the client is expected to retry the whole
	// chunk since ingestion is idempotent.
	ErrBlobIO = errors.New("blob storage I/O error")

	// ErrStoreUnavailable marks a MetaStore connectivity failure.
	// Surfaced as HTTP 500.
	ErrStoreUnavailable = errors.New("metadata store unavailable")

	// ErrStoreConflict marks optimistic-concurrency retry exhaustion in
	// the MetaStore, for backends that use OCC instead of row locks.
	ErrStoreConflict = errors.New("metadata store conflict")
)
