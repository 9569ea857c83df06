// Package repository implements MetaStore: the transactional record of
// upload sessions and their chunks. It is the only package that knows
// SQL; everything above it (SessionManager, ChunkIngestor, Finalizer,
// RecoveryService) talks to the MetaStore interface.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/models"
)

// MetaStore is the transactional backend SessionManager, ChunkIngestor,
// Finalizer and RecoveryService build on.
type MetaStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)

	// WithSessionLock begins a transaction, takes a row-level exclusive
	// lock on the session (SELECT ... FOR UPDATE), and invokes fn with
	// the locked snapshot. The lock is held for the lifetime of fn: a
	// second concurrent WithSessionLock call for the same id blocks until
	// fn returns. If fn returns a non-nil error the transaction is rolled
	// back and that error is returned; otherwise the transaction commits.
	WithSessionLock(ctx context.Context, id uuid.UUID, fn func(tx *sql.Tx, session *models.Session) error) error

	MarkChunkSuccess(ctx context.Context, sessionID uuid.UUID, index int) error
	GetChunkStatus(ctx context.Context, sessionID uuid.UUID, index int) (models.ChunkStatus, error)
	CountChunks(ctx context.Context, sessionID uuid.UUID) (total, successful int, err error)

	ListSessionsByStatus(ctx context.Context, status models.Status) ([]*models.Session, error)
	ListSessionsOlderThan(ctx context.Context, status models.Status, cutoff time.Time) ([]*models.Session, error)

	UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.Status, finalHash *string, completedAt *time.Time) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
}

// PostgresMetaStore is the database/sql + lib/pq implementation of MetaStore.
type PostgresMetaStore struct {
	db *sql.DB
}

func NewPostgresMetaStore(db *sql.DB) *PostgresMetaStore {
	return &PostgresMetaStore{db: db}
}

// CreateSession inserts the session row and its total_chunks PENDING chunk
// rows in a single transaction: both tables or neither.
func (r *PostgresMetaStore) CreateSession(ctx context.Context, session *models.Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, filename, total_size, total_chunks, status, blob_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, session.ID, session.Filename, session.TotalSize, session.TotalChunks, session.Status, session.BlobPath, session.CreatedAt)
	if err != nil {
		return wrapStoreErr(err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (session_id, index, status) VALUES ($1, $2, $3)
	`)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer stmt.Close()

	for i := 0; i < session.TotalChunks; i++ {
		if _, err := stmt.ExecContext(ctx, session.ID, i, models.ChunkPending); err != nil {
			return wrapStoreErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func (r *PostgresMetaStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, sessionSelectQuery+" WHERE id = $1", id)
	return scanSession(row)
}

func (r *PostgresMetaStore) WithSessionLock(ctx context.Context, id uuid.UUID, fn func(tx *sql.Tx, session *models.Session) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, sessionSelectQuery+" WHERE id = $1 FOR UPDATE", id)
	session, err := scanSession(row)
	if err != nil {
		return err
	}

	if err := fn(tx, session); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr(err)
	}
	return nil
}

func (r *PostgresMetaStore) MarkChunkSuccess(ctx context.Context, sessionID uuid.UUID, index int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chunks SET status = $1, received_at = $2
		WHERE session_id = $3 AND index = $4 AND status = $5
	`, models.ChunkSuccess, time.Now(), sessionID, index, models.ChunkPending)
	if err != nil {
		return wrapStoreErr(err)
	}
	// No rows affected means the chunk was already SUCCESS (idempotent
	// no-op) or the index doesn't exist; callers distinguish the two by
	// checking chunk status themselves before calling this.
	return nil
}

func (r *PostgresMetaStore) GetChunkStatus(ctx context.Context, sessionID uuid.UUID, index int) (models.ChunkStatus, error) {
	var status models.ChunkStatus
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM chunks WHERE session_id = $1 AND index = $2
	`, sessionID, index).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", coordinator.ErrNotFound
	}
	if err != nil {
		return "", wrapStoreErr(err)
	}
	return status, nil
}

func (r *PostgresMetaStore) CountChunks(ctx context.Context, sessionID uuid.UUID) (total, successful int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $2)
		FROM chunks WHERE session_id = $1
	`, sessionID, models.ChunkSuccess).Scan(&total, &successful)
	if err != nil {
		return 0, 0, wrapStoreErr(err)
	}
	return total, successful, nil
}

func (r *PostgresMetaStore) ListSessionsByStatus(ctx context.Context, status models.Status) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, sessionSelectQuery+" WHERE status = $1 ORDER BY created_at", status)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *PostgresMetaStore) ListSessionsOlderThan(ctx context.Context, status models.Status, cutoff time.Time) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, sessionSelectQuery+" WHERE status = $1 AND created_at < $2 ORDER BY created_at", status, cutoff)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (r *PostgresMetaStore) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.Status, finalHash *string, completedAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $1, final_hash = $2, completed_at = $3, updated_at = $4
		WHERE id = $5
	`, status, finalHash, completedAt, time.Now(), id)
	if err != nil {
		return wrapStoreErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(err)
	}
	if n == 0 {
		return coordinator.ErrNotFound
	}
	return nil
}

func (r *PostgresMetaStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	// Chunk rows cascade via ON DELETE CASCADE: session and chunks are
	// destroyed together.
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return wrapStoreErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(err)
	}
	if n == 0 {
		return coordinator.ErrNotFound
	}
	return nil
}

const sessionSelectQuery = `
	SELECT id, filename, total_size, total_chunks, status, blob_path, final_hash, created_at, updated_at, completed_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.Filename, &s.TotalSize, &s.TotalChunks, &s.Status, &s.BlobPath,
		&s.FinalHash, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coordinator.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(err)
	}
	return sessions, nil
}

// wrapStoreErr classifies a database/sql error into the coordinator's
// error vocabulary: missing rows become ErrNotFound, serialization
// failures and deadlocks become ErrStoreConflict, and every other error
// becomes ErrStoreUnavailable. The underlying error is kept only as text
// in the message; errors.Unwrap yields the sentinel.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return coordinator.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure / deadlock_detected: the OCC-style
		// conflict path for backends where a retry is the right move.
		if pqErr.Code == "40001" || pqErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", coordinator.ErrStoreConflict, err)
		}
		return fmt.Errorf("%w: %v", coordinator.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", coordinator.ErrStoreUnavailable, err)
}
