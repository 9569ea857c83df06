// Package memstore is an in-memory implementation of repository.MetaStore,
// used by the session/ingest/finalize/recovery/handlers test suites in place of a
// live Postgres instance. It is not used by any production binary.
package memstore

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/models"
)

type chunkKey struct {
	sessionID uuid.UUID
	index     int
}

// Store is a MetaStore backed by in-memory maps. mu guards the maps
// themselves; sessionLocks models the row-level exclusive lock
// WithSessionLock takes in the Postgres implementation: a distinct lock
// per session id, held only for the duration of the callback, so the
// callback is free to call back into other Store methods (as Finalizer
// does for CountChunks and UpdateSessionStatus) without deadlocking.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	chunks   map[chunkKey]models.ChunkStatus

	lockMu       sync.Mutex
	sessionLocks map[uuid.UUID]*sync.Mutex
}

func New() *Store {
	return &Store{
		sessions:     make(map[uuid.UUID]*models.Session),
		chunks:       make(map[chunkKey]models.ChunkStatus),
		sessionLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Store) lockFor(id uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.sessionLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.sessionLocks[id] = l
	}
	return l
}

func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *session
	s.sessions[session.ID] = &cp
	for i := 0; i < session.TotalChunks; i++ {
		s.chunks[chunkKey{session.ID, i}] = models.ChunkPending
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id uuid.UUID) (*models.Session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, coordinator.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) WithSessionLock(ctx context.Context, id uuid.UUID, fn func(tx *sql.Tx, session *models.Session) error) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return fn(nil, sess)
}

func (s *Store) MarkChunkSuccess(ctx context.Context, sessionID uuid.UUID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chunkKey{sessionID, index}
	if s.chunks[key] != models.ChunkPending {
		return nil
	}
	s.chunks[key] = models.ChunkSuccess
	return nil
}

func (s *Store) GetChunkStatus(ctx context.Context, sessionID uuid.UUID, index int) (models.ChunkStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.chunks[chunkKey{sessionID, index}]
	if !ok {
		return "", coordinator.ErrNotFound
	}
	return status, nil
}

func (s *Store) CountChunks(ctx context.Context, sessionID uuid.UUID) (total, successful int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, status := range s.chunks {
		if key.sessionID != sessionID {
			continue
		}
		total++
		if status == models.ChunkSuccess {
			successful++
		}
	}
	return total, successful, nil
}

func (s *Store) ListSessionsByStatus(ctx context.Context, status models.Status) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.Status == status {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListSessionsOlderThan(ctx context.Context, status models.Status, cutoff time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.Status == status && sess.CreatedAt.Before(cutoff) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status models.Status, finalHash *string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return coordinator.ErrNotFound
	}
	sess.Status = status
	sess.FinalHash = finalHash
	sess.CompletedAt = completedAt
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return coordinator.ErrNotFound
	}
	delete(s.sessions, id)
	for key := range s.chunks {
		if key.sessionID == id {
			delete(s.chunks, key)
		}
	}
	return nil
}
