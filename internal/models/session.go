package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Session's position in the upload state machine.
//
//	UPLOADING -> PROCESSING -> COMPLETED
//	                        \-> FAILED
//	UPLOADING -> FAILED (abandonment)
//
// COMPLETED and FAILED are terminal: no further transitions are permitted.
type Status string

const (
	StatusUploading  Status = "UPLOADING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether no further status transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one upload attempt. It owns a blob file on disk and a
// fixed-cardinality set of Chunk rows from creation to deletion.
type Session struct {
	ID           uuid.UUID
	Filename     string
	TotalSize    int64
	TotalChunks  int
	Status       Status
	BlobPath     string
	FinalHash    *string // populated only once Status == COMPLETED

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ChunkStatus is a Chunk's position in its own (one-way) state machine.
type ChunkStatus string

const (
	ChunkPending ChunkStatus = "PENDING"
	ChunkSuccess ChunkStatus = "SUCCESS"
)

// Chunk is one (session, index) pair, pre-materialized at session
// creation. Its bytes live at offset index*CHUNK_SIZE in the session's
// blob file.
type Chunk struct {
	SessionID  uuid.UUID
	Index      int
	Status     ChunkStatus
	ReceivedAt *time.Time
}

// Progress summarizes how many of a session's chunks have been received.
type Progress struct {
	Completed int
	Total     int
}

// ChunkOffset returns the byte range [start, end) a chunk of the given
// index occupies within a session's blob. Every chunk but the last is
// exactly CHUNK_SIZE bytes; the last chunk holds the remainder.
func ChunkOffset(index int, totalChunks int, chunkSize, totalSize int64) (start, end int64) {
	start = int64(index) * chunkSize
	if index == totalChunks-1 {
		end = totalSize
	} else {
		end = start + chunkSize
	}
	return start, end
}
