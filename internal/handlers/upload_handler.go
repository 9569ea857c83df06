// Package handlers implements the upload coordinator's HTTP surface:
// session init, chunk ingestion, status, and archive contents listing. It
// translates coordinator errors to HTTP status codes in exactly one
// place per request, one JSON response per failure.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/securestor/securestor/internal/cache"
	"github.com/securestor/securestor/internal/coordinator"
	"github.com/securestor/securestor/internal/finalize"
	"github.com/securestor/securestor/internal/ingest"
	"github.com/securestor/securestor/internal/models"
	"github.com/securestor/securestor/internal/session"
	"github.com/securestor/securestor/internal/validator"
)

type UploadHandler struct {
	sessions    *session.Manager
	ingestor    *ingest.Ingestor
	finalizer   *finalize.Finalizer
	validator   *validator.Validator
	statusCache *cache.StatusCache
}

func NewUploadHandler(sessions *session.Manager, ingestor *ingest.Ingestor, finalizer *finalize.Finalizer, v *validator.Validator, statusCache *cache.StatusCache) *UploadHandler {
	return &UploadHandler{
		sessions:    sessions,
		ingestor:    ingestor,
		finalizer:   finalizer,
		validator:   v,
		statusCache: statusCache,
	}
}

// RegisterRoutes wires the upload endpoints onto rg.
func (h *UploadHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload/init", h.Init)
	rg.POST("/upload/chunk", h.Chunk)
	rg.GET("/upload/:id/status", h.Status)
	rg.GET("/upload/:id/contents", h.Contents)
	rg.POST("/upload/:id/finalize", h.Finalize)
}

type initRequest struct {
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"total_size"`
	TotalChunks int    `json:"total_chunks"`
}

// Init handles POST /upload/init.
func (h *UploadHandler) Init(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.sessions.Initialize(c.Request.Context(), req.Filename, req.TotalSize, req.TotalChunks)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":      result.SessionID,
		"uploaded_chunks": result.UploadedIndices,
	})
}

// Chunk handles POST /upload/chunk: a multipart form carrying
// session_id, chunk_index, an optional chunk_hash, and the chunk binary.
func (h *UploadHandler) Chunk(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Request.FormValue("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing session_id"})
		return
	}
	index, err := strconv.Atoi(c.Request.FormValue("chunk_index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or missing chunk_index"})
		return
	}
	chunkHash := c.Request.FormValue("chunk_hash")

	file, _, err := c.Request.FormFile("chunk")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk file is required"})
		return
	}
	defer file.Close()

	outcome, err := h.ingestor.AcceptChunk(c.Request.Context(), sessionID, index, chunkHash, file)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.statusCache != nil {
		h.statusCache.Invalidate(c.Request.Context(), sessionID)
	}

	c.JSON(http.StatusOK, gin.H{
		"chunk_index": index,
		"duplicate":   outcome.Duplicate,
		"progress": gin.H{
			"completed": outcome.Progress.Completed,
			"total":     outcome.Progress.Total,
		},
	})
}

// Status handles GET /upload/{id}/status, consulting the read-through
// cache before the MetaStore.
func (h *UploadHandler) Status(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if cached, ok := h.statusCache.Get(c.Request.Context(), sessionID); ok {
		c.JSON(http.StatusOK, gin.H{"session": cached.Session, "progress": cached.Progress})
		return
	}

	sess, progress, err := h.sessions.Status(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.statusCache != nil && sess.Status.IsTerminal() {
		// Only cache terminal snapshots. An in-flight UPLOADING session's
		// progress changes too often for a cache to help, and a stale read
		// of a terminal session is indistinguishable from a fresh one.
		h.statusCache.Set(c.Request.Context(), sessionID, cache.StatusEntry{Session: sess, Progress: progress})
	}

	c.JSON(http.StatusOK, gin.H{"session": sess, "progress": progress})
}

// Finalize handles POST /upload/{id}/finalize: the client-driven trigger
// path, complementing ChunkIngestor's advisory fire-and-forget call.
func (h *UploadHandler) Finalize(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	result, err := h.finalizer.Finalize(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.statusCache != nil {
		h.statusCache.Invalidate(c.Request.Context(), sessionID)
	}

	c.JSON(http.StatusOK, gin.H{"status": result.Status, "final_hash": result.FinalHash})
}

// Contents handles GET /upload/{id}/contents: the archive's central
// directory entries, only available once the session is COMPLETED.
func (h *UploadHandler) Contents(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, _, err := h.sessions.Status(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.Status != models.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is not COMPLETED"})
		return
	}

	entries, err := h.validator.ListArchiveContents(sess.BlobPath)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// writeError is the single translation point from the coordinator's
// sentinel error vocabulary to HTTP status + {error, details?} JSON.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, coordinator.ErrIntegrityFailed):
		status = http.StatusBadRequest
	case errors.Is(err, coordinator.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coordinator.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, coordinator.ErrBlobIO), errors.Is(err, coordinator.ErrStoreUnavailable), errors.Is(err, coordinator.ErrStoreConflict):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
