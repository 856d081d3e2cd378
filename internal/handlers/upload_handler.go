package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/agjmills/huddle/internal/config"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/upload"
	"github.com/go-chi/chi/v5"
)

type UploadHandler struct {
	manager *upload.Manager
	cfg     *config.Config
}

func NewUploadHandler(manager *upload.Manager, cfg *config.Config) *UploadHandler {
	return &UploadHandler{
		manager: manager,
		cfg:     cfg,
	}
}

// InitUploadRequest represents the request to initialize a chunked upload
type InitUploadRequest struct {
	FileName    string `json:"fileName"`
	TotalSize   int64  `json:"totalSize"`
	ContentType string `json:"contentType"`
}

// InitUploadResponse represents the response from initializing an upload
type InitUploadResponse struct {
	SessionID string `json:"sessionId"`
}

// ProgressResponse is returned after each chunk and by the progress endpoint
type ProgressResponse struct {
	Progress     int   `json:"progress"`
	UploadedSize int64 `json:"uploadedSize"`
	TotalSize    int64 `json:"totalSize"`
}

// CompleteUploadResponse carries the id of the committed file
type CompleteUploadResponse struct {
	FileID uint `json:"fileId"`
}

// InitUpload opens a new upload session
func (h *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		logger.Debug("failed to decode init upload request", "error", err)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	sessionID, err := h.manager.Initialize(r.Context(), req.FileName, req.TotalSize, req.ContentType)
	if err != nil {
		if errors.Is(err, upload.ErrInvalidUpload) {
			http.Error(w, "Invalid upload parameters", http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, InitUploadResponse{SessionID: sessionID})
}

// UploadChunk appends the raw request body to the session
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, ok := h.manager.GetSession(sessionID); !ok {
		http.Error(w, "Upload session not found", http.StatusNotFound)
		return
	}

	chunkIndex := -1
	if raw := r.URL.Query().Get("chunkIndex"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "Invalid chunk index", http.StatusBadRequest)
			return
		}
		chunkIndex = n
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxChunkSize)
	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Chunk too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Warn("failed to read chunk body", "error", err, "session_id", sessionID)
		http.Error(w, "Failed to read chunk", http.StatusBadRequest)
		return
	}

	if !h.manager.UploadChunk(r.Context(), sessionID, chunk, chunkIndex) {
		http.Error(w, "Failed to store chunk", http.StatusInternalServerError)
		return
	}

	progress, ok := h.manager.GetSession(sessionID)
	if !ok {
		// Completed by a concurrent request after this chunk was stored
		writeJSON(w, http.StatusOK, ProgressResponse{Progress: 100})
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// CompleteUpload commits the session and returns the new file id
func (h *UploadHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	fileID, ok := h.manager.CompleteUpload(r.Context(), sessionID)
	if !ok {
		http.Error(w, "Failed to complete upload", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, CompleteUploadResponse{FileID: fileID})
}

// GetProgress reports progress for an open session
func (h *UploadHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, ok := h.manager.GetSession(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Upload session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// CancelUpload abandons an open session
func (h *UploadHandler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Cancel(r.Context(), chi.URLParam(r, "id")) {
		http.Error(w, "Upload session not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toProgressResponse(p upload.Progress) ProgressResponse {
	return ProgressResponse{
		Progress:     p.Percent,
		UploadedSize: p.UploadedSize,
		TotalSize:    p.TotalSize,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode JSON response", "error", err)
	}
}
