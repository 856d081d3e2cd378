package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agjmills/huddle/internal/database/models"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/storage"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type FileHandler struct {
	db      *gorm.DB
	storage storage.Backend
}

func NewFileHandler(db *gorm.DB, storage storage.Backend) *FileHandler {
	return &FileHandler{
		db:      db,
		storage: storage,
	}
}

// FileInfoResponse describes a stored file
type FileInfoResponse struct {
	FileID      uint      `json:"fileId"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Exists      bool      `json:"exists"`
}

// loadFile looks up the file named by the {id} URL parameter, writing an
// error response and returning nil when it cannot.
func (h *FileHandler) loadFile(w http.ResponseWriter, r *http.Request) *models.File {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "Invalid file ID", http.StatusBadRequest)
		return nil
	}

	var file models.File
	if err := h.db.WithContext(r.Context()).First(&file, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return nil
		}
		logger.Error("failed to load file", "error", err, "file_id", id)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}
	return &file
}

// Download streams the file as an attachment
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	file := h.loadFile(w, r)
	if file == nil {
		return
	}
	h.serve(w, r, file, "attachment")
}

// Preview streams an image inline
func (h *FileHandler) Preview(w http.ResponseWriter, r *http.Request) {
	file := h.loadFile(w, r)
	if file == nil {
		return
	}
	if !strings.HasPrefix(file.ContentType, "image/") {
		http.Error(w, "Preview is only available for images", http.StatusBadRequest)
		return
	}
	h.serve(w, r, file, "inline")
}

// Info returns file metadata and whether the object is still in storage
func (h *FileHandler) Info(w http.ResponseWriter, r *http.Request) {
	file := h.loadFile(w, r)
	if file == nil {
		return
	}

	exists := true
	if _, err := h.storage.Stat(r.Context(), file.StoragePath); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("failed to stat stored file", "error", err, "file_id", file.ID)
		}
		exists = false
	}

	writeJSON(w, http.StatusOK, FileInfoResponse{
		FileID:      file.ID,
		FileName:    file.FileName,
		Size:        file.Size,
		ContentType: file.ContentType,
		UploadedAt:  file.UploadedAt,
		Exists:      exists,
	})
}

func (h *FileHandler) serve(w http.ResponseWriter, r *http.Request, file *models.File, disposition string) {
	reader, err := h.storage.Open(r.Context(), file.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found in storage", http.StatusNotFound)
			return
		}
		logger.Error("failed to open stored file", "error", err, "file_id", file.ID)
		http.Error(w, "Failed to open file", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", file.ContentType)
	// Escape quotes in filename and add UTF-8 encoded version for non-ASCII support
	safeFilename := strings.ReplaceAll(file.FileName, `"`, `\"`)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`,
		disposition, safeFilename, url.PathEscape(file.FileName)))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))

	if _, err := io.Copy(w, reader); err != nil {
		logger.Warn("error streaming file", "error", err, "storage_path", file.StoragePath)
	}
}
