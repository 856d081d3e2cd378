package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist in the backend
var ErrNotFound = errors.New("file not found in storage")

// copyBufferSize is the buffer size used for file copies (8MB aligns with S3 multipart upload parts)
const copyBufferSize = 8 * 1024 * 1024

// filesPrefix is the directory (or key prefix) holding promoted uploads.
const filesPrefix = "files"

// PromoteOptions describes the object being promoted into permanent storage.
type PromoteOptions struct {
	OriginalFilename string
	ContentType      string
}

// PromoteResult describes where a promoted object landed.
type PromoteResult struct {
	Path string // Relative, forward-slash path usable with Open/Stat/Delete
	Size int64
}

// FileInfo is object metadata returned by Stat.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Backend defines the behavior required by the application for permanent file storage.
// This allows swapping implementations (local FS, memory, S3) while keeping the
// upload manager and handlers implementation-agnostic.
type Backend interface {
	// Promote moves a completed local temp file into permanent storage under a
	// fresh unique name that keeps the original extension. The temp file no
	// longer exists once Promote returns successfully.
	Promote(ctx context.Context, tempPath string, opts PromoteOptions) (PromoteResult, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (FileInfo, error)
	// HealthCheck verifies the backend is reachable (cheap, safe for frequent polling).
	HealthCheck(ctx context.Context) error
	// ValidateAccess performs a full write/read/delete round trip.
	ValidateAccess(ctx context.Context) error
}

// objectName returns the permanent relative path for a new object.
func objectName(originalFilename string) string {
	return path.Join(filesPrefix, uuid.NewString()+filepath.Ext(originalFilename))
}
