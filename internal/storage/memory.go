package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/agjmills/huddle/internal/logger"
	"github.com/liamg/memoryfs"
)

// MemoryBackend implements Backend using an in-memory filesystem.
// Useful for integration testing without touching permanent disk storage.
// Thread-safe for concurrent use.
type MemoryBackend struct {
	fs *memoryfs.FS
	mu sync.RWMutex // Protects fs operations
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		fs: newMemoryFS(),
	}
}

func newMemoryFS() *memoryfs.FS {
	mfs := memoryfs.New()
	_ = mfs.MkdirAll(filesPrefix, 0755)
	return mfs
}

// Promote reads the temp file into memory and removes it from disk.
func (m *MemoryBackend) Promote(ctx context.Context, tempPath string, opts PromoteOptions) (PromoteResult, error) {
	src, err := os.Open(tempPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PromoteResult{}, ErrNotFound
		}
		return PromoteResult{}, fmt.Errorf("failed to open temp file: %w", err)
	}

	var buf bytes.Buffer
	copyBuf := make([]byte, copyBufferSize)
	size, err := io.CopyBuffer(&buf, src, copyBuf)
	src.Close()
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to read temp file: %w", err)
	}

	name := objectName(opts.OriginalFilename)

	m.mu.Lock()
	err = m.fs.WriteFile(name, buf.Bytes(), 0644)
	m.mu.Unlock()
	if err != nil {
		return PromoteResult{}, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp file after promotion", "temp_path", tempPath, "error", err)
	}

	return PromoteResult{Path: name, Size: size}, nil
}

// Open returns a reader for the file at the given path.
func (m *MemoryBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.RLock()
	content, err := m.fs.ReadFile(path)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return io.NopCloser(bytes.NewReader(content)), nil
}

// Delete removes a file. Returns nil if file doesn't exist (idempotent).
func (m *MemoryBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	err := m.fs.Remove(path)
	m.mu.Unlock()
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Stat returns file metadata without opening it.
func (m *MemoryBackend) Stat(ctx context.Context, path string) (FileInfo, error) {
	m.mu.RLock()
	info, err := m.fs.Stat(path)
	m.mu.RUnlock()
	if err != nil {
		if isNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}

	return FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// HealthCheck always succeeds; the memory backend has no external dependencies.
func (m *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// ValidateAccess always succeeds.
func (m *MemoryBackend) ValidateAccess(ctx context.Context) error {
	return nil
}

// Clear removes all files from the memory backend.
// Useful for test cleanup.
func (m *MemoryBackend) Clear() {
	m.mu.Lock()
	m.fs = newMemoryFS()
	m.mu.Unlock()
}

// FileCount returns the number of promoted files currently stored.
// Useful for testing.
func (m *MemoryBackend) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := m.fs.ReadDir(filesPrefix)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}

// isNotExist checks if an error indicates the file doesn't exist.
func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	// memoryfs does not always wrap fs.ErrNotExist
	errStr := err.Error()
	return strings.Contains(errStr, "file does not exist") ||
		strings.Contains(errStr, "no such file")
}
