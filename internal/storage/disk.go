package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agjmills/huddle/internal/logger"
	"github.com/google/uuid"
)

// DiskBackend implements Backend using the local filesystem.
// It uses os.Root for sandboxed file operations, preventing path traversal attacks.
type DiskBackend struct {
	root     *os.Root
	basePath string
}

// NewDiskBackend creates a new disk-based storage backend.
// The basePath directory (and its files/ subdirectory) will be created if missing.
func NewDiskBackend(basePath string) (*DiskBackend, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, filesPrefix), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage root: %w", err)
	}

	return &DiskBackend{
		root:     root,
		basePath: absPath,
	}, nil
}

// Promote renames the temp file into the storage directory. When the temp
// directory lives on another device the rename fails and the content is
// copied through the sandboxed root instead.
func (d *DiskBackend) Promote(ctx context.Context, tempPath string, opts PromoteOptions) (PromoteResult, error) {
	info, err := os.Stat(tempPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PromoteResult{}, ErrNotFound
		}
		return PromoteResult{}, fmt.Errorf("failed to stat temp file: %w", err)
	}

	name := objectName(opts.OriginalFilename)
	dest := filepath.Join(d.basePath, filepath.FromSlash(name))

	// os.Rename replaces an existing destination, so a name collision cannot fail the move
	if err := os.Rename(tempPath, dest); err == nil {
		return PromoteResult{Path: name, Size: info.Size()}, nil
	} else {
		logger.Debug("rename into storage failed, copying instead", "temp_path", tempPath, "error", err)
	}

	size, err := d.copyIn(tempPath, name)
	if err != nil {
		return PromoteResult{}, err
	}

	if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove temp file after copy", "temp_path", tempPath, "error", err)
	}

	return PromoteResult{Path: name, Size: size}, nil
}

func (d *DiskBackend) copyIn(tempPath, name string) (int64, error) {
	src, err := os.Open(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open temp file: %w", err)
	}
	defer src.Close()

	dst, err := d.root.Create(name)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	size, err := io.CopyBuffer(dst, src, buf)
	if err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		d.root.Remove(name) // Clean up on error
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	return size, nil
}

// Open returns a reader for the file at the given path.
func (d *DiskBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := d.root.Open(filepath.FromSlash(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a file. Returns nil if file doesn't exist (idempotent).
func (d *DiskBackend) Delete(ctx context.Context, path string) error {
	if err := d.root.Remove(filepath.FromSlash(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Stat returns file metadata without opening it.
func (d *DiskBackend) Stat(ctx context.Context, path string) (FileInfo, error) {
	info, err := d.root.Stat(filepath.FromSlash(path))
	if err != nil {
		if os.IsNotExist(err) {
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

// HealthCheck verifies the storage directory is reachable.
func (d *DiskBackend) HealthCheck(ctx context.Context) error {
	if _, err := d.root.Stat(filesPrefix); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}
	return nil
}

// ValidateAccess performs a full read/write/delete test.
func (d *DiskBackend) ValidateAccess(ctx context.Context) error {
	testFilename := ".huddle-access-test-" + uuid.NewString()
	testContent := []byte("huddle-storage-test")

	file, err := d.root.Create(testFilename)
	if err != nil {
		return fmt.Errorf("storage write test failed: %w", err)
	}
	if _, err := file.Write(testContent); err != nil {
		file.Close()
		d.root.Remove(testFilename)
		return fmt.Errorf("storage write test failed: %w", err)
	}
	file.Close()

	readFile, err := d.root.Open(testFilename)
	if err != nil {
		d.root.Remove(testFilename)
		return fmt.Errorf("storage read test failed: %w", err)
	}
	readContent, err := io.ReadAll(readFile)
	readFile.Close()
	if err != nil {
		d.root.Remove(testFilename)
		return fmt.Errorf("storage read test failed: %w", err)
	}
	if !bytes.Equal(readContent, testContent) {
		d.root.Remove(testFilename)
		return fmt.Errorf("storage read test failed: content mismatch")
	}

	if err := d.root.Remove(testFilename); err != nil {
		return fmt.Errorf("storage delete test failed: %w", err)
	}

	return nil
}

// Close releases resources held by the backend.
func (d *DiskBackend) Close() error {
	return d.root.Close()
}
