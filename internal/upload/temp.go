package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempStore holds the in-progress bytes of each upload session.
type TempStore interface {
	// Create makes an empty temp object for the session and returns its path.
	Create(sessionID string) (string, error)
	// Append writes data at the end of the temp object and flushes it to stable storage.
	Append(path string, data []byte) error
	Size(path string) (int64, error)
	Remove(path string) error
}

// DiskTempStore keeps temp objects as plain files under one directory.
type DiskTempStore struct {
	dir string
}

// NewDiskTempStore creates dir/huddle-uploads if needed.
func NewDiskTempStore(dir string) (*DiskTempStore, error) {
	dir = filepath.Join(dir, "huddle-uploads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp upload directory: %w", err)
	}
	return &DiskTempStore{dir: dir}, nil
}

func (d *DiskTempStore) Dir() string {
	return d.dir
}

func (d *DiskTempStore) Create(sessionID string) (string, error) {
	path := filepath.Join(d.dir, sessionID+".part")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	return path, nil
}

func (d *DiskTempStore) Append(path string, data []byte) error {
	// No O_CREATE: appending to a removed temp file must fail
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	n, err := f.Write(data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (d *DiskTempStore) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the temp object. A missing object is not an error.
func (d *DiskTempStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
