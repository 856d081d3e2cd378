package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/agjmills/huddle/internal/database/models"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/metrics"
	"github.com/agjmills/huddle/internal/storage"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// ErrInvalidUpload is returned by Initialize for a blank file name or non-positive size.
var ErrInvalidUpload = errors.New("invalid upload request")

const defaultContentType = "application/octet-stream"

// Options tunes the manager. Zero fields take the values from DefaultOptions.
type Options struct {
	LockTimeout    time.Duration // Bounded wait for a session lock
	MaxRetries     int           // Total append attempts, including the first
	RetryBase      time.Duration // Delay before retry n is RetryBase * n
	SettleDelay    time.Duration // Pause after claiming a session before measuring it
	CleanupDelay   time.Duration // Pause before removing a failed temp object
	SessionTimeout time.Duration // Age after which an open session is expired
	Now            func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LockTimeout:    30 * time.Second,
		MaxRetries:     3,
		RetryBase:      100 * time.Millisecond,
		SettleDelay:    100 * time.Millisecond,
		CleanupDelay:   500 * time.Millisecond,
		SessionTimeout: 24 * time.Hour,
		Now:            time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LockTimeout <= 0 {
		o.LockTimeout = d.LockTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = d.RetryBase
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.CleanupDelay <= 0 {
		o.CleanupDelay = d.CleanupDelay
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = d.SessionTimeout
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Manager runs chunked uploads from session creation to a committed file record.
type Manager struct {
	db       *gorm.DB
	backend  storage.Backend
	temp     TempStore
	sessions *SessionStore
	opts     Options
}

func NewManager(db *gorm.DB, backend storage.Backend, temp TempStore, opts Options) *Manager {
	return &Manager{
		db:       db,
		backend:  backend,
		temp:     temp,
		sessions: NewSessionStore(),
		opts:     opts.withDefaults(),
	}
}

// Initialize opens a new upload session with an empty temp object and returns its id.
func (m *Manager) Initialize(ctx context.Context, fileName string, totalSize int64, contentType string) (string, error) {
	fileName = cleanFileName(fileName)
	if fileName == "" {
		return "", fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	}
	if totalSize <= 0 {
		return "", fmt.Errorf("%w: total size must be positive", ErrInvalidUpload)
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	id := uuid.NewString()
	tempPath, err := m.temp.Create(id)
	if err != nil {
		logger.Error("failed to create temp upload object", "error", err, "session_id", id)
		return "", fmt.Errorf("failed to create temp upload object: %w", err)
	}

	m.sessions.Add(&Session{
		ID:          id,
		FileName:    fileName,
		TotalSize:   totalSize,
		ContentType: contentType,
		TempPath:    tempPath,
		CreatedAt:   m.opts.Now(),
	})
	metrics.UploadSessionsActive.Inc()

	logger.Info("upload session initialized",
		"session_id", id,
		"file_name", fileName,
		"total_size", totalSize,
		"content_type", contentType,
	)
	return id, nil
}

// UploadChunk appends chunk to the session's temp object. Chunks are appended
// in arrival order; chunkIndex is only used for logging.
func (m *Manager) UploadChunk(ctx context.Context, sessionID string, chunk []byte, chunkIndex int) bool {
	log := logger.With("session_id", sessionID, "chunk", chunkIndex)

	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		log.Warn("upload session not found")
		return false
	}
	lock, ok := m.sessions.Lock(sessionID)
	if !ok {
		log.Warn("upload session lock not found")
		return false
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.opts.LockTimeout)
	defer cancel()
	if err := lock.Acquire(lockCtx, 1); err != nil {
		log.Error("timed out waiting for upload session lock", "timeout", m.opts.LockTimeout, "error", err)
		metrics.RecordChunk(false, 0)
		return false
	}
	defer lock.Release(1)

	if sess.closed.Load() {
		log.Warn("upload session closed before chunk could be appended")
		metrics.RecordChunk(false, 0)
		return false
	}

	if err := m.appendWithRetry(ctx, sess.TempPath, chunk); err != nil {
		log.Error("failed to append chunk", "error", err, "bytes", len(chunk))
		metrics.RecordChunk(false, 0)
		return false
	}

	uploaded := sess.uploaded.Add(int64(len(chunk)))
	metrics.RecordChunk(true, len(chunk))
	log.Debug("chunk appended",
		"bytes", len(chunk),
		"uploaded_size", uploaded,
		"total_size", sess.TotalSize,
	)
	return true
}

// appendWithRetry retries transient filesystem errors with a linear backoff.
// The append runs detached from ctx so a client disconnect cannot leave a half-written chunk.
func (m *Manager) appendWithRetry(ctx context.Context, tempPath string, data []byte) error {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(m.opts.MaxRetries-1), linearBackoff(m.opts.RetryBase))

	return retry.Do(context.WithoutCancel(ctx), backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.UploadChunkRetries.Inc()
		}
		err := m.temp.Append(tempPath, data)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			logger.Warn("transient error appending chunk, retrying", "error", err, "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
}

// linearBackoff waits base, 2*base, 3*base, ... between attempts.
func linearBackoff(base time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * base, false
	})
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.ETXTBSY),
		errors.Is(err, syscall.EIO),
		errors.Is(err, io.ErrShortWrite):
		return true
	}
	return false
}

// CompleteUpload promotes the session's temp object into permanent storage and
// records it. Exactly one of several concurrent calls for a session can succeed.
func (m *Manager) CompleteUpload(ctx context.Context, sessionID string) (uint, bool) {
	log := logger.With("session_id", sessionID)

	sess, lock, ok := m.sessions.Claim(sessionID)
	if !ok {
		log.Warn("upload session not found for completion")
		metrics.RecordCompletion(false)
		return 0, false
	}
	metrics.UploadSessionsActive.Dec()

	ctx = context.WithoutCancel(ctx)
	m.drain(sess, lock)
	time.Sleep(m.opts.SettleDelay)

	size, err := m.temp.Size(sess.TempPath)
	if err != nil {
		log.Error("temp upload object missing at completion", "error", err, "temp_path", sess.TempPath)
		m.discard(sess)
		metrics.RecordCompletion(false)
		return 0, false
	}

	result, err := m.backend.Promote(ctx, sess.TempPath, storage.PromoteOptions{
		OriginalFilename: sess.FileName,
		ContentType:      sess.ContentType,
	})
	if err != nil {
		log.Error("failed to promote upload to storage", "error", err)
		m.discard(sess)
		metrics.RecordCompletion(false)
		return 0, false
	}

	file := models.File{
		FileName:    sess.FileName,
		Size:        size,
		ContentType: sess.ContentType,
		StoragePath: result.Path,
		UploadedAt:  m.opts.Now(),
	}
	if err := m.db.WithContext(ctx).Create(&file).Error; err != nil {
		log.Error("failed to create file record", "error", err, "storage_path", result.Path)
		if delErr := m.backend.Delete(ctx, result.Path); delErr != nil {
			log.Error("failed to remove orphaned object", "error", delErr, "storage_path", result.Path)
		}
		m.discard(sess)
		metrics.RecordCompletion(false)
		return 0, false
	}

	metrics.RecordCompletion(true)
	log.Info("upload completed",
		"file_id", file.ID,
		"file_name", file.FileName,
		"size", size,
		"declared_size", sess.TotalSize,
		"storage_path", result.Path,
	)
	return file.ID, true
}

// GetSession returns a progress snapshot for an open session.
func (m *Manager) GetSession(sessionID string) (Progress, bool) {
	sess, ok := m.sessions.Get(sessionID)
	if !ok {
		return Progress{}, false
	}
	return sess.progress(), true
}

// ActiveSessions is the number of open sessions.
func (m *Manager) ActiveSessions() int {
	return m.sessions.Len()
}

// Cancel abandons an open session and removes its temp object.
func (m *Manager) Cancel(ctx context.Context, sessionID string) bool {
	sess, lock, ok := m.sessions.Claim(sessionID)
	if !ok {
		return false
	}
	metrics.UploadSessionsActive.Dec()

	m.drain(sess, lock)
	if err := m.temp.Remove(sess.TempPath); err != nil {
		logger.Warn("failed to remove cancelled temp upload", "error", err, "session_id", sessionID)
	}

	logger.Info("upload cancelled", "session_id", sessionID, "uploaded_size", sess.UploadedSize())
	return true
}

// ExpireStale removes sessions older than the session timeout and returns how many it removed.
func (m *Manager) ExpireStale(ctx context.Context) int {
	cutoff := m.opts.Now().Add(-m.opts.SessionTimeout)

	count := 0
	for _, id := range m.sessions.Stale(cutoff) {
		sess, lock, ok := m.sessions.Claim(id)
		if !ok {
			continue // Completed or cancelled meanwhile
		}
		metrics.UploadSessionsActive.Dec()

		m.drain(sess, lock)
		if err := m.temp.Remove(sess.TempPath); err != nil {
			logger.Warn("failed to remove expired temp upload", "error", err, "session_id", id)
		}
		metrics.UploadSessionsExpired.Inc()
		count++

		logger.Info("expired upload session",
			"session_id", id,
			"file_name", sess.FileName,
			"created_at", sess.CreatedAt,
		)
	}
	return count
}

// Run expires stale sessions every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireStale(ctx)
		}
	}
}

// drain marks a claimed session closed and waits for an in-flight append to finish.
func (m *Manager) drain(sess *Session, lock *semaphore.Weighted) {
	sess.closed.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.LockTimeout)
	defer cancel()
	if err := lock.Acquire(ctx, 1); err != nil {
		logger.Warn("in-flight chunk still running after lock timeout", "session_id", sess.ID, "error", err)
		return
	}
	lock.Release(1)
}

// discard removes a failed session's temp object after the cleanup delay.
func (m *Manager) discard(sess *Session) {
	if _, err := m.temp.Size(sess.TempPath); err != nil {
		return
	}
	time.Sleep(m.opts.CleanupDelay)
	if err := m.temp.Remove(sess.TempPath); err != nil {
		logger.Warn("failed to remove temp upload", "error", err, "session_id", sess.ID)
	}
}

// cleanFileName strips any client-supplied directory components.
func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}
