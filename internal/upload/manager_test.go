package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/agjmills/huddle/internal/database/models"
	"github.com/agjmills/huddle/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	// Every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.Room{}, &models.File{}, &models.Message{}); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

func testOptions() Options {
	return Options{
		LockTimeout:  2 * time.Second,
		RetryBase:    time.Millisecond,
		SettleDelay:  time.Millisecond,
		CleanupDelay: time.Millisecond,
	}
}

func newDiskTemp(t *testing.T) *DiskTempStore {
	t.Helper()
	temp, err := NewDiskTempStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create temp store: %v", err)
	}
	return temp
}

func setupTestManager(t *testing.T, temp TempStore) (*Manager, *gorm.DB, *storage.MemoryBackend) {
	t.Helper()
	db := setupTestDB(t)
	backend := storage.NewMemoryBackend()
	if temp == nil {
		temp = newDiskTemp(t)
	}
	return NewManager(db, backend, temp, testOptions()), db, backend
}

func readStored(t *testing.T, backend storage.Backend, path string) []byte {
	t.Helper()
	r, err := backend.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to open stored object %q: %v", path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Failed to read stored object: %v", err)
	}
	return data
}

// flakyTemp fails the first `failures` appends with err.
type flakyTemp struct {
	*DiskTempStore
	failures int32
	err      error
	attempts atomic.Int32
}

func (f *flakyTemp) Append(path string, data []byte) error {
	if f.attempts.Add(1) <= f.failures {
		return &os.PathError{Op: "write", Path: path, Err: f.err}
	}
	return f.DiskTempStore.Append(path, data)
}

// blockingTemp holds every append until release is closed.
type blockingTemp struct {
	*DiskTempStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingTemp) Append(path string, data []byte) error {
	b.entered <- struct{}{}
	<-b.release
	return b.DiskTempStore.Append(path, data)
}

func TestInitialize(t *testing.T) {
	m, _, _ := setupTestManager(t, nil)

	id, err := m.Initialize(context.Background(), "report.pdf", 1024, "")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a session id")
	}

	progress, ok := m.GetSession(id)
	if !ok {
		t.Fatal("Expected session to exist")
	}
	if progress.UploadedSize != 0 || progress.TotalSize != 1024 || progress.Percent != 0 {
		t.Errorf("Unexpected initial progress: %+v", progress)
	}

	sess, _ := m.sessions.Get(id)
	if sess.ContentType != defaultContentType {
		t.Errorf("Expected default content type, got %q", sess.ContentType)
	}
	if size, err := m.temp.Size(sess.TempPath); err != nil || size != 0 {
		t.Errorf("Expected empty temp object, got size %d err %v", size, err)
	}

	other, err := m.Initialize(context.Background(), "report.pdf", 1024, "application/pdf")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if other == id {
		t.Error("Expected a fresh session id for each upload")
	}
	if m.ActiveSessions() != 2 {
		t.Errorf("Expected 2 active sessions, got %d", m.ActiveSessions())
	}
}

func TestInitialize_Invalid(t *testing.T) {
	m, _, _ := setupTestManager(t, nil)

	tests := []struct {
		name     string
		fileName string
		size     int64
	}{
		{"blank name", "   ", 10},
		{"dot name", "..", 10},
		{"zero size", "a.txt", 0},
		{"negative size", "a.txt", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Initialize(context.Background(), tt.fileName, tt.size, "text/plain")
			if !errors.Is(err, ErrInvalidUpload) {
				t.Errorf("Expected ErrInvalidUpload, got %v", err)
			}
		})
	}

	if m.ActiveSessions() != 0 {
		t.Errorf("Expected no sessions after invalid requests, got %d", m.ActiveSessions())
	}
}

func TestUploadChunk_SequentialThenComplete(t *testing.T) {
	m, db, backend := setupTestManager(t, nil)
	ctx := context.Background()

	id, err := m.Initialize(ctx, "photo.png", 300, "image/png")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	first := bytes.Repeat([]byte{'a'}, 100)
	second := bytes.Repeat([]byte{'b'}, 200)

	if !m.UploadChunk(ctx, id, first, 0) {
		t.Fatal("First chunk rejected")
	}
	if p, _ := m.GetSession(id); p.UploadedSize != 100 || p.Percent != 33 {
		t.Errorf("Expected 100 bytes / 33%%, got %+v", p)
	}
	if !m.UploadChunk(ctx, id, second, 1) {
		t.Fatal("Second chunk rejected")
	}
	if p, _ := m.GetSession(id); p.UploadedSize != 300 || p.Percent != 100 {
		t.Errorf("Expected 300 bytes / 100%%, got %+v", p)
	}

	fileID, ok := m.CompleteUpload(ctx, id)
	if !ok || fileID == 0 {
		t.Fatalf("CompleteUpload failed: id=%d ok=%v", fileID, ok)
	}

	var file models.File
	if err := db.First(&file, fileID).Error; err != nil {
		t.Fatalf("File record not found: %v", err)
	}
	if file.FileName != "photo.png" || file.Size != 300 || file.ContentType != "image/png" {
		t.Errorf("Unexpected file record: %+v", file)
	}

	stored := readStored(t, backend, file.StoragePath)
	if !bytes.Equal(stored, append(first, second...)) {
		t.Error("Stored content does not match the appended chunks")
	}

	if _, ok := m.GetSession(id); ok {
		t.Error("Session should be gone after completion")
	}
	if m.UploadChunk(ctx, id, []byte("late"), 2) {
		t.Error("Chunk after completion should be rejected")
	}
}

func TestUploadChunk_UnknownSession(t *testing.T) {
	m, _, _ := setupTestManager(t, nil)

	if m.UploadChunk(context.Background(), "does-not-exist", []byte("x"), 0) {
		t.Error("Expected false for unknown session")
	}
}

func TestUploadChunk_Concurrent(t *testing.T) {
	m, db, backend := setupTestManager(t, nil)
	ctx := context.Background()

	const chunks = 20
	const chunkSize = 1024

	id, err := m.Initialize(ctx, "blob.bin", chunks*chunkSize, "")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := range chunks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !m.UploadChunk(ctx, id, bytes.Repeat([]byte{byte('A' + i)}, chunkSize), i) {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if failed.Load() != 0 {
		t.Fatalf("%d chunks failed", failed.Load())
	}
	if p, _ := m.GetSession(id); p.UploadedSize != chunks*chunkSize {
		t.Errorf("Expected uploaded size %d, got %d", chunks*chunkSize, p.UploadedSize)
	}

	fileID, ok := m.CompleteUpload(ctx, id)
	if !ok {
		t.Fatal("CompleteUpload failed")
	}

	var file models.File
	db.First(&file, fileID)
	if file.Size != chunks*chunkSize {
		t.Errorf("Expected committed size %d, got %d", chunks*chunkSize, file.Size)
	}

	// Each chunk must land as one contiguous block
	stored := readStored(t, backend, file.StoragePath)
	seen := make(map[byte]bool)
	for off := 0; off < len(stored); off += chunkSize {
		block := stored[off : off+chunkSize]
		if !bytes.Equal(block, bytes.Repeat(block[:1], chunkSize)) {
			t.Fatalf("Interleaved chunk data at offset %d", off)
		}
		seen[block[0]] = true
	}
	if len(seen) != chunks {
		t.Errorf("Expected %d distinct chunks, got %d", chunks, len(seen))
	}
}

func TestCompleteUpload_ConcurrentDoubleCompletion(t *testing.T) {
	m, db, _ := setupTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "twice.txt", 5, "text/plain")
	m.UploadChunk(ctx, id, []byte("hello"), 0)

	var wg sync.WaitGroup
	var successes atomic.Int32
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.CompleteUpload(ctx, id); ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("Expected exactly one successful completion, got %d", successes.Load())
	}

	var count int64
	db.Model(&models.File{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected exactly one file record, got %d", count)
	}
}

func TestCompleteUpload_PersistsMeasuredSize(t *testing.T) {
	m, db, _ := setupTestManager(t, nil)
	ctx := context.Background()

	// Declared size is only used for progress
	id, _ := m.Initialize(ctx, "short.txt", 1000, "text/plain")
	m.UploadChunk(ctx, id, bytes.Repeat([]byte("x"), 300), 0)

	fileID, ok := m.CompleteUpload(ctx, id)
	if !ok {
		t.Fatal("CompleteUpload failed")
	}

	var file models.File
	db.First(&file, fileID)
	if file.Size != 300 {
		t.Errorf("Expected measured size 300, got %d", file.Size)
	}
}

func TestCompleteUpload_UnknownSession(t *testing.T) {
	m, _, _ := setupTestManager(t, nil)

	if id, ok := m.CompleteUpload(context.Background(), "missing"); ok || id != 0 {
		t.Errorf("Expected (0, false), got (%d, %v)", id, ok)
	}
}

func TestCompleteUpload_MissingTempObject(t *testing.T) {
	m, db, backend := setupTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "gone.txt", 4, "")
	m.UploadChunk(ctx, id, []byte("data"), 0)

	sess, _ := m.sessions.Get(id)
	os.Remove(sess.TempPath)

	if _, ok := m.CompleteUpload(ctx, id); ok {
		t.Fatal("Expected completion to fail without a temp object")
	}

	var count int64
	db.Model(&models.File{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected no file records, got %d", count)
	}
	if backend.FileCount() != 0 {
		t.Errorf("Expected nothing promoted, got %d objects", backend.FileCount())
	}
	if _, ok := m.GetSession(id); ok {
		t.Error("Failed completion should still consume the session")
	}
}

func TestCompleteUpload_RecordFailureRemovesPromotedObject(t *testing.T) {
	m, db, backend := setupTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "orphan.txt", 4, "")
	m.UploadChunk(ctx, id, []byte("data"), 0)

	if err := db.Migrator().DropTable(&models.Message{}, &models.File{}); err != nil {
		t.Fatalf("Failed to drop table: %v", err)
	}

	if _, ok := m.CompleteUpload(ctx, id); ok {
		t.Fatal("Expected completion to fail when the file record cannot be written")
	}
	if backend.FileCount() != 0 {
		t.Errorf("Expected promoted object to be removed, got %d objects", backend.FileCount())
	}
}

func TestUploadChunk_RetriesTransientErrors(t *testing.T) {
	temp := &flakyTemp{DiskTempStore: newDiskTemp(t), failures: 2, err: syscall.EIO}
	m, _, _ := setupTestManager(t, temp)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "retry.txt", 3, "")
	if !m.UploadChunk(ctx, id, []byte("abc"), 0) {
		t.Fatal("Expected chunk to succeed on the third attempt")
	}
	if temp.attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", temp.attempts.Load())
	}
	if p, _ := m.GetSession(id); p.UploadedSize != 3 {
		t.Errorf("Expected uploaded size 3, got %d", p.UploadedSize)
	}
}

func TestUploadChunk_GivesUpAfterMaxAttempts(t *testing.T) {
	temp := &flakyTemp{DiskTempStore: newDiskTemp(t), failures: 10, err: syscall.EAGAIN}
	m, _, _ := setupTestManager(t, temp)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "retry.txt", 3, "")
	if m.UploadChunk(ctx, id, []byte("abc"), 0) {
		t.Fatal("Expected chunk to fail after exhausting retries")
	}
	if temp.attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", temp.attempts.Load())
	}
	if p, _ := m.GetSession(id); p.UploadedSize != 0 {
		t.Errorf("Failed chunk must not count toward progress, got %d", p.UploadedSize)
	}
}

func TestUploadChunk_NonTransientErrorFailsImmediately(t *testing.T) {
	temp := &flakyTemp{DiskTempStore: newDiskTemp(t), failures: 10, err: syscall.EACCES}
	m, _, _ := setupTestManager(t, temp)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "denied.txt", 3, "")
	if m.UploadChunk(ctx, id, []byte("abc"), 0) {
		t.Fatal("Expected chunk to fail")
	}
	if temp.attempts.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", temp.attempts.Load())
	}
}

func TestUploadChunk_LockTimeout(t *testing.T) {
	temp := &blockingTemp{
		DiskTempStore: newDiskTemp(t),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	db := setupTestDB(t)
	opts := testOptions()
	opts.LockTimeout = 50 * time.Millisecond
	m := NewManager(db, storage.NewMemoryBackend(), temp, opts)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "slow.txt", 2, "")

	done := make(chan bool)
	go func() { done <- m.UploadChunk(ctx, id, []byte("a"), 0) }()
	<-temp.entered

	if m.UploadChunk(ctx, id, []byte("b"), 1) {
		t.Error("Expected second chunk to time out waiting for the lock")
	}

	close(temp.release)
	if !<-done {
		t.Error("Expected first chunk to succeed")
	}
	if p, _ := m.GetSession(id); p.UploadedSize != 1 {
		t.Errorf("Expected uploaded size 1, got %d", p.UploadedSize)
	}
}

func TestCompleteUpload_WaitsForInFlightChunk(t *testing.T) {
	temp := &blockingTemp{
		DiskTempStore: newDiskTemp(t),
		entered:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}
	m, db, _ := setupTestManager(t, temp)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "inflight.txt", 4, "")

	chunkDone := make(chan bool)
	go func() { chunkDone <- m.UploadChunk(ctx, id, []byte("data"), 0) }()
	<-temp.entered

	type completion struct {
		id uint
		ok bool
	}
	completeDone := make(chan completion)
	go func() {
		fid, ok := m.CompleteUpload(ctx, id)
		completeDone <- completion{fid, ok}
	}()

	time.Sleep(20 * time.Millisecond)
	close(temp.release)

	if !<-chunkDone {
		t.Fatal("In-flight chunk should succeed")
	}
	res := <-completeDone
	if !res.ok {
		t.Fatal("CompleteUpload failed")
	}

	var file models.File
	db.First(&file, res.id)
	if file.Size != 4 {
		t.Errorf("Expected completion to include the in-flight chunk, got size %d", file.Size)
	}
}

func TestCancel(t *testing.T) {
	m, _, _ := setupTestManager(t, nil)
	ctx := context.Background()

	id, _ := m.Initialize(ctx, "cancel.txt", 10, "")
	m.UploadChunk(ctx, id, []byte("12345"), 0)
	sess, _ := m.sessions.Get(id)

	if !m.Cancel(ctx, id) {
		t.Fatal("Expected Cancel to succeed")
	}
	if _, err := os.Stat(sess.TempPath); !os.IsNotExist(err) {
		t.Error("Temp object should be removed after cancel")
	}
	if m.Cancel(ctx, id) {
		t.Error("Second Cancel should report missing session")
	}
	if _, ok := m.CompleteUpload(ctx, id); ok {
		t.Error("Completion after cancel should fail")
	}
}

func TestExpireStale(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	opts := testOptions()
	opts.SessionTimeout = time.Hour
	opts.Now = func() time.Time { return now }
	m := NewManager(db, storage.NewMemoryBackend(), newDiskTemp(t), opts)
	ctx := context.Background()

	old, _ := m.Initialize(ctx, "old.txt", 1, "")
	now = now.Add(2 * time.Hour)
	fresh, _ := m.Initialize(ctx, "fresh.txt", 1, "")
	oldSess, _ := m.sessions.Get(old)

	if n := m.ExpireStale(ctx); n != 1 {
		t.Fatalf("Expected 1 expired session, got %d", n)
	}
	if _, ok := m.GetSession(old); ok {
		t.Error("Old session should be expired")
	}
	if _, ok := m.GetSession(fresh); !ok {
		t.Error("Fresh session should remain")
	}
	if _, err := os.Stat(oldSess.TempPath); !os.IsNotExist(err) {
		t.Error("Expired temp object should be removed")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, _, _ := setupTestManager(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLinearBackoff(t *testing.T) {
	b := linearBackoff(100 * time.Millisecond)
	for i, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond} {
		got, stop := b.Next()
		if stop {
			t.Fatalf("Backoff stopped at step %d", i)
		}
		if got != want {
			t.Errorf("Step %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&os.PathError{Op: "write", Err: syscall.EAGAIN}, true},
		{&os.PathError{Op: "write", Err: syscall.EBUSY}, true},
		{&os.PathError{Op: "write", Err: syscall.EINTR}, true},
		{&os.PathError{Op: "open", Err: syscall.ETXTBSY}, true},
		{&os.PathError{Op: "write", Err: syscall.EIO}, true},
		{io.ErrShortWrite, true},
		{&os.PathError{Op: "open", Err: syscall.ENOENT}, false},
		{&os.PathError{Op: "open", Err: syscall.EACCES}, false},
		{errors.New("boom"), false},
	}

	for _, tt := range tests {
		if got := isTransient(tt.err); got != tt.want {
			t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCleanFileName(t *testing.T) {
	tests := map[string]string{
		"photo.png":           "photo.png",
		"  notes.txt ":        "notes.txt",
		"../../etc/passwd":    "passwd",
		`C:\Users\me\cat.jpg`: "cat.jpg",
		"dir/":                "dir",
		"":                    "",
		"..":                  "",
		"/":                   "",
	}

	for in, want := range tests {
		if got := cleanFileName(in); got != want {
			t.Errorf("cleanFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
