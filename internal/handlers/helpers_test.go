package handlers

import (
	"testing"
	"time"

	"github.com/agjmills/huddle/internal/chat"
	"github.com/agjmills/huddle/internal/config"
	"github.com/agjmills/huddle/internal/database/models"
	"github.com/agjmills/huddle/internal/storage"
	"github.com/agjmills/huddle/internal/upload"
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
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.Room{}, &models.File{}, &models.Message{}); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		MaxChunkSize:      1024,
		UploadLockTimeout: time.Second,
		HistoryLimit:      50,
	}
}

func setupTestUploadManager(t *testing.T, db *gorm.DB, backend storage.Backend) *upload.Manager {
	t.Helper()

	temp, err := upload.NewDiskTempStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create temp store: %v", err)
	}
	return upload.NewManager(db, backend, temp, upload.Options{
		LockTimeout:  time.Second,
		RetryBase:    time.Millisecond,
		SettleDelay:  time.Millisecond,
		CleanupDelay: time.Millisecond,
	})
}

func setupTestCoordinator(db *gorm.DB) *chat.Coordinator {
	return chat.NewCoordinator(db, chat.NewPresence(), chat.NewBroker())
}
