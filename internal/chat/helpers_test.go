package chat

import (
	"sync"
	"testing"

	"github.com/agjmills/huddle/internal/database/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Room{}, &models.File{}, &models.Message{}))
	return db
}

func createRoom(t *testing.T, db *gorm.DB, roomID, name, createdBy string) *models.Room {
	t.Helper()
	room := &models.Room{RoomID: roomID, Name: name, CreatedBy: createdBy}
	require.NoError(t, db.Create(room).Error)
	return room
}

func setupCoordinator(t *testing.T) (*Coordinator, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewCoordinator(db, NewPresence(), NewBroker()), db
}

// fakeSubscriber records every delivered event.
type fakeSubscriber struct {
	id     string
	full   bool
	mu     sync.Mutex
	events []Event
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Deliver(ev Event) bool {
	if f.full {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSubscriber) ofType(typ EventType) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
