package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agjmills/huddle/internal/database/models"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/metrics"
	"gorm.io/gorm"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrDuplicateUsername = errors.New("username already in room")
	ErrUsernameRequired  = errors.New("username is required")
	ErrAlreadyJoined     = errors.New("already joined this room")
	ErrUnknownKind       = models.ErrUnknownKind
)

const DefaultHistoryLimit = 50

// Coordinator applies room commands to presence and storage and publishes the
// resulting events. Presence is always updated before any broadcast.
type Coordinator struct {
	db           *gorm.DB
	presence     *Presence
	broker       *Broker
	historyLimit int

	mu     sync.Mutex
	joined map[Subscriber]map[string]string // subscriber -> room id -> username
	now    func() time.Time
}

func NewCoordinator(db *gorm.DB, presence *Presence, broker *Broker) *Coordinator {
	return &Coordinator{
		db:           db,
		presence:     presence,
		broker:       broker,
		historyLimit: DefaultHistoryLimit,
		joined:       make(map[Subscriber]map[string]string),
		now:          time.Now,
	}
}

// WithHistoryLimit sets how many recent messages a joining member receives.
func (c *Coordinator) WithHistoryLimit(n int) *Coordinator {
	if n > 0 {
		c.historyLimit = n
	}
	return c
}

// Join adds username to the room and subscribes sub to its events. A
// username already present (ignoring case) is rejected without any state change.
func (c *Coordinator) Join(ctx context.Context, sub Subscriber, roomID, username string) error {
	log := logger.With("room_id", roomID, "username", username)

	username = strings.TrimSpace(username)
	if username == "" {
		sub.Deliver(errorEvent(ErrUsernameRequired.Error()))
		return ErrUsernameRequired
	}

	var room models.Room
	if err := c.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Debug("join rejected, room not found")
			metrics.RecordJoin("not_found")
			sub.Deliver(errorEvent(ErrRoomNotFound.Error()))
			return ErrRoomNotFound
		}
		log.Error("failed to load room", "error", err)
		sub.Deliver(errorEvent("failed to join room"))
		return fmt.Errorf("failed to load room: %w", err)
	}

	history, err := c.history(ctx, roomID)
	if err != nil {
		log.Error("failed to load message history", "error", err)
		sub.Deliver(errorEvent("failed to join room"))
		return err
	}

	// One membership per subscriber and room, so Disconnect can always undo it
	if !c.track(sub, roomID, username) {
		log.Debug("join rejected, subscriber already in room")
		metrics.RecordJoin("already_joined")
		sub.Deliver(errorEvent(ErrAlreadyJoined.Error()))
		return ErrAlreadyJoined
	}

	if !c.presence.TryAdd(roomID, username) {
		c.untrack(sub, roomID)
		log.Info("duplicate username rejected")
		metrics.RecordJoin("duplicate")
		sub.Deliver(Event{Type: EventDuplicateUsername, Data: UserPayload{RoomID: roomID, Username: username}})
		return ErrDuplicateUsername
	}
	c.broker.Subscribe(roomID, sub)

	// The room may have been deleted after it was loaded above; NotifyRoomDeleted
	// has then already cleared presence, so undo what this join added.
	if err := c.ensureRoom(ctx, roomID); err != nil {
		c.untrack(sub, roomID)
		c.broker.Unsubscribe(roomID, sub)
		c.presence.Remove(roomID, username)
		if errors.Is(err, ErrRoomNotFound) {
			log.Debug("join rejected, room deleted during join")
			metrics.RecordJoin("not_found")
			sub.Deliver(errorEvent(ErrRoomNotFound.Error()))
			return ErrRoomNotFound
		}
		log.Error("failed to recheck room", "error", err)
		sub.Deliver(errorEvent("failed to join room"))
		return err
	}

	c.broker.Publish(roomID, Event{Type: EventUserJoined, Data: UserPayload{RoomID: roomID, Username: username}}, sub)

	sub.Deliver(Event{Type: EventRoomJoined, Data: RoomJoinedPayload{
		Room:     RoomInfo{ID: room.RoomID, Name: room.Name, CreatedBy: room.CreatedBy},
		Members:  c.presence.Members(roomID),
		Messages: history,
	}})

	metrics.RecordJoin("success")
	log.Info("user joined room")
	return nil
}

func (c *Coordinator) ensureRoom(ctx context.Context, roomID string) error {
	var count int64
	if err := c.db.WithContext(ctx).Model(&models.Room{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// history returns the most recent messages of a room in ascending order.
func (c *Coordinator) history(ctx context.Context, roomID string) ([]MessagePayload, error) {
	var messages []models.Message
	err := c.db.WithContext(ctx).
		Preload("File").
		Where("room_id = ?", roomID).
		Order("sent_at DESC").Order("id DESC").
		Limit(c.historyLimit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	slices.Reverse(messages)
	payloads := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		payloads = append(payloads, newMessagePayload(m))
	}
	return payloads, nil
}

// Leave removes username from the room and unsubscribes sub. Leaving a room
// that was never joined is harmless.
func (c *Coordinator) Leave(ctx context.Context, sub Subscriber, roomID, username string) {
	username = strings.TrimSpace(username)

	c.untrack(sub, roomID)
	c.broker.Unsubscribe(roomID, sub)
	c.presence.Remove(roomID, username)

	c.broker.Publish(roomID, Event{Type: EventUserLeft, Data: UserPayload{RoomID: roomID, Username: username}}, nil)
	logger.Info("user left room", "room_id", roomID, "username", username)
}

// Disconnect leaves every room sub joined.
func (c *Coordinator) Disconnect(ctx context.Context, sub Subscriber) {
	c.mu.Lock()
	rooms := c.joined[sub]
	delete(c.joined, sub)
	c.mu.Unlock()

	for roomID, username := range rooms {
		c.Leave(ctx, sub, roomID, username)
	}
}

// Typing relays a typing indicator to everyone in the room but the sender.
func (c *Coordinator) Typing(ctx context.Context, sub Subscriber, roomID, username string, started bool) {
	typ := EventTypingStopped
	if started {
		typ = EventTypingStarted
	}
	c.broker.Publish(roomID, Event{Type: typ, Data: UserPayload{RoomID: roomID, Username: username}}, sub)
}

// SendMessage stores a message and broadcasts it to the whole room, sender included.
func (c *Coordinator) SendMessage(ctx context.Context, roomID, sender, content, kind string) (*models.Message, error) {
	k, err := models.ParseMessageKind(kind)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		RoomID:  roomID,
		Sender:  sender,
		Kind:    k,
		Content: content,
		SentAt:  c.now().UTC(),
	}
	if err := c.db.WithContext(ctx).Create(&msg).Error; err != nil {
		logger.Error("failed to save message", "error", err, "room_id", roomID, "sender", sender)
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	metrics.RecordMessage(string(k))
	c.broker.Publish(roomID, Event{Type: EventMessageReceived, Data: newMessagePayload(msg)}, nil)
	return &msg, nil
}

// SendFileMessage stores a message referencing an uploaded file and
// broadcasts it. An unknown file id is silently ignored.
func (c *Coordinator) SendFileMessage(ctx context.Context, roomID, sender string, fileID uint, kind string) error {
	k, err := models.ParseMessageKind(kind)
	if err != nil {
		return err
	}

	var file models.File
	if err := c.db.WithContext(ctx).First(&file, fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Debug("file message ignored, file not found", "room_id", roomID, "file_id", fileID)
			return nil
		}
		return fmt.Errorf("failed to load file: %w", err)
	}

	msg := models.Message{
		RoomID:  roomID,
		Sender:  sender,
		Kind:    k,
		Content: file.FileName,
		SentAt:  c.now().UTC(),
		FileID:  &file.ID,
		File:    &file,
	}
	if err := c.db.WithContext(ctx).Omit("File").Create(&msg).Error; err != nil {
		logger.Error("failed to save file message", "error", err, "room_id", roomID, "file_id", fileID)
		return fmt.Errorf("failed to save message: %w", err)
	}

	metrics.RecordMessage(string(k))
	c.broker.Publish(roomID, Event{Type: EventMessageReceived, Data: newMessagePayload(msg)}, nil)
	return nil
}

// RecallMessage marks a message recalled if sender sent it in roomID and it
// is not recalled yet. Anything else is a silent no-op.
func (c *Coordinator) RecallMessage(ctx context.Context, roomID string, messageID uint, sender string) error {
	res := c.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND room_id = ? AND sender = ? AND recalled = ?", messageID, roomID, sender, false).
		Update("recalled", true)
	if res.Error != nil {
		logger.Error("failed to recall message", "error", res.Error, "message_id", messageID)
		return fmt.Errorf("failed to recall message: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		logger.Debug("recall ignored", "room_id", roomID, "message_id", messageID, "sender", sender)
		return nil
	}

	var msg models.Message
	if err := c.db.WithContext(ctx).Select("id", "kind").First(&msg, messageID).Error; err != nil {
		return fmt.Errorf("failed to load recalled message: %w", err)
	}

	metrics.ChatMessagesRecalled.Inc()
	c.broker.Publish(roomID, Event{Type: EventMessageRecalled, Data: RecallPayload{
		MessageID: messageID,
		RoomID:    roomID,
		Sender:    sender,
		Kind:      msg.Kind,
	}}, nil)
	return nil
}

// NotifyRoomDeleted tells the room's members it is gone and forgets it.
func (c *Coordinator) NotifyRoomDeleted(ctx context.Context, roomID string) {
	c.broker.Publish(roomID, Event{Type: EventRoomDeleted, Data: RoomDeletedPayload{RoomID: roomID}}, nil)

	c.presence.Clear(roomID)
	c.broker.Drop(roomID)

	c.mu.Lock()
	for _, rooms := range c.joined {
		delete(rooms, roomID)
	}
	c.mu.Unlock()

	logger.Info("room deleted", "room_id", roomID)
}

// NotifyUploadProgress relays a member's upload progress to the room.
func (c *Coordinator) NotifyUploadProgress(roomID, sender, fileName string, percent int) {
	c.broker.Publish(roomID, Event{Type: EventUploadProgress, Data: UploadProgressPayload{
		RoomID:   roomID,
		Sender:   sender,
		FileName: fileName,
		Progress: percent,
	}}, nil)
}

// track records that sub joined roomID as username. It reports false if sub
// is already in the room.
func (c *Coordinator) track(sub Subscriber, roomID, username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rooms, ok := c.joined[sub]
	if !ok {
		rooms = make(map[string]string)
		c.joined[sub] = rooms
	}
	if _, dup := rooms[roomID]; dup {
		return false
	}
	rooms[roomID] = username
	return true
}

func (c *Coordinator) untrack(sub Subscriber, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rooms, ok := c.joined[sub]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(c.joined, sub)
		}
	}
}
