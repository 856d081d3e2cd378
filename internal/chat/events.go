package chat

import (
	"time"

	"github.com/agjmills/huddle/internal/database/models"
)

type EventType string

// Server to client events.
const (
	EventUserJoined        EventType = "user-joined"
	EventUserLeft          EventType = "user-left"
	EventRoomJoined        EventType = "room-joined"
	EventMessageReceived   EventType = "message-received"
	EventMessageRecalled   EventType = "message-recalled"
	EventTypingStarted     EventType = "typing-started"
	EventTypingStopped     EventType = "typing-stopped"
	EventRoomDeleted       EventType = "room-deleted"
	EventDuplicateUsername EventType = "duplicate-username"
	EventUploadProgress    EventType = "upload-progress"
	EventError             EventType = "error"
)

// Event is the envelope written to WebSocket clients.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type UserPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type RoomInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

type RoomJoinedPayload struct {
	Room     RoomInfo         `json:"room"`
	Members  []string         `json:"members"`
	Messages []MessagePayload `json:"messages"`
}

type MessagePayload struct {
	ID          uint               `json:"messageId"`
	RoomID      string             `json:"roomId"`
	Sender      string             `json:"sender"`
	Kind        models.MessageKind `json:"kind"`
	KindLabel   string             `json:"kindLabel"`
	Content     string             `json:"content"`
	SentAt      time.Time          `json:"sentAt"`
	IsRecalled  bool               `json:"isRecalled"`
	FileID      *uint              `json:"fileId,omitempty"`
	FileName    string             `json:"fileName,omitempty"`
	FileSize    int64              `json:"fileSize,omitempty"`
	ContentType string             `json:"contentType,omitempty"`
}

type RecallPayload struct {
	MessageID uint               `json:"messageId"`
	RoomID    string             `json:"roomId"`
	Sender    string             `json:"sender"`
	Kind      models.MessageKind `json:"kind"`
}

type RoomDeletedPayload struct {
	RoomID string `json:"roomId"`
}

type UploadProgressPayload struct {
	RoomID   string `json:"roomId"`
	Sender   string `json:"sender"`
	FileName string `json:"fileName"`
	Progress int    `json:"progress"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Data: ErrorPayload{Message: msg}}
}

// newMessagePayload renders a stored message. File details are attached
// whenever the message references a file; msg.File must be preloaded for them.
func newMessagePayload(msg models.Message) MessagePayload {
	p := MessagePayload{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		Sender:     msg.Sender,
		Kind:       msg.Kind,
		KindLabel:  msg.Kind.Label(),
		Content:    msg.Content,
		SentAt:     msg.SentAt,
		IsRecalled: msg.Recalled,
		FileID:     msg.FileID,
	}

	if msg.File != nil {
		p.FileName = msg.File.FileName
		p.FileSize = msg.File.Size
		p.ContentType = msg.File.ContentType
	}
	return p
}
