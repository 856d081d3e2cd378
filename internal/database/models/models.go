package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrUnknownKind is returned when a message kind is not one of the closed set.
var ErrUnknownKind = errors.New("unknown message kind")

// MessageKind is the closed set of chat message kinds.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindIcon  MessageKind = "icon"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ParseMessageKind parses a kind case-insensitively.
func ParseMessageKind(s string) (MessageKind, error) {
	switch MessageKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindText:
		return KindText, nil
	case KindIcon:
		return KindIcon, nil
	case KindImage:
		return KindImage, nil
	case KindFile:
		return KindFile, nil
	}
	return "", ErrUnknownKind
}

// Label is the display label clients render for the kind.
func (k MessageKind) Label() string {
	switch k {
	case KindText:
		return "Text"
	case KindIcon:
		return "Icon"
	case KindImage:
		return "Image"
	case KindFile:
		return "File"
	}
	return ""
}

type Room struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"uniqueIndex;not null;size:100" json:"roomId"`
	Name      string    `gorm:"not null;size:200" json:"name"`
	NameKey   string    `gorm:"uniqueIndex;not null;size:200" json:"-"` // Lower-cased trimmed name, enforces case-insensitive uniqueness
	CreatedBy string    `gorm:"not null;size:100;default:''" json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`

	Messages []Message `gorm:"foreignKey:RoomID;references:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// RoomNameKey normalizes a room name for uniqueness comparisons.
func RoomNameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Room) BeforeSave(tx *gorm.DB) error {
	r.Name = strings.TrimSpace(r.Name)
	r.NameKey = RoomNameKey(r.Name)
	return nil
}

type File struct {
	ID          uint      `gorm:"primaryKey" json:"fileId"`
	FileName    string    `gorm:"not null;size:500" json:"fileName"`
	Size        int64     `gorm:"not null" json:"size"` // Measured size of the committed object
	ContentType string    `gorm:"not null;size:200" json:"contentType"`
	StoragePath string    `gorm:"not null;size:1000" json:"storagePath"` // Relative, forward-slash path inside permanent storage
	UploadedAt  time.Time `gorm:"not null" json:"uploadedAt"`
}

type Message struct {
	ID       uint        `gorm:"primaryKey" json:"id"`
	RoomID   string      `gorm:"not null;size:100;index" json:"roomId"`
	Sender   string      `gorm:"not null;size:100" json:"sender"`
	Kind     MessageKind `gorm:"not null;size:10" json:"kind"`
	Content  string      `gorm:"not null" json:"content"`
	SentAt   time.Time   `gorm:"not null;index" json:"sentAt"`
	FileID   *uint       `gorm:"index" json:"fileId"`
	Recalled bool        `gorm:"not null;default:false" json:"isRecalled"`

	File *File `gorm:"foreignKey:FileID;constraint:OnDelete:SET NULL" json:"-"`
}
