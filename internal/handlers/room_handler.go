package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/agjmills/huddle/internal/chat"
	"github.com/agjmills/huddle/internal/database/models"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/maruel/natural"
	"github.com/teris-io/shortid"
	"gorm.io/gorm"
)

const defaultCreator = "Anonymous"

type RoomHandler struct {
	db    *gorm.DB
	coord *chat.Coordinator
}

func NewRoomHandler(db *gorm.DB, coord *chat.Coordinator) *RoomHandler {
	return &RoomHandler{
		db:    db,
		coord: coord,
	}
}

// CreateRoomRequest is the body of POST /api/rooms
type CreateRoomRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
}

// ListRooms returns every room, newest first, or by natural name order with ?sort=name
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	var rooms []models.Room
	if err := h.db.WithContext(r.Context()).Order("created_at DESC").Order("id DESC").Find(&rooms).Error; err != nil {
		logger.Error("failed to list rooms", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("sort") == "name" {
		sort.SliceStable(rooms, func(i, j int) bool {
			return natural.Less(strings.ToLower(rooms[i].Name), strings.ToLower(rooms[j].Name))
		})
	}

	writeJSON(w, http.StatusOK, rooms)
}

// CreateRoom creates a room with a unique name (ignoring case and surrounding whitespace)
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "Room name is required", http.StatusBadRequest)
		return
	}
	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = defaultCreator
	}

	ctx := r.Context()
	if taken, err := h.nameTaken(r, name); err != nil {
		logger.Error("failed to check room name", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	} else if taken {
		http.Error(w, "A room with that name already exists", http.StatusConflict)
		return
	}

	roomID, err := shortid.Generate()
	if err != nil {
		logger.Error("failed to generate room id", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	room := models.Room{RoomID: roomID, Name: name, CreatedBy: createdBy}
	if err := h.db.WithContext(ctx).Create(&room).Error; err != nil {
		// The unique name index catches a concurrent create that passed the check above
		if taken, _ := h.nameTaken(r, name); taken {
			http.Error(w, "A room with that name already exists", http.StatusConflict)
			return
		}
		logger.Error("failed to create room", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("room created", "room_id", room.RoomID, "name", room.Name, "created_by", room.CreatedBy)
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) nameTaken(r *http.Request, name string) (bool, error) {
	var count int64
	err := h.db.WithContext(r.Context()).
		Model(&models.Room{}).
		Where("name_key = ?", models.RoomNameKey(name)).
		Count(&count).Error
	return count > 0, err
}

// GetRoom returns a single room
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.loadRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// DeleteRoom removes a room and its messages. Only the creator may delete it.
func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.loadRoom(w, r)
	if !ok {
		return
	}

	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if !strings.EqualFold(username, room.CreatedBy) {
		http.Error(w, "Only the room creator can delete this room", http.StatusForbidden)
		return
	}

	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.RoomID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&room).Error
	})
	if err != nil {
		logger.Error("failed to delete room", "error", err, "room_id", room.RoomID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.coord.NotifyRoomDeleted(r.Context(), room.RoomID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) loadRoom(w http.ResponseWriter, r *http.Request) (models.Room, bool) {
	var room models.Room
	err := h.db.WithContext(r.Context()).Where("room_id = ?", chi.URLParam(r, "roomID")).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "Room not found", http.StatusNotFound)
			return room, false
		}
		logger.Error("failed to load room", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return room, false
	}
	return room, true
}
