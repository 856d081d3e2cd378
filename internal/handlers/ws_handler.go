package handlers

import (
	"context"
	"net/http"
	"net/url"
	"slices"

	"github.com/agjmills/huddle/internal/chat"
	"github.com/agjmills/huddle/internal/logger"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	coord    *chat.Coordinator
	upgrader websocket.Upgrader
}

// NewWSHandler accepts connections from allowedOrigins, or only from the
// serving host when the list is empty.
func NewWSHandler(coord *chat.Coordinator, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		coord: coord,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if len(allowedOrigins) > 0 {
					return slices.Contains(allowedOrigins, origin)
				}
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

// ServeWS upgrades the request and hands the connection to a chat client
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		logger.Debug("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	client := chat.NewClient(conn, h.coord)
	go client.Run(context.WithoutCancel(r.Context()))
}
