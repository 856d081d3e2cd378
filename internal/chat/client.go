package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agjmills/huddle/internal/logger"
	"github.com/agjmills/huddle/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 256
)

type CommandType string

// Client to server commands.
const (
	CommandJoin           CommandType = "join"
	CommandLeave          CommandType = "leave"
	CommandSendText       CommandType = "send-text"
	CommandSendFile       CommandType = "send-file"
	CommandRecall         CommandType = "recall"
	CommandTypingStart    CommandType = "typing-start"
	CommandTypingStop     CommandType = "typing-stop"
	CommandUploadProgress CommandType = "upload-progress"
)

// Command is a message read from a WebSocket client. Fields not used by a
// command type are ignored.
type Command struct {
	Type      CommandType `json:"type"`
	RoomID    string      `json:"roomId"`
	Username  string      `json:"username"`
	Sender    string      `json:"sender"`
	Content   string      `json:"content"`
	Kind      string      `json:"kind"`
	FileID    uint        `json:"fileId"`
	MessageID uint        `json:"messageId"`
	FileName  string      `json:"fileName"`
	Progress  int         `json:"progress"`
}

// Client is one WebSocket connection. It has one read goroutine and one write
// goroutine; events reach it through a bounded send queue.
type Client struct {
	id    string
	conn  *websocket.Conn
	coord *Coordinator
	log   *slog.Logger
	send  chan Event
	stop  chan struct{}
	once  sync.Once
}

func NewClient(conn *websocket.Conn, coord *Coordinator) *Client {
	id := uuid.NewString()
	return &Client{
		id:    id,
		conn:  conn,
		coord: coord,
		log:   logger.With("client_id", id),
		send:  make(chan Event, sendQueueSize),
		stop:  make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Deliver queues ev for the write goroutine. A full queue drops the event.
func (c *Client) Deliver(ev Event) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		c.log.Warn("send queue full, dropping event", "event", ev.Type)
		return false
	}
}

// Run serves the connection until it closes. It blocks.
func (c *Client) Run(ctx context.Context) {
	metrics.ChatClientsConnected.Inc()
	defer metrics.ChatClientsConnected.Dec()

	go c.write()
	c.read(ctx)
}

func (c *Client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case ev := <-c.send:
			payload, err := json.Marshal(ev)
			if err != nil {
				c.log.Error("failed to serialize event", "error", err, "event", ev.Type)
				continue
			}
			if !c.writeMessage(websocket.TextMessage, payload) {
				return
			}
		case <-c.stop:
			c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("websocket write failed", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) read(ctx context.Context) {
	defer func() {
		c.coord.Disconnect(context.WithoutCancel(ctx), c)
		c.close()
		c.conn.Close()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.log.Debug("malformed command", "error", err)
			c.Deliver(errorEvent("malformed command"))
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *Client) dispatch(ctx context.Context, cmd Command) {
	if cmd.RoomID == "" {
		c.Deliver(errorEvent("roomId is required"))
		return
	}

	switch cmd.Type {
	case CommandJoin:
		// Join reports its own failures to the client
		c.coord.Join(ctx, c, cmd.RoomID, cmd.Username)
	case CommandLeave:
		c.coord.Leave(ctx, c, cmd.RoomID, cmd.Username)
	case CommandSendText:
		if _, err := c.coord.SendMessage(ctx, cmd.RoomID, cmd.Sender, cmd.Content, cmd.Kind); err != nil {
			c.reportError(err)
		}
	case CommandSendFile:
		if err := c.coord.SendFileMessage(ctx, cmd.RoomID, cmd.Sender, cmd.FileID, cmd.Kind); err != nil {
			c.reportError(err)
		}
	case CommandRecall:
		if err := c.coord.RecallMessage(ctx, cmd.RoomID, cmd.MessageID, cmd.Sender); err != nil {
			c.reportError(err)
		}
	case CommandTypingStart:
		c.coord.Typing(ctx, c, cmd.RoomID, cmd.Username, true)
	case CommandTypingStop:
		c.coord.Typing(ctx, c, cmd.RoomID, cmd.Username, false)
	case CommandUploadProgress:
		c.coord.NotifyUploadProgress(cmd.RoomID, cmd.Sender, cmd.FileName, cmd.Progress)
	default:
		c.log.Debug("unknown command", "type", cmd.Type)
		c.Deliver(errorEvent("unknown command: " + string(cmd.Type)))
	}
}

func (c *Client) reportError(err error) {
	if errors.Is(err, ErrUnknownKind) {
		c.Deliver(errorEvent(err.Error()))
		return
	}
	c.log.Error("command failed", "error", err)
	c.Deliver(errorEvent("internal error"))
}

// close stops the write goroutine. Safe to call more than once.
func (c *Client) close() {
	c.once.Do(func() { close(c.stop) })
}
