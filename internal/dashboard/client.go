package dashboard

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"assessapp/internal/config"
	contextutils "assessapp/internal/utils"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxPageLength = 256

type inbound struct {
	Type string `json:"type"`
	Page string `json:"page"`
}

type client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	identity Identity
	send     chan []byte

	mu       sync.Mutex
	page     string
	lastSeen time.Time
}

func newClient(h *Hub, conn *websocket.Conn, id Identity) *client {
	return &client{
		id:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		identity: id,
		send:     make(chan []byte, config.WSSendBufferSize),
		lastSeen: h.now().UTC(),
	}
}

// enqueue must be called with the hub lock held so send is not closed
// underneath it. It reports false when the queue is full.
func (c *client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) presence() Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Presence{
		UserID:   c.identity.UserID,
		Username: c.identity.Username,
		Role:     c.identity.Role,
		Page:     c.page,
		LastSeen: c.lastSeen,
	}
}

func (c *client) seen(page string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page != "" {
		c.page = page
	}
	c.lastSeen = c.hub.now().UTC()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(config.WSMaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	ctx := context.Background()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.logger.Warn(ctx, "Dashboard socket closed unexpectedly", map[string]interface{}{
					"connection_id": c.id,
					"error":         err.Error(),
				})
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.hub.reply(c, Envelope{Type: MessageError, Error: "malformed message"})
		return
	}
	switch msg.Type {
	case MessagePing:
		c.seen("")
		c.hub.reply(c, Envelope{Type: MessagePong})
	case MessageActivity:
		page := strings.TrimSpace(msg.Page)
		page = contextutils.TruncateBytes(page, maxPageLength)
		c.seen(page)
		c.hub.Trigger()
	default:
		c.hub.reply(c, Envelope{Type: MessageError, Error: "unknown message type: " + msg.Type})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}
