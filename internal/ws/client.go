package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
	// authorizeTimeout bounds the membership lookup behind a subscribe.
	authorizeTimeout = 5 * time.Second
)

// controlMessage is sent by clients to manage their channel subscriptions.
type controlMessage struct {
	Action  string `json:"action"` // "subscribe" | "unsubscribe"
	Channel string `json:"channel"`
}

// reply acknowledges a control message.
type reply struct {
	Type    string `json:"type"` // "subscribed" | "unsubscribed" | "error"
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID            string
	UserID        int64
	conn          *websocket.Conn
	subscriptions map[string]bool
	subMu         sync.RWMutex
	send          chan []byte
	sendMu        sync.Mutex
	closed        bool
	hub           *Hub
}

// NewClient creates a Client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		ID:            uuid.New().String(),
		UserID:        userID,
		conn:          conn,
		subscriptions: make(map[string]bool),
		send:          make(chan []byte, 256),
		hub:           hub,
	}
}

// IsSubscribed reports whether this client is subscribed to channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[channel]
}

// deliver queues data without blocking. It reports false when the queue is
// full or the client has been closed.
func (c *Client) deliver(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads control messages until the connection closes. It runs in
// its own goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Info("client read error", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}

		var cm controlMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			c.reply(reply{Type: "error", Error: "invalid control message"})
			continue
		}
		c.handleControl(cm)
	}
}

func (c *Client) handleControl(cm controlMessage) {
	switch cm.Action {
	case "subscribe":
		if c.hub.authorize != nil {
			ctx, cancel := context.WithTimeout(context.Background(), authorizeTimeout)
			err := c.hub.authorize(ctx, c.UserID, cm.Channel)
			cancel()
			if err != nil {
				c.hub.logger.Info("subscription denied",
					zap.String("client", c.ID),
					zap.Int64("user_id", c.UserID),
					zap.String("channel", cm.Channel),
					zap.Error(err))
				c.reply(reply{Type: "error", Channel: cm.Channel, Error: "subscription denied"})
				return
			}
		}
		c.subMu.Lock()
		c.subscriptions[cm.Channel] = true
		c.subMu.Unlock()
		c.reply(reply{Type: "subscribed", Channel: cm.Channel})
	case "unsubscribe":
		c.subMu.Lock()
		delete(c.subscriptions, cm.Channel)
		c.subMu.Unlock()
		c.reply(reply{Type: "unsubscribed", Channel: cm.Channel})
	default:
		c.reply(reply{Type: "error", Error: "unknown action " + cm.Action})
	}
}

func (c *Client) reply(r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	c.deliver(data)
}

// WritePump writes queued messages and keepalive pings to the connection.
// It runs in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
