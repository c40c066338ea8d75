package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/fanout"
	"github.com/darkden-lab/argus-tracker/internal/location"
)

// Authorizer decides whether a user may subscribe to a fan-out channel.
type Authorizer func(ctx context.Context, userID int64, channel string) error

// Membership is the event membership lookup used by MembershipAuthorizer.
type Membership interface {
	VerifyMembership(ctx context.Context, userID, eventID int64) (int64, error)
}

// ErrForbidden is returned by an Authorizer that denies a subscription.
var ErrForbidden = errors.New("subscription not allowed")

// MembershipAuthorizer lets any authenticated user watch the global channel
// and restricts event channels to members of that event.
func MembershipAuthorizer(m Membership) Authorizer {
	return func(ctx context.Context, userID int64, channel string) error {
		addr, err := fanout.ParseAddress(channel)
		if err != nil {
			return err
		}
		if addr.Scope == fanout.ScopeGlobal {
			return nil
		}
		if _, err := m.VerifyMembership(ctx, userID, addr.EventID); err != nil {
			if errors.Is(err, location.ErrNotFound) {
				return ErrForbidden
			}
			return fmt.Errorf("verify membership: %w", err)
		}
		return nil
	}
}

// Hub tracks connected clients and delivers fan-out envelopes to the ones
// subscribed to the envelope's channel. It implements fanout.Sender.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	done       chan struct{}
	mu         sync.RWMutex
	authorize  Authorizer
	logger     *zap.Logger
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub allocates a Hub. Call Run in a goroutine to start the event loop.
func NewHub(authorize Authorizer, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcastMsg, 256),
		done:       make(chan struct{}),
		authorize:  authorize,
		logger:     logger.Named("ws"),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// closing every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.closeSend()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("client", client.ID), zap.Int64("user_id", client.UserID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("client", client.ID))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if !client.IsSubscribed(msg.channel) {
					continue
				}
				if !client.deliver(msg.data) {
					h.logger.Warn("dropping message for slow client",
						zap.String("client", client.ID),
						zap.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Send queues the envelope for every client subscribed to channel. It blocks
// only while the broadcast queue is full.
func (h *Hub) Send(ctx context.Context, channel string, events []string, payload any) error {
	data, err := json.Marshal(fanout.Envelope{Channel: channel, Events: events, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ws broadcast %s: %w", channel, ctx.Err())
	case <-h.done:
		return fmt.Errorf("ws broadcast %s: hub stopped", channel)
	}
}

// Register enqueues a new client for addition to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

// Unregister enqueues a client for removal from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
