package broker

import (
	"context"
	"sync"
	"time"
)

// Memory is a single-process Broker backed by a buffered channel. It keeps
// one partition, assigns increasing offsets and remembers the last committed
// offset. Use it for development and tests.
type Memory struct {
	topic string

	// sendSlot serializes publishers so offsets follow channel order. It is
	// never held by Commit or Close.
	sendSlot   chan struct{}
	nextOffset int64

	mu        sync.Mutex
	closed    bool
	committed int64

	msgs chan Message
	done chan struct{}
}

// NewMemory creates a Memory broker that can hold up to capacity
// unconsumed messages before Publish blocks.
func NewMemory(topic string, capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		topic:     topic,
		sendSlot:  make(chan struct{}, 1),
		committed: -1,
		msgs:      make(chan Message, capacity),
		done:      make(chan struct{}),
	}
}

// Publish enqueues a copy of the payload. It blocks while the queue is full
// until a message is fetched, ctx ends or the broker is closed.
func (m *Memory) Publish(ctx context.Context, key, value []byte) error {
	select {
	case m.sendSlot <- struct{}{}:
	case <-m.done:
		return &ConnectivityError{Op: "publish", Err: ErrClosed}
	case <-ctx.Done():
		return &ConnectivityError{Op: "publish", Err: ctx.Err()}
	}
	defer func() { <-m.sendSlot }()

	select {
	case <-m.done:
		return &ConnectivityError{Op: "publish", Err: ErrClosed}
	default:
	}

	msg := Message{
		Topic:  m.topic,
		Offset: m.nextOffset,
		Key:    append([]byte(nil), key...),
		Value:  append([]byte(nil), value...),
		Time:   time.Now().UTC(),
	}

	select {
	case m.msgs <- msg:
		m.nextOffset++
		return nil
	case <-m.done:
		return &ConnectivityError{Op: "publish", Err: ErrClosed}
	case <-ctx.Done():
		return &ConnectivityError{Op: "publish", Err: ctx.Err()}
	}
}

// Fetch returns the next message in publish order.
func (m *Memory) Fetch(ctx context.Context) (Message, error) {
	select {
	case <-m.done:
		return Message{}, &ConnectivityError{Op: "fetch", Err: ErrClosed}
	default:
	}
	select {
	case msg := <-m.msgs:
		return msg, nil
	case <-m.done:
		return Message{}, &ConnectivityError{Op: "fetch", Err: ErrClosed}
	case <-ctx.Done():
		return Message{}, &ConnectivityError{Op: "fetch", Err: ctx.Err()}
	}
}

// Commit records msg's offset as the last committed one.
func (m *Memory) Commit(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &ConnectivityError{Op: "commit", Err: ErrClosed}
	}
	if msg.Offset > m.committed {
		m.committed = msg.Offset
	}
	return nil
}

func (m *Memory) committedOffset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

// Close stops Fetch and rejects further Publish and Commit calls. Publishers
// blocked on a full queue return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
