// Package broker wraps the event broker that carries location updates from
// the publish endpoint to the consumer loop.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned when an operation needs a role that has not
// been connected yet.
var ErrNotConnected = errors.New("broker role not connected")

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker is closed")

// Message is a single record read from the topic.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Producer sends opaque payloads to the configured topic.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Consumer reads messages in partition order and commits them one at a time.
type Consumer interface {
	// Fetch blocks until the next message is available or ctx is done.
	Fetch(ctx context.Context) (Message, error)
	// Commit marks msg as fully handled for the consumer group.
	Commit(ctx context.Context, msg Message) error
}

// Broker is the full surface the service needs from a broker.
type Broker interface {
	Producer
	Consumer
	Close() error
}

// ConnectivityError reports a failed broker interaction.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
