package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Role identifies one of the three independent broker connections.
type Role int

const (
	RoleAdmin Role = iota
	RoleProducer
	RoleConsumer
)

// AllRoles lists every role in connect order.
var AllRoles = []Role{RoleAdmin, RoleProducer, RoleConsumer}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// State is the connection state of a single role.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// KafkaConfig holds configuration for the Kafka client.
type KafkaConfig struct {
	Brokers           []string      // list of broker addresses
	Topic             string        // topic carrying location updates
	ConsumerGroup     string        // consumer group ID
	Timeout           time.Duration // applied to connect, publish, commit and admin calls
	Partitions        int
	ReplicationFactor int
}

// The kafka-go types the client drives, narrowed so tests can substitute them.
type adminAPI interface {
	Metadata(ctx context.Context, req *kafka.MetadataRequest) (*kafka.MetadataResponse, error)
	CreateTopics(ctx context.Context, req *kafka.CreateTopicsRequest) (*kafka.CreateTopicsResponse, error)
}

type writerAPI interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type readerAPI interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Client owns the admin, producer and consumer connections to Kafka. Each
// role moves from disconnected to connected at most once per Connect call
// that succeeds; connecting an already connected role is a no-op.
type Client struct {
	config KafkaConfig
	logger *zap.Logger

	mu     sync.Mutex
	states map[Role]State
	admin  adminAPI
	writer writerAPI
	reader readerAPI

	newAdmin  func(ctx context.Context) (adminAPI, error)
	newWriter func(ctx context.Context) (writerAPI, error)
	newReader func(ctx context.Context) (readerAPI, error)
}

// NewKafkaClient creates a Client. No connection is made until Connect.
func NewKafkaClient(config KafkaConfig, logger *zap.Logger) (*Client, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "argus-tracker-locations"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Partitions <= 0 {
		config.Partitions = 1
	}
	if config.ReplicationFactor <= 0 {
		config.ReplicationFactor = 1
	}

	c := &Client{
		config: config,
		logger: logger.Named("broker"),
		states: map[Role]State{
			RoleAdmin:    StateDisconnected,
			RoleProducer: StateDisconnected,
			RoleConsumer: StateDisconnected,
		},
	}
	c.newAdmin = c.dialAdmin
	c.newWriter = c.dialWriter
	c.newReader = c.dialReader
	return c, nil
}

// State returns the current connection state of role.
func (c *Client) State(role Role) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[role]
}

// Connect connects each requested role that is not connected yet. Roles that
// fail stay disconnected; the caller decides whether to retry.
func (c *Client) Connect(ctx context.Context, roles ...Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, role := range roles {
		if c.states[role] == StateConnected {
			continue
		}
		if err := c.connectRole(ctx, role); err != nil {
			return &ConnectivityError{Op: "connect " + role.String(), Err: err}
		}
		c.states[role] = StateConnected
		c.logger.Info("connected", zap.Stringer("role", role), zap.Strings("brokers", c.config.Brokers))
	}
	return nil
}

func (c *Client) connectRole(ctx context.Context, role Role) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	switch role {
	case RoleAdmin:
		admin, err := c.newAdmin(ctx)
		if err != nil {
			return err
		}
		c.admin = admin
	case RoleProducer:
		writer, err := c.newWriter(ctx)
		if err != nil {
			return err
		}
		c.writer = writer
	case RoleConsumer:
		reader, err := c.newReader(ctx)
		if err != nil {
			return err
		}
		c.reader = reader
	default:
		return fmt.Errorf("unknown role %v", role)
	}
	return nil
}

// Disconnect closes the connection for role and marks it disconnected.
func (c *Client) Disconnect(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked(role)
}

func (c *Client) disconnectLocked(role Role) error {
	if c.states[role] != StateConnected {
		return nil
	}

	var err error
	switch role {
	case RoleAdmin:
		c.admin = nil
	case RoleProducer:
		err = c.writer.Close()
		c.writer = nil
	case RoleConsumer:
		err = c.reader.Close()
		c.reader = nil
	}
	c.states[role] = StateDisconnected
	c.logger.Info("disconnected", zap.Stringer("role", role))
	return err
}

// Close disconnects every role.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, role := range AllRoles {
		if err := c.disconnectLocked(role); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// ListTopics returns the names of all non-internal topics on the cluster.
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	admin, err := c.adminConn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := admin.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, &ConnectivityError{Op: "list topics", Err: err}
	}

	topics := make([]string, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		if t.Internal || t.Error != nil {
			continue
		}
		topics = append(topics, t.Name)
	}
	return topics, nil
}

// CreateTopicIfAbsent creates name unless it is already listed. A concurrent
// creation by another process is logged and treated as success.
func (c *Client) CreateTopicIfAbsent(ctx context.Context, name string) error {
	topics, err := c.ListTopics(ctx)
	if err != nil {
		return err
	}
	for _, t := range topics {
		if t == name {
			return nil
		}
	}

	admin, err := c.adminConn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := admin.CreateTopics(ctx, &kafka.CreateTopicsRequest{
		Topics: []kafka.TopicConfig{{
			Topic:             name,
			NumPartitions:     c.config.Partitions,
			ReplicationFactor: c.config.ReplicationFactor,
		}},
	})
	if err != nil {
		return &ConnectivityError{Op: "create topic", Err: err}
	}
	if terr := resp.Errors[name]; terr != nil {
		if errors.Is(terr, kafka.TopicAlreadyExists) {
			c.logger.Info("topic created concurrently", zap.String("topic", name))
			return nil
		}
		return &ConnectivityError{Op: "create topic", Err: terr}
	}

	c.logger.Info("topic created", zap.String("topic", name),
		zap.Int("partitions", c.config.Partitions),
		zap.Int("replication_factor", c.config.ReplicationFactor))
	return nil
}

// Publish writes one message to the configured topic. The key controls
// partition placement so every update for a key lands in one partition.
func (c *Client) Publish(ctx context.Context, key, value []byte) error {
	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()
	if writer == nil {
		return &ConnectivityError{Op: "publish", Err: ErrNotConnected}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value}); err != nil {
		return &ConnectivityError{Op: "publish", Err: err}
	}
	return nil
}

// Fetch blocks until the next message arrives. Waiting for a message is not
// bounded by the client timeout.
func (c *Client) Fetch(ctx context.Context) (Message, error) {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return Message{}, &ConnectivityError{Op: "fetch", Err: ErrNotConnected}
	}

	m, err := reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, &ConnectivityError{Op: "fetch", Err: err}
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

// Commit synchronously commits the offset of msg for the consumer group.
func (c *Client) Commit(ctx context.Context, msg Message) error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return &ConnectivityError{Op: "commit", Err: ErrNotConnected}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	err := reader.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
	if err != nil {
		return &ConnectivityError{Op: "commit", Err: err}
	}
	return nil
}

func (c *Client) adminConn() (adminAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admin == nil {
		return nil, &ConnectivityError{Op: "admin", Err: ErrNotConnected}
	}
	return c.admin, nil
}

func (c *Client) dialer() *kafka.Dialer {
	return &kafka.Dialer{Timeout: c.config.Timeout, DualStack: true}
}

// probe opens and closes a connection to the first reachable broker.
func (c *Client) probe(ctx context.Context) error {
	var lastErr error
	for _, addr := range c.config.Brokers {
		conn, err := c.dialer().DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return lastErr
}

func (c *Client) dialAdmin(ctx context.Context) (adminAPI, error) {
	admin := &kafka.Client{
		Addr:    kafka.TCP(c.config.Brokers...),
		Timeout: c.config.Timeout,
	}
	if _, err := admin.Metadata(ctx, &kafka.MetadataRequest{}); err != nil {
		return nil, err
	}
	return admin, nil
}

func (c *Client) dialWriter(ctx context.Context) (writerAPI, error) {
	if err := c.probe(ctx); err != nil {
		return nil, err
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(c.config.Brokers...),
		Topic:        c.config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: c.config.Timeout,
		Transport:    &kafka.Transport{DialTimeout: c.config.Timeout},
	}, nil
}

func (c *Client) dialReader(ctx context.Context) (readerAPI, error) {
	if err := c.probe(ctx); err != nil {
		return nil, err
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: c.config.Brokers,
		Topic:   c.config.Topic,
		GroupID: c.config.ConsumerGroup,
		Dialer:  c.dialer(),
		// Only used when the group has no committed offset yet.
		StartOffset:    kafka.LastOffset,
		CommitInterval: 0,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
	}), nil
}
