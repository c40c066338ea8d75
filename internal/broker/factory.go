package broker

import (
	"context"

	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/config"
)

// New creates a Broker based on the application configuration. If
// KAFKA_BROKERS is set it connects every Kafka role and makes sure the topic
// exists; otherwise it falls back to a Memory broker suitable for a single
// node.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Broker, error) {
	if cfg.KafkaBrokers == "" {
		logger.Info("using in-memory broker (KAFKA_BROKERS not set)", zap.String("topic", cfg.KafkaTopic))
		return NewMemory(cfg.KafkaTopic, 0), nil
	}

	brokers := config.SplitList(cfg.KafkaBrokers)

	client, err := NewKafkaClient(KafkaConfig{
		Brokers:           brokers,
		Topic:             cfg.KafkaTopic,
		ConsumerGroup:     cfg.KafkaConsumerGroup,
		Timeout:           cfg.KafkaTimeout,
		Partitions:        cfg.KafkaPartitions,
		ReplicationFactor: cfg.KafkaReplication,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx, RoleAdmin); err != nil {
		return nil, err
	}
	if err := client.CreateTopicIfAbsent(ctx, cfg.KafkaTopic); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, err
	}
	if err := client.Connect(ctx, RoleProducer, RoleConsumer); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, err
	}

	logger.Info("using Kafka broker",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaConsumerGroup))
	return client, nil
}
