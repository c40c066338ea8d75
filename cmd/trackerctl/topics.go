package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/darkden-lab/argus-tracker/internal/broker"
	"github.com/darkden-lab/argus-tracker/internal/config"
)

func newTopicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Inspect and create Kafka topics",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List non-internal topics",
			RunE:  runTopicsList,
		},
		&cobra.Command{
			Use:   "ensure [topic]",
			Short: "Create the location topic (or the named one) if it does not exist",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runTopicsEnsure,
		},
	)
	return cmd
}

func adminClient(ctx context.Context) (*broker.Client, *config.Config, error) {
	cfg := config.Load()
	brokers := config.SplitList(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, nil, fmt.Errorf("KAFKA_BROKERS is not set")
	}

	client, err := broker.NewKafkaClient(broker.KafkaConfig{
		Brokers:           brokers,
		Topic:             cfg.KafkaTopic,
		ConsumerGroup:     cfg.KafkaConsumerGroup,
		Timeout:           cfg.KafkaTimeout,
		Partitions:        cfg.KafkaPartitions,
		ReplicationFactor: cfg.KafkaReplication,
	}, zap.NewNop())
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx, broker.RoleAdmin); err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

func runTopicsList(cmd *cobra.Command, args []string) error {
	client, _, err := adminClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck

	topics, err := client.ListTopics(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(topics) == 0 {
		fmt.Fprintln(out, "No topics.")
		return nil
	}
	for _, t := range topics {
		fmt.Fprintln(out, t)
	}
	return nil
}

func runTopicsEnsure(cmd *cobra.Command, args []string) error {
	client, cfg, err := adminClient(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck

	topic := cfg.KafkaTopic
	if len(args) == 1 {
		topic = args[0]
	}
	if err := client.CreateTopicIfAbsent(cmd.Context(), topic); err != nil {
		return fmt.Errorf("failed to ensure topic %s: %w", topic, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Topic %s is present.\n", topic)
	return nil
}
