package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"logsentinel/internal/config"
	"logsentinel/internal/queue"
)

// Consumer implements queue.Consumer and queue.Committer using Kafka.
// Offsets are committed only when the pipeline checkpoints, so messages
// after the last checkpoint are redelivered after a crash.
type Consumer struct {
	reader *kafka.Reader
	topic  string
	logger *slog.Logger
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(cfg *config.KafkaConfig, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{
		reader: reader,
		topic:  cfg.Topic,
		logger: logger,
	}
}

// Start begins consuming messages and calls the handler for each one.
// The stream is unbounded, so Start only returns on cancellation or a
// handler failure.
func (c *Consumer) Start(ctx context.Context, handler queue.MessageHandler) error {
	c.logger.Info("starting kafka consumer",
		"topic", c.reader.Config().Topic,
		"group", c.reader.Config().GroupID,
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka consumer stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		// Convert Kafka message to queue.Message
		queueMsg := &queue.Message{
			Key:       msg.Key,
			Value:     msg.Value,
			Headers:   make(map[string]string, len(msg.Headers)),
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Time:      msg.Time,
		}

		for _, h := range msg.Headers {
			queueMsg.Headers[h.Key] = string(h.Value)
		}

		if err := handler(ctx, queueMsg); err != nil {
			c.logger.Error("message handler stopped the consumer",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return err
		}
	}
}

// Commit acknowledges the last processed offset of each partition.
func (c *Consumer) Commit(ctx context.Context, offsets map[int]int64) error {
	if len(offsets) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(offsets))
	for partition, offset := range offsets {
		msgs = append(msgs, kafka.Message{
			Topic:     c.topic,
			Partition: partition,
			Offset:    offset,
		})
	}

	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
