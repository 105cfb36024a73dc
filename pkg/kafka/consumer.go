// Package kafka carries deployment announcements between the deploy command
// and running evaluator hosts over segmentio/kafka-go. The deploy side
// publishes one JSON event per deployment keyed by its target; hosts that
// watch deploys consume them and reload the matching artifact.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
)

// MessageHandler handles one announcement. key is the deployment target.
// A returned error leaves the message uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer follows the deploy topic for one evaluator host.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
}

// NewConsumer returns a Consumer on topic. Hosts only care about
// deployments made after they start, so a new group begins at the tail.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	log := logger.WithComponent("deploy-watcher").With("topic", topic, "group", cfg.ConsumerGroup)
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	})
	return &Consumer{reader: r, logger: log, handler: handler}
}

// Start handles announcements until ctx is cancelled, then closes the
// reader. Messages whose handler fails are logged and skipped without
// committing.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("watching for deployments")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("deploy watcher stopping", "reason", ctx.Err())
				return c.reader.Close()
			}
			c.logger.Error("fetching announcement failed", "error", err)
			continue
		}
		log := c.logger.With(
			"deployment", string(msg.Key),
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		log.Debug("announcement received", "bytes", len(msg.Value))
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			log.Error("handling announcement failed", "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("committing announcement failed", "error", err)
		}
	}
}

// Close closes the reader. It is safe to call after Start has returned.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON decodes an announcement value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding announcement: %w", err)
	}
	return result, nil
}
