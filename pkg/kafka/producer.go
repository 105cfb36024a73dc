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

// Event is one deployment announcement. Key is the deployment target, so
// every announcement for one deployment lands on the same partition and
// hosts see them in order.
type Event struct {
	Key   string
	Value any
}

// Producer announces finished deployments on the deploy topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer returns a Producer writing to topic. Announcements are rare
// and each one is acknowledged by every in-sync replica before Publish
// returns.
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	log := logger.WithComponent("deploy-announcer").With("topic", topic)
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           time.Millisecond,
		WriteTimeout:           10 * time.Second,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return &Producer{writer: w, logger: log}
}

// Publish writes one announcement and waits for it to be acknowledged.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("encoding announcement for %s: %w", event.Key, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("deploy announcement failed", "deployment", event.Key, "error", err)
		return fmt.Errorf("announcing deployment %s: %w", event.Key, err)
	}
	p.logger.Info("deployment announced", "deployment", event.Key, "bytes", len(value))
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
