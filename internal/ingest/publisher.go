package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer hashing keys to partitions.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
}

// Publisher announces record changes.
type Publisher struct {
	writer Writer
}

// NewPublisher wraps w.
func NewPublisher(w Writer) *Publisher {
	return &Publisher{writer: w}
}

// Publish writes events, keyed by record.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid ingest event: %w", err)
		}
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding ingest event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Key()), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d ingest events: %w", len(msgs), err)
	}
	return nil
}

// Close closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
