package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	"github.com/segmentio/kafka-go"
)

const publishTimeout = 5 * time.Second

// MessageWriter is the part of kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire form of a published security event
type Envelope struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	EventType   string         `json:"event_type"`
	UserID      string         `json:"user_id,omitempty"`
	Status      string         `json:"status"`
	Description string         `json:"description,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// KafkaPublisher writes security events to a Kafka topic, keyed by user
// so one user's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	source string
}

// NewKafkaWriter returns a synchronous writer that waits for all replicas.
// Callers publish from a background worker, not a request goroutine.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
}

func NewKafkaPublisher(writer MessageWriter, source string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, source: source}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e *models.SecurityEvent) error {
	env := Envelope{
		ID:          e.ID.String(),
		Source:      p.source,
		EventType:   e.EventType,
		Status:      e.Status,
		Description: e.Description,
		Metadata:    e.Metadata,
		OccurredAt:  e.CreatedAt.UTC(),
	}
	if e.UserID != nil {
		env.UserID = *e.UserID
	}
	if e.IPAddress != nil {
		env.IPAddress = *e.IPAddress
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.UserID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write security event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
