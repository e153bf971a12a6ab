package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event types published on the purchase-lifecycle stream.
const (
	RelationsPushed   = "RelationsPushed"
	RelationPurchased = "RelationPurchased"
	CartRolledBack    = "CartRolledBack"
	BotBlocked        = "BotBlocked"
)

// Envelope is the standard event schema. Keep it small and stable.
type Envelope struct {
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	EventVersion string    `json:"eventVersion"`
	OccurredAt   time.Time `json:"occurredAt"`
	AggregateID  string    `json:"aggregateId"` // task id or shopping cart gid
	Data         any       `json:"data"`
}

// New builds a v1 envelope with a fresh event id.
func New(eventType, aggregateID string, data any) Envelope {
	return Envelope{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: "1",
		AggregateID:  aggregateID,
		Data:         data,
	}
}

// Publisher emits lifecycle events. The orchestrator treats publish
// failures as log-and-continue; the stream is observational.
type Publisher interface {
	Publish(ctx context.Context, key string, evt Envelope) error
}

// Discard satisfies Publisher when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, string, Envelope) error { return nil }

// Producer publishes envelopes to a single kafka topic, partitioned by
// message key so events for one cart or task stay ordered.
type Producer struct {
	w     *kafka.Writer
	topic string
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		}),
		topic: topic,
	}
}

func (p *Producer) Close() error { return p.w.Close() }

func (p *Producer) Publish(ctx context.Context, key string, evt Envelope) error {
	evt.OccurredAt = time.Now().UTC()
	val, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: val,
	})
}
