// Package ingest publishes committed ride lifecycle events to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by ride request id, so every event for one
// request lands on the same partition in commit order.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{logger: logger.With("component", "ingest")}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   p.completion,
	}
	return p
}

func newPublisherWithWriter(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish never blocks on the broker; write failures surface through completion.
func (p *KafkaPublisher) Publish(ctx context.Context, ev models.RideEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode ride event", "type", ev.Type, "error", err)
		return
	}
	msg := kafka.Message{Key: []byte(ev.RideRequestID), Value: b}
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		observability.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		p.logger.Warn("publish ride event", "type", ev.Type, "ride_request_id", ev.RideRequestID, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues(string(ev.Type), "queued").Inc()
}

func (p *KafkaPublisher) completion(msgs []kafka.Message, err error) {
	if err != nil {
		p.logger.Warn("kafka batch failed", "messages", len(msgs), "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Noop drops events. It is used when KAFKA_BROKERS is empty.
type Noop struct{}

func (Noop) Publish(context.Context, models.RideEvent) {}
func (Noop) Close() error                               { return nil }
