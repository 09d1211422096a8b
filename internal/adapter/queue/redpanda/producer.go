// Package redpanda publishes clinical response events to Redpanda/Kafka.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/clinical-pilot/internal/adapter/observability"
	"github.com/fairyhunter13/clinical-pilot/internal/domain"
)

// DefaultTopicResponses receives one event per completed chat turn.
const DefaultTopicResponses = "clinical-responses"

const publishTimeout = 5 * time.Second

// recordProducer is the part of *kgo.Client the publisher needs.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Producer implements domain.EventPublisher.
type Producer struct {
	client recordProducer
	topic  string
}

// NewProducer connects to brokers, instruments the client with OpenTelemetry and ensures the topic exists.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultTopicResponses
	}
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	if err := createTopicIfNotExists(ctx, client, topic, 1, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	return &Producer{client: client, topic: topic}, nil
}

// PublishResponse writes ev keyed by conversation id so a conversation's events stay ordered.
func (p *Producer) PublishResponse(ctx domain.Context, ev domain.ResponseEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishResponse: marshal: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.ConversationID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "request_id", Value: []byte(observability.RequestIDFromContext(ctx))},
		},
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.ProduceSync(pctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.PublishResponse: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.client.Close()
	return nil
}

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct{}

// PublishResponse implements domain.EventPublisher.
func (NoopPublisher) PublishResponse(domain.Context, domain.ResponseEvent) error { return nil }
