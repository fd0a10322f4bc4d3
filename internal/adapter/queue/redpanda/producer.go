// Package redpanda publishes job lifecycle events to Redpanda/Kafka.
//
// Events are best effort: every status transition the usecases or the worker
// perform is announced on TopicJobEvents so downstream consumers (UIs,
// notifiers) can follow progress without polling. Publish failures are logged
// and never block the row loop.
package redpanda

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// TopicJobEvents is the Kafka topic carrying job lifecycle events.
const TopicJobEvents = "enrichment-job-events"

// Producer wraps a Kafka producer and implements domain.EventPublisher.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer and ensures the events topic exists.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.new: no seed brokers provided")
	}

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.new: %w", err)
	}

	if err := createTopicIfNotExists(client, TopicJobEvents, 1, 1); err != nil {
		// The topic may already exist or be auto-created by the broker.
		slog.Warn("failed to create events topic", slog.String("topic", TopicJobEvents), slog.Any("error", err))
	}
	return &Producer{client: client}, nil
}

// PublishJobEvent produces one event keyed by job id so per-job ordering is
// preserved within the partition.
func (p *Producer) PublishJobEvent(ctx domain.Context, evt domain.JobEvent) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("op=redpanda.publish: %w", err)
	}
	rec := &kgo.Record{Topic: TopicJobEvents, Key: []byte(evt.JobID), Value: raw}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.publish: %w", err)
	}
	slog.Debug("job event published",
		slog.String("job_id", evt.JobID),
		slog.String("status", string(evt.Status)))
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
