package events

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
)

type MemoryConsumer struct {
	mu     sync.Mutex
	events []contracts.EventEnvelope
}

func NewMemoryConsumer() *MemoryConsumer {
	return &MemoryConsumer{events: []contracts.EventEnvelope{}}
}

func (c *MemoryConsumer) Seed(events []contracts.EventEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

func (c *MemoryConsumer) Receive(_ context.Context) (*contracts.EventEnvelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil, io.EOF
	}
	item := c.events[0]
	c.events = c.events[1:]
	return &item, nil
}

type MemoryPublisher struct {
	mu     sync.Mutex
	events []contracts.EventEnvelope
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: []contracts.EventEnvelope{}}
}

func (p *MemoryPublisher) Publish(_ context.Context, event contracts.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Events() []contracts.EventEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]contracts.EventEnvelope, len(p.events))
	copy(out, p.events)
	return out
}

type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, event contracts.EventEnvelope) error {
	p.logger.InfoContext(ctx, "published event",
		"event_type", event.EventType,
		"event_id", event.EventID,
		"partition_key", event.PartitionKey,
	)
	return nil
}

type LoggingDLQPublisher struct {
	logger *slog.Logger
}

func NewLoggingDLQPublisher(logger *slog.Logger) *LoggingDLQPublisher {
	return &LoggingDLQPublisher{logger: logger}
}

func (p *LoggingDLQPublisher) PublishDLQ(ctx context.Context, record contracts.DLQRecord) error {
	p.logger.ErrorContext(ctx, "event dead-lettered",
		"event_type", record.OriginalEvent.EventType,
		"event_id", record.OriginalEvent.EventID,
		"dlq_topic", record.DLQTopic,
		"error_summary", record.ErrorSummary,
	)
	return nil
}
