package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

// Worker drains the canonical event stream and hands each envelope to the
// coordinator. Lease contention is retried in-process; an invitation briefly
// held by another worker is not a poison message and must not hit the DLQ.
type Worker struct {
	logger        *slog.Logger
	consumer      ports.EventConsumer
	dlqPublisher  ports.DLQPublisher
	service       *application.Service
	pollInterval  time.Duration
	leaseRetries  int
	leaseBackoff  time.Duration
	dlqTopic      string
}

func NewWorker(logger *slog.Logger, consumer ports.EventConsumer, dlqPublisher ports.DLQPublisher, service *application.Service, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Worker{
		logger:       logger,
		consumer:     consumer,
		dlqPublisher: dlqPublisher,
		service:      service,
		pollInterval: pollInterval,
		leaseRetries: 5,
		leaseBackoff: 100 * time.Millisecond,
		dlqTopic:     "contractor-matching-engine.dlq",
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.consumer == nil {
				continue
			}
			event, err := w.consumer.Receive(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					continue
				}
				return err
			}
			if event == nil {
				continue
			}
			w.handle(ctx, *event)
		}
	}
}

func (w *Worker) handle(ctx context.Context, event contracts.EventEnvelope) {
	var err error
	for attempt := 0; attempt <= w.leaseRetries; attempt++ {
		err = w.service.HandleCanonicalEvent(ctx, event)
		if !errors.Is(err, domain.ErrLeaseConflict) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.leaseBackoff << attempt):
		}
	}
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrUnsupportedEventType) {
		w.logger.WarnContext(ctx, "unsupported inbound event ignored",
			"event_type", event.EventType, "event_id", event.EventID)
		return
	}
	now := time.Now().UTC()
	_ = w.dlqPublisher.PublishDLQ(ctx, contracts.DLQRecord{
		OriginalEvent: event,
		ErrorSummary:  err.Error(),
		RetryCount:    1,
		FirstSeenAt:   now,
		LastErrorAt:   now,
		SourceTopic:   event.EventType,
		DLQTopic:      w.dlqTopic,
		TraceID:       event.TraceID,
	})
	w.logger.ErrorContext(ctx, "event routed to dlq",
		"event_type", event.EventType, "event_id", event.EventID, "error", err)
}
