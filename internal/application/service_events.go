package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
)

// HandleCanonicalEvent routes one inbound bus event through the pipeline.
// Processing is at-least-once; the dedup store plus idempotent handlers make
// redelivery harmless.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	if err := validateEnvelope(envelope); err != nil {
		return err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return domain.ErrUnsupportedEventType
	}
	expectedClass := domain.CanonicalEventClass(envelope.EventType)
	if strings.TrimSpace(envelope.EventClass) != "" && envelope.EventClass != expectedClass {
		return domain.ErrUnsupportedEventClass
	}
	if err := validatePartitionKeyInvariant(envelope, domain.CanonicalPartitionKeyPath(envelope.EventType)); err != nil {
		return err
	}
	now := s.nowFn()
	dup, err := s.eventDedup.IsDuplicate(ctx, envelope.EventID, now)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}
	if err := s.routeCanonicalEvent(ctx, envelope); err != nil {
		return err
	}
	return s.eventDedup.MarkProcessed(ctx, envelope.EventID, envelope.EventType, now.Add(s.cfg.EventDedupTTL))
}

func (s *Service) routeCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error {
	switch envelope.EventType {
	case domain.EventProjectSummaryReady:
		var payload contracts.SummaryReadyPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || strings.TrimSpace(payload.ProjectID) == "" {
			return domain.ErrInvalidEnvelope
		}
		_, err := s.RunMatching(ctx, payload.ProjectID, false)
		if err == domain.ErrProjectCancelled {
			// A summary for a withdrawn project is stale traffic, not a fault.
			return nil
		}
		return err

	case domain.EventProjectCancelled:
		var payload contracts.ProjectCancelledPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || strings.TrimSpace(payload.ProjectID) == "" {
			return domain.ErrInvalidEnvelope
		}
		_, err := s.cancelProject(ctx, payload.ProjectID)
		if err == domain.ErrNotFound {
			return nil
		}
		return err

	case domain.EventInvitationDeliveryAck:
		var payload contracts.InvitationResponsePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || strings.TrimSpace(payload.InvitationID) == "" {
			return domain.ErrInvalidEnvelope
		}
		err := s.HandleDeliveryAck(ctx, payload.InvitationID)
		if err == domain.ErrInvalidTransition || err == domain.ErrNotFound {
			return nil
		}
		return err

	case domain.EventInvitationResponse:
		var payload contracts.InvitationResponsePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil || strings.TrimSpace(payload.InvitationID) == "" {
			return domain.ErrInvalidEnvelope
		}
		outcome := strings.ToLower(strings.TrimSpace(payload.Outcome))
		if !domain.IsValidResponseOutcome(outcome) {
			return domain.ErrInvalidEnvelope
		}
		respondedAt := s.nowFn()
		if raw := strings.TrimSpace(payload.RespondedAt); raw != "" {
			if parsed, perr := time.Parse(time.RFC3339, raw); perr == nil {
				respondedAt = parsed.UTC()
			}
		}
		err := s.applyResponse(ctx, payload.InvitationID, outcome, respondedAt)
		if err == domain.ErrInvalidTransition || err == domain.ErrNotFound {
			// Late or out-of-order responses are dropped; terminal states
			// are absorbing.
			return nil
		}
		return err

	default:
		return domain.ErrUnsupportedEventType
	}
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.TraceID) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}

func validatePartitionKeyInvariant(event contracts.EventEnvelope, expectedPath string) error {
	if strings.TrimSpace(expectedPath) == "" || event.PartitionKeyPath != expectedPath {
		return domain.ErrInvalidEnvelope
	}
	field := strings.TrimPrefix(expectedPath, "data.")
	var payload map[string]any
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return domain.ErrInvalidEnvelope
	}
	v, ok := payload[field]
	if !ok || fmt.Sprint(v) != event.PartitionKey {
		return domain.ErrInvalidEnvelope
	}
	return nil
}
