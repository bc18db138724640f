package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
	"github.com/google/uuid"
)

func (s *Service) ListInvitations(ctx context.Context, actor Actor, input ListInvitationsInput) ([]domain.Invitation, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	projectID := strings.TrimSpace(input.ProjectID)
	if projectID == "" {
		return nil, domain.ErrInvalidInput
	}
	state := strings.ToLower(strings.TrimSpace(input.State))
	if state != "" && !domain.IsValidState(state) {
		return nil, domain.ErrInvalidInput
	}
	return s.invitations.ListByProject(ctx, projectID, state)
}

func (s *Service) Funnel(ctx context.Context, actor Actor, projectID string) (domain.FunnelCounts, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.FunnelCounts{}, domain.ErrUnauthorized
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.FunnelCounts{}, domain.ErrInvalidInput
	}
	rows, err := s.invitations.ListByProject(ctx, projectID, "")
	if err != nil {
		return domain.FunnelCounts{}, err
	}
	counts := domain.FunnelCounts{ProjectID: projectID}
	for _, row := range rows {
		counts.Add(row.State)
	}
	return counts, nil
}

// ListAttempts exposes an invitation's append-only dispatch history.
func (s *Service) ListAttempts(ctx context.Context, actor Actor, invitationID string) ([]domain.DispatchAttempt, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	invitationID = strings.TrimSpace(invitationID)
	if invitationID == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.invitations.GetByID(ctx, invitationID); err != nil {
		return nil, err
	}
	return s.attempts.ListByInvitation(ctx, invitationID)
}

func (s *Service) GetMatchResult(ctx context.Context, actor Actor, projectID string) (domain.MatchResult, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.MatchResult{}, domain.ErrUnauthorized
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.MatchResult{}, domain.ErrInvalidInput
	}
	return s.matches.GetLatestByProject(ctx, projectID)
}

// TriggerMatch is the operator-facing entry point into the pipeline. The
// event-driven path (project.summary_ready) goes through RunMatching directly.
func (s *Service) TriggerMatch(ctx context.Context, actor Actor, input TriggerMatchInput) (MatchOutcome, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return MatchOutcome{}, domain.ErrUnauthorized
	}
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if role != "admin" && role != "ops" {
		return MatchOutcome{}, domain.ErrForbidden
	}
	projectID := strings.TrimSpace(input.ProjectID)
	if projectID == "" {
		return MatchOutcome{}, domain.ErrInvalidInput
	}
	if strings.TrimSpace(actor.IdempotencyKey) == "" {
		return MatchOutcome{}, domain.ErrIdempotencyRequired
	}
	requestHash := hashJSON(map[string]any{"op": "trigger_match", "project_id": projectID, "renew": input.Renew})
	if raw, ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return MatchOutcome{}, err
	} else if ok {
		var cached MatchOutcome
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return MatchOutcome{}, err
	}
	outcome, err := s.RunMatching(ctx, projectID, input.Renew)
	if err != nil {
		return MatchOutcome{}, err
	}
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 200, outcome)
	return outcome, nil
}

func (s *Service) CancelProject(ctx context.Context, actor Actor, projectID string) (bool, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return false, domain.ErrUnauthorized
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return false, domain.ErrInvalidInput
	}
	return s.cancelProject(ctx, projectID)
}

func (s *Service) cancelProject(ctx context.Context, projectID string) (bool, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	if p.Cancelled {
		return false, nil
	}
	if err := s.projects.SetCancelled(ctx, projectID, s.nowFn()); err != nil {
		return false, err
	}
	return true, nil
}

// RecordResponse is the manual/ops path for ingesting a provider response
// when the webhook surface is unavailable.
func (s *Service) RecordResponse(ctx context.Context, actor Actor, input RecordResponseInput) (domain.Invitation, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.Invitation{}, domain.ErrUnauthorized
	}
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if role != "admin" && role != "ops" {
		return domain.Invitation{}, domain.ErrForbidden
	}
	invitationID := strings.TrimSpace(input.InvitationID)
	outcome := strings.ToLower(strings.TrimSpace(input.Outcome))
	if invitationID == "" || !domain.IsValidResponseOutcome(outcome) {
		return domain.Invitation{}, domain.ErrInvalidInput
	}
	respondedAt := s.nowFn()
	if raw := strings.TrimSpace(input.RespondedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.Invitation{}, domain.ErrInvalidInput
		}
		respondedAt = parsed.UTC()
	}
	if err := s.applyResponse(ctx, invitationID, outcome, respondedAt); err != nil {
		return domain.Invitation{}, err
	}
	return s.invitations.GetByID(ctx, invitationID)
}

func (s *Service) enqueueDomainEvent(ctx context.Context, eventType, partitionKey string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope := contracts.EventEnvelope{
		EventID:          "evt-" + uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClass(eventType),
		OccurredAt:       s.nowFn(),
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          "trace-" + uuid.NewString(),
		SchemaVersion:    "1.0",
		Data:             data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, portsOutboxRecord(envelope, raw, s.nowFn()))
}

func (s *Service) emitStateChanged(ctx context.Context, row domain.Invitation, from domain.InvitationState) {
	_ = s.enqueueDomainEvent(ctx, domain.EventInvitationStateChanged, row.InvitationID, contracts.InvitationStateChangedPayload{
		InvitationID: row.InvitationID,
		ProjectID:    row.ProjectID,
		ProviderID:   row.ProviderID,
		Channel:      row.Channel,
		FromState:    string(from),
		ToState:      string(row.State),
	})
}

func hashJSON(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (s *Service) getIdempotent(ctx context.Context, key, expectedHash string) ([]byte, bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil, false, nil
	}
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.RequestHash != expectedHash {
		return nil, false, domain.ErrIdempotencyConflict
	}
	if len(rec.ResponseBody) == 0 {
		return nil, false, nil
	}
	return rec.ResponseBody, true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if s.idempotency == nil {
		return nil
	}
	return s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL))
}

func (s *Service) completeIdempotencyJSON(ctx context.Context, key string, code int, v any) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	raw, _ := json.Marshal(v)
	return s.idempotency.Complete(ctx, key, code, raw, s.nowFn())
}

func portsOutboxRecord(envelope contracts.EventEnvelope, raw []byte, now time.Time) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      raw,
		CreatedAt:    now,
	}
}

func newInvitationID() string { return "inv-" + uuid.NewString() }
func newAttemptID() string    { return "att-" + uuid.NewString() }
func newJobID() string        { return "job-" + uuid.NewString() }
