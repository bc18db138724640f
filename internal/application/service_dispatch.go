package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

// Dispatch creates the logical invitation for (project, provider, channel)
// and enqueues its delivery. Calling it again for the same key returns the
// existing invitation without recording a second attempt; this is the
// idempotency contract the rest of the subsystem leans on.
func (s *Service) Dispatch(ctx context.Context, projectID, providerID, channel, runID, fallbackOf string) (domain.Invitation, error) {
	if projectID == "" || providerID == "" || !domain.IsValidChannel(channel) {
		return domain.Invitation{}, domain.ErrInvalidInput
	}
	if existing, err := s.invitations.GetByKey(ctx, projectID, providerID, channel); err == nil {
		return existing, nil
	}

	now := s.nowFn()
	row := domain.Invitation{
		InvitationID:     newInvitationID(),
		ProjectID:        projectID,
		ProviderID:       providerID,
		Channel:          channel,
		RankingRunID:     runID,
		State:            domain.StatePending,
		FallbackOf:       fallbackOf,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := s.invitations.Create(ctx, row); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost a concurrent create for the same key; both callers get
			// the winner's handle.
			return s.invitations.GetByKey(ctx, projectID, providerID, channel)
		}
		return domain.Invitation{}, err
	}
	if err := s.jobs.Enqueue(ctx, ports.DispatchJob{
		JobID:        newJobID(),
		InvitationID: row.InvitationID,
		RunAt:        now,
		CreatedAt:    now,
	}); err != nil {
		return domain.Invitation{}, err
	}
	return row, nil
}

// JobResolution tells the dispatch worker what to do with the durable job:
// complete it, or reschedule it for RetryAt.
type JobResolution struct {
	Done    bool
	RetryAt time.Time
}

// ProcessDispatchJob performs one delivery attempt under the invitation
// lease.
func (s *Service) ProcessDispatchJob(ctx context.Context, job ports.DispatchJob) (JobResolution, error) {
	inv, err := s.invitations.GetByID(ctx, job.InvitationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return JobResolution{Done: true}, nil
		}
		return JobResolution{}, err
	}
	if inv.State.IsTerminal() {
		return JobResolution{Done: true}, nil
	}

	token, err := s.acquireLease(ctx, inv.InvitationID)
	if err != nil {
		return JobResolution{}, err
	}
	defer func() { _ = s.leases.Release(ctx, leaseKey(inv.InvitationID), token) }()

	// Re-read under the lease; another worker may have settled the
	// invitation between the first read and the claim.
	inv, err = s.invitations.GetByID(ctx, job.InvitationID)
	if err != nil {
		return JobResolution{}, err
	}

	// Only pending invitations have outstanding hand-off work. A sent or
	// delivered invitation with a stale job (crash between transition and
	// job completion) must not be re-sent.
	if inv.State != domain.StatePending {
		return JobResolution{Done: true}, nil
	}

	// Cancellation is checked at the lease-acquisition point: a cancelled
	// project blocks pending hand-offs but leaves sent invitations alone.
	// A store failure here must not be read as "not cancelled"; the error
	// propagates so the worker reschedules the job.
	p, err := s.projects.Get(ctx, inv.ProjectID)
	switch {
	case err == nil && p.Cancelled:
		return JobResolution{Done: true}, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return JobResolution{}, err
	}

	return s.attemptSend(ctx, &inv, token)
}

func (s *Service) attemptSend(ctx context.Context, inv *domain.Invitation, leaseToken string) (JobResolution, error) {
	// The append-only attempt log is the source of truth for the attempt
	// number; the counter on the invitation row is a denormalized copy.
	logged, err := s.attempts.CountByInvitation(ctx, inv.InvitationID)
	if err != nil {
		return JobResolution{}, err
	}
	attemptNo := logged + 1
	idempotencyToken := fmt.Sprintf("inv-%s-a%d", inv.InvitationID, attemptNo)

	sender, ok := s.senders[inv.Channel]
	if !ok {
		return s.settlePermanent(ctx, inv, attemptNo, idempotencyToken, 0, "channel_not_configured")
	}

	req := ports.ChannelSendRequest{
		Channel:          inv.Channel,
		ProviderID:       inv.ProviderID,
		ProjectID:        inv.ProjectID,
		InvitationID:     inv.InvitationID,
		IdempotencyToken: idempotencyToken,
		Subject:          "You've been matched to a new project",
		Body:             "A homeowner project matching your profile is accepting bids.",
	}

	// Channel calls can outlive a short lease; keep renewing until the send
	// returns so no other worker claims this invitation mid-flight.
	stopRenewal := s.renewWhileSending(ctx, leaseKey(inv.InvitationID), leaseToken)
	start := s.nowFn()
	res, sendErr := sender.Send(ctx, req)
	latency := s.nowFn().Sub(start).Milliseconds()
	stopRenewal()

	if sendErr != nil {
		res = ports.ChannelSendResult{Status: ports.SendStatusTransientError, ErrorSummary: sendErr.Error()}
	}

	switch res.Status {
	case ports.SendStatusAccepted:
		if err := s.recordAttempt(ctx, inv.InvitationID, inv.Channel, idempotencyToken, domain.AttemptOutcomeSuccess, "", latency); err != nil {
			return JobResolution{}, err
		}
		inv.AttemptCount = attemptNo
		if err := s.transitionLocked(ctx, inv, domain.StateSent); err != nil {
			return JobResolution{}, err
		}
		if res.Delivered {
			if err := s.transitionLocked(ctx, inv, domain.StateDelivered); err != nil {
				return JobResolution{}, err
			}
		}
		return JobResolution{Done: true}, nil

	case ports.SendStatusPermanentError:
		return s.settlePermanent(ctx, inv, attemptNo, idempotencyToken, latency, res.ErrorSummary)

	default: // transient
		if err := s.recordAttempt(ctx, inv.InvitationID, inv.Channel, idempotencyToken, domain.AttemptOutcomeTransientFailure, res.ErrorSummary, latency); err != nil {
			return JobResolution{}, err
		}
		inv.AttemptCount = attemptNo
		if attemptNo >= s.cfg.MaxAttempts {
			if err := s.transitionLocked(ctx, inv, domain.StateDeadLettered); err != nil {
				return JobResolution{}, err
			}
			s.fallbackNextChannel(ctx, *inv)
			return JobResolution{Done: true}, nil
		}
		retryAt := s.nowFn().Add(domain.RetryBackoff(attemptNo))
		inv.NextRetryAt = &retryAt
		if err := s.invitations.Update(ctx, *inv); err != nil {
			return JobResolution{}, err
		}
		return JobResolution{RetryAt: retryAt}, nil
	}
}

func (s *Service) settlePermanent(ctx context.Context, inv *domain.Invitation, attemptNo int, token string, latency int64, summary string) (JobResolution, error) {
	if err := s.recordAttempt(ctx, inv.InvitationID, inv.Channel, token, domain.AttemptOutcomePermanentFailure, summary, latency); err != nil {
		return JobResolution{}, err
	}
	inv.AttemptCount = attemptNo
	if err := s.transitionLocked(ctx, inv, domain.StateFailed); err != nil {
		return JobResolution{}, err
	}
	return JobResolution{Done: true}, nil
}

// fallbackNextChannel opens a fresh invitation on the provider's next
// reachable channel after a dead-letter. Each channel attempt is tracked
// independently; the dead-lettered invitation is left as audit history.
func (s *Service) fallbackNextChannel(ctx context.Context, inv domain.Invitation) {
	prefs, err := s.contacts.GetByProviderID(ctx, inv.ProviderID)
	if err != nil {
		prefs = domain.DefaultContactPreferences(inv.ProviderID, s.nowFn())
	}
	next := prefs.NextChannel(inv.Channel)
	if next == "" {
		return
	}
	_, _ = s.Dispatch(ctx, inv.ProjectID, inv.ProviderID, next, inv.RankingRunID, inv.InvitationID)
}

// HandleDeliveryAck applies the channel collaborator's asynchronous delivery
// acknowledgment. Acks for settled invitations are ignored.
func (s *Service) HandleDeliveryAck(ctx context.Context, invitationID string) error {
	return s.withLease(ctx, invitationID, func(inv *domain.Invitation) error {
		if inv.State.IsTerminal() || inv.State == domain.StateDelivered {
			return nil
		}
		return s.transitionLocked(ctx, inv, domain.StateDelivered)
	})
}

// HandleInvitationResponse applies an inbound provider response. Responses
// arriving after the invitation already settled (for instance after the
// expiry sweep fired) are dropped per the terminal-state rule.
func (s *Service) HandleInvitationResponse(ctx context.Context, invitationID, outcome string) error {
	return s.applyResponse(ctx, invitationID, outcome, s.nowFn())
}

// applyResponse transitions on a response with a caller-supplied timestamp,
// so a response carrying its own responded_at is recorded at that instant.
func (s *Service) applyResponse(ctx context.Context, invitationID, outcome string, at time.Time) error {
	target := domain.StateResponded
	if outcome == domain.ResponseOutcomeDeclined {
		target = domain.StateDeclined
	}
	return s.withLease(ctx, invitationID, func(inv *domain.Invitation) error {
		if inv.State.IsTerminal() {
			return nil
		}
		if !inv.State.CanTransitionTo(target) {
			return domain.ErrInvalidTransition
		}
		return s.transitionLockedAt(ctx, inv, target, at)
	})
}

// SweepExpired moves delivered invitations past the response window to
// expired. The transition guard makes the sweep idempotent: a second pass
// over the same invitation is a no-op.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.nowFn().Add(-s.cfg.ResponseWindow)
	rows, err := s.invitations.ListExpirable(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, row := range rows {
		err := s.withLease(ctx, row.InvitationID, func(inv *domain.Invitation) error {
			if inv.State != domain.StateDelivered || inv.LastTransitionAt.After(cutoff) {
				return nil
			}
			if err := s.transitionLocked(ctx, inv, domain.StateExpired); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrLeaseConflict) {
			return expired, err
		}
	}
	return expired, nil
}

// transitionLocked mutates state under an already-held lease, persists the
// row and emits invitation.state_changed through the outbox.
func (s *Service) transitionLocked(ctx context.Context, inv *domain.Invitation, to domain.InvitationState) error {
	return s.transitionLockedAt(ctx, inv, to, s.nowFn())
}

func (s *Service) transitionLockedAt(ctx context.Context, inv *domain.Invitation, to domain.InvitationState, at time.Time) error {
	from := inv.State
	if err := inv.Transition(to, at); err != nil {
		return err
	}
	if err := s.invitations.Update(ctx, *inv); err != nil {
		return err
	}
	s.emitStateChanged(ctx, *inv, from)
	return nil
}

func (s *Service) recordAttempt(ctx context.Context, invitationID, channel, token, outcome, summary string, latency int64) error {
	return s.attempts.Append(ctx, domain.DispatchAttempt{
		AttemptID:        newAttemptID(),
		InvitationID:     invitationID,
		Channel:          channel,
		IdempotencyToken: token,
		Outcome:          outcome,
		ErrorSummary:     summary,
		LatencyMillis:    latency,
		AttemptedAt:      s.nowFn(),
	})
}

func (s *Service) withLease(ctx context.Context, invitationID string, fn func(inv *domain.Invitation) error) error {
	token, err := s.acquireLease(ctx, invitationID)
	if err != nil {
		return err
	}
	defer func() { _ = s.leases.Release(ctx, leaseKey(invitationID), token) }()
	inv, err := s.invitations.GetByID(ctx, invitationID)
	if err != nil {
		return err
	}
	return fn(&inv)
}

// acquireLease retries briefly on contention before surfacing
// ErrLeaseConflict, which workers translate into a backoff-and-retry rather
// than an externally visible failure.
func (s *Service) acquireLease(ctx context.Context, invitationID string) (string, error) {
	key := leaseKey(invitationID)
	for attempt := 0; attempt < s.cfg.LeaseRetryBudget; attempt++ {
		if attempt > 0 {
			s.sleepFn(s.cfg.LeaseRetryBackoff)
		}
		token, ok, err := s.leases.Acquire(ctx, key, s.cfg.LeaseTTL)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
	}
	return "", domain.ErrLeaseConflict
}

// renewWhileSending keeps the lease alive for the duration of a channel
// call. The returned stop function must be called exactly once.
func (s *Service) renewWhileSending(ctx context.Context, key, token string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	interval := s.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.leases.Renew(ctx, key, token, s.cfg.LeaseTTL)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func leaseKey(invitationID string) string { return "matching:invitation:" + invitationID }
