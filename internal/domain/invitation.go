package domain

import "time"

type InvitationState string

const (
	StatePending      InvitationState = "pending"
	StateSent         InvitationState = "sent"
	StateDelivered    InvitationState = "delivered"
	StateResponded    InvitationState = "responded"
	StateDeclined     InvitationState = "declined"
	StateExpired      InvitationState = "expired"
	StateFailed       InvitationState = "failed"
	StateDeadLettered InvitationState = "dead_lettered"
)

const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const (
	AttemptOutcomeSuccess          = "success"
	AttemptOutcomeTransientFailure = "transient_failure"
	AttemptOutcomePermanentFailure = "permanent_failure"
)

// validTransitions is the closed transition table for the invitation
// lifecycle. Anything not listed here is rejected; terminal states have no
// entries at all, which makes them absorbing.
var validTransitions = map[InvitationState][]InvitationState{
	StatePending:   {StateSent, StateFailed, StateDeadLettered},
	StateSent:      {StateDelivered, StateFailed, StateDeadLettered},
	StateDelivered: {StateResponded, StateDeclined, StateExpired},
}

func (s InvitationState) IsTerminal() bool {
	switch s {
	case StateResponded, StateDeclined, StateExpired, StateFailed, StateDeadLettered:
		return true
	default:
		return false
	}
}

func (s InvitationState) CanTransitionTo(to InvitationState) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func IsValidState(raw string) bool {
	switch InvitationState(raw) {
	case StatePending, StateSent, StateDelivered, StateResponded, StateDeclined, StateExpired, StateFailed, StateDeadLettered:
		return true
	default:
		return false
	}
}

func IsValidChannel(raw string) bool {
	switch raw {
	case ChannelInApp, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// Invitation is one outreach attempt at a provider over one channel.
// (project_id, provider_id, channel) is the idempotency key; the tuple never
// maps to more than one live invitation.
type Invitation struct {
	InvitationID     string          `json:"invitation_id"`
	ProjectID        string          `json:"project_id"`
	ProviderID       string          `json:"provider_id"`
	Channel          string          `json:"channel"`
	RankingRunID     string          `json:"ranking_run_id"`
	State            InvitationState `json:"state"`
	AttemptCount     int             `json:"attempt_count"`
	NextRetryAt      *time.Time      `json:"next_retry_at,omitempty"`
	FallbackOf       string          `json:"fallback_of,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	LastTransitionAt time.Time       `json:"last_transition_at"`
}

// Transition applies a state change, enforcing the transition table.
// Transitions out of terminal states return ErrTerminalState so callers that
// replay events can distinguish "already settled" from a genuinely bad move.
func (i *Invitation) Transition(to InvitationState, at time.Time) error {
	if i.State.IsTerminal() {
		return ErrTerminalState
	}
	if !i.State.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	i.State = to
	i.LastTransitionAt = at.UTC()
	if to.IsTerminal() {
		i.NextRetryAt = nil
	}
	return nil
}

// DispatchAttempt is an append-only record of one channel call. Attempts are
// never mutated; retry decisions and responsiveness scoring are derived from
// the log.
type DispatchAttempt struct {
	AttemptID        string    `json:"attempt_id"`
	InvitationID     string    `json:"invitation_id"`
	Channel          string    `json:"channel"`
	IdempotencyToken string    `json:"idempotency_token"`
	Outcome          string    `json:"outcome"`
	ErrorSummary     string    `json:"error_summary,omitempty"`
	LatencyMillis    int64     `json:"latency_millis"`
	AttemptedAt      time.Time `json:"attempted_at"`
}

const (
	retryBase = time.Second
	retryCap  = 5 * time.Minute
)

// RetryBackoff returns the delay before the given attempt number (1-based):
// 1s, 2s, 4s, ... capped at 5 minutes.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	if d > retryCap {
		return retryCap
	}
	return d
}

// ContactPreferences records which channels a provider is reachable on.
// Channel fallback walks ChannelOrder front to back.
type ContactPreferences struct {
	ProviderID   string    `json:"provider_id"`
	InAppEnabled bool      `json:"in_app_enabled"`
	EmailEnabled bool      `json:"email_enabled"`
	SMSEnabled   bool      `json:"sms_enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func DefaultContactPreferences(providerID string, now time.Time) ContactPreferences {
	return ContactPreferences{
		ProviderID:   providerID,
		InAppEnabled: true,
		EmailEnabled: true,
		SMSEnabled:   false,
		UpdatedAt:    now.UTC(),
	}
}

// ChannelOrder lists reachable channels in fallback priority order.
func (p ContactPreferences) ChannelOrder() []string {
	out := make([]string, 0, 3)
	if p.InAppEnabled {
		out = append(out, ChannelInApp)
	}
	if p.EmailEnabled {
		out = append(out, ChannelEmail)
	}
	if p.SMSEnabled {
		out = append(out, ChannelSMS)
	}
	return out
}

// NextChannel returns the reachable channel after the given one, or "" when
// the fallback chain is exhausted.
func (p ContactPreferences) NextChannel(after string) string {
	order := p.ChannelOrder()
	for idx, ch := range order {
		if ch == after && idx+1 < len(order) {
			return order[idx+1]
		}
	}
	return ""
}

// FunnelCounts is the per-project outreach funnel exposed for reporting.
type FunnelCounts struct {
	ProjectID    string `json:"project_id"`
	Pending      int    `json:"pending"`
	Sent         int    `json:"sent"`
	Delivered    int    `json:"delivered"`
	Responded    int    `json:"responded"`
	Declined     int    `json:"declined"`
	Expired      int    `json:"expired"`
	Failed       int    `json:"failed"`
	DeadLettered int    `json:"dead_lettered"`
}

func (f *FunnelCounts) Add(state InvitationState) {
	switch state {
	case StatePending:
		f.Pending++
	case StateSent:
		f.Sent++
	case StateDelivered:
		f.Delivered++
	case StateResponded:
		f.Responded++
	case StateDeclined:
		f.Declined++
	case StateExpired:
		f.Expired++
	case StateFailed:
		f.Failed++
	case StateDeadLettered:
		f.DeadLettered++
	}
}
