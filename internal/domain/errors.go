package domain

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not_found")
	ErrInvalidInput          = errors.New("invalid_input")
	ErrConflict              = errors.New("conflict")
	ErrIdempotencyRequired   = errors.New("idempotency_key_required")
	ErrIdempotencyConflict   = errors.New("idempotency_conflict")
	ErrInvalidEnvelope       = errors.New("invalid_event_envelope")
	ErrUnsupportedEventType  = errors.New("unsupported_event_type")
	ErrUnsupportedEventClass = errors.New("unsupported_event_class")

	ErrInvalidTransition    = errors.New("invalid_state_transition")
	ErrTerminalState        = errors.New("invitation_in_terminal_state")
	ErrLeaseConflict        = errors.New("invitation_lease_conflict")
	ErrEmbeddingUnavailable = errors.New("embedding_unavailable")
	ErrIndexUnavailable     = errors.New("candidate_index_unavailable")
	ErrNoCandidatesFound    = errors.New("no_candidates_found")
	ErrProjectCancelled     = errors.New("project_cancelled")
	ErrVectorDimMismatch    = errors.New("embedding_dimension_mismatch")
	ErrChannelUnreachable   = errors.New("no_reachable_channel")
)
