package ports

import (
	"context"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
)

// EmbeddingClient turns text into a fixed-length vector. Failures surface as
// domain.ErrEmbeddingUnavailable after the client's own retry handling.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type SearchFilters struct {
	Category     string
	ServiceAreas []string
	VerifiedOnly bool
}

// CandidateIndex is the read-only nearest-neighbor store of provider vectors.
// Search may return fewer than k and never errors on zero matches.
type CandidateIndex interface {
	Search(ctx context.Context, vector []float32, filters SearchFilters, k int) ([]domain.ScoredCandidate, error)
}

const (
	SendStatusAccepted       = "accepted"
	SendStatusTransientError = "transient_error"
	SendStatusPermanentError = "permanent_error"
)

type ChannelSendRequest struct {
	Channel          string
	ProviderID       string
	ProjectID        string
	InvitationID     string
	IdempotencyToken string
	Subject          string
	Body             string
}

type ChannelSendResult struct {
	Status            string
	ProviderMessageID string
	// Delivered reports a synchronous delivery acknowledgment; channels that
	// ack asynchronously deliver it later as invitation.delivery_ack.
	Delivered    bool
	ErrorSummary string
}

// ChannelSender hands an invitation to one communication channel. Repeated
// calls with the same idempotency token must not re-send.
type ChannelSender interface {
	Send(ctx context.Context, req ChannelSendRequest) (ChannelSendResult, error)
}
