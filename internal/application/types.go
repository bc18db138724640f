package application

import (
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

type Config struct {
	ServiceName         string
	SimilarityThreshold float64
	Weights             domain.RankingWeights
	MaxInvites          int
	MaxAttempts         int
	ResponseWindow      time.Duration
	IndexRetryBudget    int
	IndexRetryBackoff   time.Duration
	LeaseTTL            time.Duration
	LeaseRetryBudget    int
	LeaseRetryBackoff   time.Duration
	IdempotencyTTL      time.Duration
	EventDedupTTL       time.Duration
	SweepBatchSize      int
}

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

type ListInvitationsInput struct {
	ProjectID string
	State     string
}

type TriggerMatchInput struct {
	ProjectID string
	// Renew forces a new ranking run by bumping the project revision;
	// otherwise the current revision's run is reused when it already exists.
	Renew bool
}

type RecordResponseInput struct {
	InvitationID string
	Outcome      string
	RespondedAt  string
}

// MatchOutcome summarizes one coordinator pass over a project.
type MatchOutcome struct {
	RankingRunID  string
	Revision      int
	Entries       []domain.MatchEntry
	InvitationIDs []string
	Reused        bool
	FailedReason  string
}

type Service struct {
	cfg         Config
	invitations ports.InvitationRepository
	attempts    ports.AttemptRepository
	matches     ports.MatchResultRepository
	projects    ports.ProjectRepository
	contacts    ports.ContactsRepository
	jobs        ports.DispatchJobRepository
	idempotency ports.IdempotencyRepository
	eventDedup  ports.EventDedupRepository
	outbox      ports.OutboxRepository
	leases      ports.LeaseStore
	embedder    ports.EmbeddingClient
	index       ports.CandidateIndex
	senders     map[string]ports.ChannelSender
	nowFn       func() time.Time
	sleepFn     func(d time.Duration)
}

type Dependencies struct {
	Config      Config
	Invitations ports.InvitationRepository
	Attempts    ports.AttemptRepository
	Matches     ports.MatchResultRepository
	Projects    ports.ProjectRepository
	Contacts    ports.ContactsRepository
	Jobs        ports.DispatchJobRepository
	Idempotency ports.IdempotencyRepository
	EventDedup  ports.EventDedupRepository
	Outbox      ports.OutboxRepository
	Leases      ports.LeaseStore
	Embedder    ports.EmbeddingClient
	Index       ports.CandidateIndex
	Senders     map[string]ports.ChannelSender
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "M21-Contractor-Matching-Engine"
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.7
	}
	if cfg.Weights == (domain.RankingWeights{}) {
		cfg.Weights = domain.DefaultRankingWeights()
	}
	if cfg.MaxInvites <= 0 {
		cfg.MaxInvites = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = 72 * time.Hour
	}
	if cfg.IndexRetryBudget <= 0 {
		cfg.IndexRetryBudget = 3
	}
	if cfg.IndexRetryBackoff <= 0 {
		cfg.IndexRetryBackoff = 500 * time.Millisecond
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Second
	}
	if cfg.LeaseRetryBudget <= 0 {
		cfg.LeaseRetryBudget = 3
	}
	if cfg.LeaseRetryBackoff <= 0 {
		cfg.LeaseRetryBackoff = 50 * time.Millisecond
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.EventDedupTTL <= 0 {
		cfg.EventDedupTTL = 7 * 24 * time.Hour
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 200
	}
	return &Service{
		cfg:         cfg,
		invitations: deps.Invitations,
		attempts:    deps.Attempts,
		matches:     deps.Matches,
		projects:    deps.Projects,
		contacts:    deps.Contacts,
		jobs:        deps.Jobs,
		idempotency: deps.Idempotency,
		eventDedup:  deps.EventDedup,
		outbox:      deps.Outbox,
		leases:      deps.Leases,
		embedder:    deps.Embedder,
		index:       deps.Index,
		senders:     deps.Senders,
		nowFn:       func() time.Time { return time.Now().UTC() },
		sleepFn:     time.Sleep,
	}
}
