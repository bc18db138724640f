package ports

import (
	"context"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
)

type InvitationRepository interface {
	Create(ctx context.Context, row domain.Invitation) error
	GetByID(ctx context.Context, invitationID string) (domain.Invitation, error)
	// GetByKey resolves the (project, provider, channel) idempotency key.
	GetByKey(ctx context.Context, projectID, providerID, channel string) (domain.Invitation, error)
	Update(ctx context.Context, row domain.Invitation) error
	ListByProject(ctx context.Context, projectID string, state string) ([]domain.Invitation, error)
	// ListExpirable returns delivered invitations whose delivery predates the
	// cutoff, for the expiry sweep.
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invitation, error)
}

type AttemptRepository interface {
	Append(ctx context.Context, row domain.DispatchAttempt) error
	CountByInvitation(ctx context.Context, invitationID string) (int, error)
	ListByInvitation(ctx context.Context, invitationID string) ([]domain.DispatchAttempt, error)
}

type MatchResultRepository interface {
	// Create persists an immutable ranking run; a second create for the same
	// run id returns domain.ErrConflict.
	Create(ctx context.Context, row domain.MatchResult) error
	GetByRunID(ctx context.Context, runID string) (domain.MatchResult, error)
	GetLatestByProject(ctx context.Context, projectID string) (domain.MatchResult, error)
}

type ProjectRepository interface {
	Get(ctx context.Context, projectID string) (domain.ProjectSummary, error)
	Upsert(ctx context.Context, row domain.ProjectSummary) error
	// BumpRevision atomically increments the ranking revision counter and
	// returns the new value.
	BumpRevision(ctx context.Context, projectID string) (int, error)
	SetCancelled(ctx context.Context, projectID string, at time.Time) error
	SaveEmbedding(ctx context.Context, projectID string, vector []float32) error
}

type ContactsRepository interface {
	GetByProviderID(ctx context.Context, providerID string) (domain.ContactPreferences, error)
	Upsert(ctx context.Context, row domain.ContactPreferences) error
}

// DispatchJob is one unit of durable outreach work. Jobs survive restarts;
// a crashed worker's claim expires and another worker picks the job up.
type DispatchJob struct {
	JobID        string
	InvitationID string
	RunAt        time.Time
	CreatedAt    time.Time
	ClaimToken   string
	ClaimUntil   *time.Time
	CompletedAt  *time.Time
}

type DispatchJobRepository interface {
	Enqueue(ctx context.Context, job DispatchJob) error
	// ClaimDue claims up to limit jobs whose run_at has passed and whose
	// previous claim, if any, has expired.
	ClaimDue(ctx context.Context, limit int, claimToken string, claimUntil, now time.Time) ([]DispatchJob, error)
	Complete(ctx context.Context, jobID, claimToken string, at time.Time) error
	Reschedule(ctx context.Context, jobID, claimToken string, runAt time.Time) error
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
}

type EventDedupRepository interface {
	IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error
}

type OutboxRecord struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
	PublishedAt  *time.Time
	LastErrorAt  *time.Time
	ClaimToken   string
	ClaimUntil   *time.Time
	DeadLettered *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}
