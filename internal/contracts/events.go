package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type SummaryReadyPayload struct {
	ProjectID string `json:"project_id"`
}

type ProjectCancelledPayload struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason,omitempty"`
}

type InvitationResponsePayload struct {
	InvitationID string `json:"invitation_id"`
	Outcome      string `json:"outcome"`
	RespondedAt  string `json:"responded_at,omitempty"`
}

type ContractorsInvitedPayload struct {
	ProjectID     string   `json:"project_id"`
	RankingRunID  string   `json:"ranking_run_id"`
	InvitationIDs []string `json:"invitation_ids"`
}

type MatchingFailedPayload struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason"`
}

type InvitationStateChangedPayload struct {
	InvitationID string `json:"invitation_id"`
	ProjectID    string `json:"project_id"`
	ProviderID   string `json:"provider_id"`
	Channel      string `json:"channel"`
	FromState    string `json:"from_state"`
	ToState      string `json:"to_state"`
}

type DLQRecord struct {
	OriginalEvent EventEnvelope `json:"original_event"`
	ErrorSummary  string        `json:"error_summary"`
	RetryCount    int           `json:"retry_count"`
	FirstSeenAt   time.Time     `json:"first_seen_at"`
	LastErrorAt   time.Time     `json:"last_error_at"`
	SourceTopic   string        `json:"source_topic,omitempty"`
	DLQTopic      string        `json:"dlq_topic,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
}
