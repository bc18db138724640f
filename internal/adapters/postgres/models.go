package postgres

import "time"

type invitationModel struct {
	InvitationID     string     `gorm:"column:invitation_id;primaryKey"`
	ProjectID        string     `gorm:"column:project_id;index:idx_invitations_key,unique,priority:1"`
	ProviderID       string     `gorm:"column:provider_id;index:idx_invitations_key,unique,priority:2"`
	Channel          string     `gorm:"column:channel;index:idx_invitations_key,unique,priority:3"`
	RankingRunID     string     `gorm:"column:ranking_run_id"`
	State            string     `gorm:"column:state"`
	AttemptCount     int        `gorm:"column:attempt_count"`
	NextRetryAt      *time.Time `gorm:"column:next_retry_at"`
	FallbackOf       string     `gorm:"column:fallback_of"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	LastTransitionAt time.Time  `gorm:"column:last_transition_at"`
}

func (invitationModel) TableName() string { return "invitations" }

type attemptModel struct {
	AttemptID        string    `gorm:"column:attempt_id;primaryKey"`
	InvitationID     string    `gorm:"column:invitation_id;index"`
	Channel          string    `gorm:"column:channel"`
	IdempotencyToken string    `gorm:"column:idempotency_token"`
	Outcome          string    `gorm:"column:outcome"`
	ErrorSummary     string    `gorm:"column:error_summary"`
	LatencyMillis    int64     `gorm:"column:latency_millis"`
	AttemptedAt      time.Time `gorm:"column:attempted_at"`
}

func (attemptModel) TableName() string { return "dispatch_attempts" }

type matchResultModel struct {
	RankingRunID string    `gorm:"column:ranking_run_id;primaryKey"`
	ProjectID    string    `gorm:"column:project_id;index"`
	Revision     int       `gorm:"column:revision"`
	Entries      string    `gorm:"column:entries;type:jsonb"`
	ComputedAt   time.Time `gorm:"column:computed_at"`
}

func (matchResultModel) TableName() string { return "match_results" }

type projectModel struct {
	ProjectID    string     `gorm:"column:project_id;primaryKey"`
	HomeownerID  string     `gorm:"column:homeowner_id"`
	Category     string     `gorm:"column:category"`
	JobType      string     `gorm:"column:job_type"`
	BudgetRange  string     `gorm:"column:budget_range"`
	Timeline     string     `gorm:"column:timeline"`
	Scope        string     `gorm:"column:scope;type:jsonb"`
	ServiceAreas string     `gorm:"column:service_areas;type:jsonb"`
	AIConfidence float64    `gorm:"column:ai_confidence"`
	Embedding    string     `gorm:"column:embedding;type:jsonb"`
	Revision     int        `gorm:"column:revision"`
	Cancelled    bool       `gorm:"column:cancelled"`
	CancelledAt  *time.Time `gorm:"column:cancelled_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (projectModel) TableName() string { return "projects" }

type contactModel struct {
	ProviderID   string    `gorm:"column:provider_id;primaryKey"`
	InAppEnabled bool      `gorm:"column:in_app_enabled"`
	EmailEnabled bool      `gorm:"column:email_enabled"`
	SMSEnabled   bool      `gorm:"column:sms_enabled"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (contactModel) TableName() string { return "provider_contacts" }

type dispatchJobModel struct {
	JobID        string     `gorm:"column:job_id;primaryKey"`
	InvitationID string     `gorm:"column:invitation_id;index"`
	RunAt        time.Time  `gorm:"column:run_at;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	ClaimToken   string     `gorm:"column:claim_token"`
	ClaimUntil   *time.Time `gorm:"column:claim_until"`
	CompletedAt  *time.Time `gorm:"column:completed_at"`
}

func (dispatchJobModel) TableName() string { return "dispatch_jobs" }

type idempotencyModel struct {
	Key          string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash  string    `gorm:"column:request_hash"`
	ResponseCode int       `gorm:"column:response_code"`
	ResponseBody []byte    `gorm:"column:response_body"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string { return "idempotency_records" }

type eventDedupModel struct {
	EventID   string    `gorm:"column:event_id;primaryKey"`
	EventType string    `gorm:"column:event_type"`
	ExpiresAt time.Time `gorm:"column:expires_at"`
}

func (eventDedupModel) TableName() string { return "event_dedup" }

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      string     `gorm:"column:payload;type:jsonb"`
	RetryCount   int        `gorm:"column:retry_count"`
	LastError    string     `gorm:"column:last_error"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	ClaimToken   string     `gorm:"column:claim_token"`
	ClaimUntil   *time.Time `gorm:"column:claim_until"`
	DeadLettered *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "matching_outbox" }
