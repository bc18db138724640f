package contracts

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type InvitationItem struct {
	InvitationID     string `json:"invitation_id"`
	ProjectID        string `json:"project_id"`
	ProviderID       string `json:"provider_id"`
	Channel          string `json:"channel"`
	RankingRunID     string `json:"ranking_run_id"`
	State            string `json:"state"`
	AttemptCount     int    `json:"attempt_count"`
	NextRetryAt      string `json:"next_retry_at,omitempty"`
	FallbackOf       string `json:"fallback_of,omitempty"`
	CreatedAt        string `json:"created_at"`
	LastTransitionAt string `json:"last_transition_at"`
}

type ListInvitationsResponse struct {
	ProjectID string           `json:"project_id"`
	Items     []InvitationItem `json:"items"`
	Total     int              `json:"total"`
}

type FunnelResponse struct {
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

type MatchEntryItem struct {
	ProviderID string  `json:"provider_id"`
	Similarity float64 `json:"similarity"`
	Composite  float64 `json:"composite"`
	Position   int     `json:"position"`
}

type MatchResultResponse struct {
	RankingRunID string           `json:"ranking_run_id"`
	ProjectID    string           `json:"project_id"`
	Revision     int              `json:"revision"`
	Entries      []MatchEntryItem `json:"entries"`
	ComputedAt   string           `json:"computed_at"`
}

type TriggerMatchResponse struct {
	ProjectID     string   `json:"project_id"`
	RankingRunID  string   `json:"ranking_run_id"`
	Matched       int      `json:"matched"`
	InvitationIDs []string `json:"invitation_ids"`
	Reused        bool     `json:"reused"`
}

type CancelProjectResponse struct {
	ProjectID string `json:"project_id"`
	Cancelled bool   `json:"cancelled"`
}

type RecordResponseRequest struct {
	Outcome     string `json:"outcome"`
	RespondedAt string `json:"responded_at,omitempty"`
}

type RecordResponseResponse struct {
	InvitationID string `json:"invitation_id"`
	State        string `json:"state"`
}

type AttemptItem struct {
	AttemptID     string `json:"attempt_id"`
	Channel       string `json:"channel"`
	Outcome       string `json:"outcome"`
	ErrorSummary  string `json:"error_summary,omitempty"`
	LatencyMillis int64  `json:"latency_millis"`
	AttemptedAt   string `json:"attempted_at"`
}

type ListAttemptsResponse struct {
	InvitationID string        `json:"invitation_id"`
	Items        []AttemptItem `json:"items"`
	Total        int           `json:"total"`
}
