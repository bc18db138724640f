package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repositories struct {
	Invitations  ports.InvitationRepository
	Attempts     ports.AttemptRepository
	Matches      ports.MatchResultRepository
	Projects     ports.ProjectRepository
	Contacts     ports.ContactsRepository
	DispatchJobs ports.DispatchJobRepository
	Idempotency  ports.IdempotencyRepository
	EventDedup   ports.EventDedupRepository
	Outbox       ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Invitations:  &invitationRepository{db: db},
		Attempts:     &attemptRepository{db: db},
		Matches:      &matchResultRepository{db: db},
		Projects:     &projectRepository{db: db},
		Contacts:     &contactsRepository{db: db},
		DispatchJobs: &dispatchJobRepository{db: db},
		Idempotency:  &idempotencyRepository{db: db},
		EventDedup:   &eventDedupRepository{db: db},
		Outbox:       &outboxRepository{db: db},
	}
}

type invitationRepository struct {
	db *gorm.DB
}

func (r *invitationRepository) Create(ctx context.Context, row domain.Invitation) error {
	rec := toInvitationModel(row)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *invitationRepository) GetByID(ctx context.Context, invitationID string) (domain.Invitation, error) {
	var rec invitationModel
	if err := r.db.WithContext(ctx).Where("invitation_id = ?", invitationID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invitation{}, domain.ErrNotFound
		}
		return domain.Invitation{}, err
	}
	return toDomainInvitation(rec), nil
}

func (r *invitationRepository) GetByKey(ctx context.Context, projectID, providerID, channel string) (domain.Invitation, error) {
	var rec invitationModel
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Where("provider_id = ?", providerID).
		Where("channel = ?", channel).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invitation{}, domain.ErrNotFound
		}
		return domain.Invitation{}, err
	}
	return toDomainInvitation(rec), nil
}

func (r *invitationRepository) Update(ctx context.Context, row domain.Invitation) error {
	rec := toInvitationModel(row)
	res := r.db.WithContext(ctx).
		Model(&invitationModel{}).
		Where("invitation_id = ?", row.InvitationID).
		Updates(map[string]any{
			"state":              rec.State,
			"attempt_count":      rec.AttemptCount,
			"next_retry_at":      rec.NextRetryAt,
			"last_transition_at": rec.LastTransitionAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *invitationRepository) ListByProject(ctx context.Context, projectID string, state string) ([]domain.Invitation, error) {
	query := r.db.WithContext(ctx).Where("project_id = ?", projectID)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	var rows []invitationModel
	if err := query.Order("created_at ASC, invitation_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Invitation, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainInvitation(row))
	}
	return result, nil
}

func (r *invitationRepository) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invitation, error) {
	var rows []invitationModel
	if err := r.db.WithContext(ctx).
		Where("state = ?", string(domain.StateDelivered)).
		Where("last_transition_at <= ?", cutoff).
		Order("last_transition_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.Invitation, 0, len(rows))
	for _, row := range rows {
		result = append(result, toDomainInvitation(row))
	}
	return result, nil
}

type attemptRepository struct {
	db *gorm.DB
}

func (r *attemptRepository) Append(ctx context.Context, row domain.DispatchAttempt) error {
	rec := attemptModel{
		AttemptID:        row.AttemptID,
		InvitationID:     row.InvitationID,
		Channel:          row.Channel,
		IdempotencyToken: row.IdempotencyToken,
		Outcome:          row.Outcome,
		ErrorSummary:     row.ErrorSummary,
		LatencyMillis:    row.LatencyMillis,
		AttemptedAt:      row.AttemptedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *attemptRepository) CountByInvitation(ctx context.Context, invitationID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&attemptModel{}).
		Where("invitation_id = ?", invitationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *attemptRepository) ListByInvitation(ctx context.Context, invitationID string) ([]domain.DispatchAttempt, error) {
	var rows []attemptModel
	if err := r.db.WithContext(ctx).
		Where("invitation_id = ?", invitationID).
		Order("attempted_at ASC, attempt_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.DispatchAttempt, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.DispatchAttempt{
			AttemptID:        row.AttemptID,
			InvitationID:     row.InvitationID,
			Channel:          row.Channel,
			IdempotencyToken: row.IdempotencyToken,
			Outcome:          row.Outcome,
			ErrorSummary:     row.ErrorSummary,
			LatencyMillis:    row.LatencyMillis,
			AttemptedAt:      row.AttemptedAt,
		})
	}
	return result, nil
}

type matchResultRepository struct {
	db *gorm.DB
}

func (r *matchResultRepository) Create(ctx context.Context, row domain.MatchResult) error {
	entries, err := json.Marshal(row.Entries)
	if err != nil {
		return fmt.Errorf("encode match entries: %w", err)
	}
	rec := matchResultModel{
		RankingRunID: row.RankingRunID,
		ProjectID:    row.ProjectID,
		Revision:     row.Revision,
		Entries:      string(entries),
		ComputedAt:   row.ComputedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *matchResultRepository) GetByRunID(ctx context.Context, runID string) (domain.MatchResult, error) {
	var rec matchResultModel
	if err := r.db.WithContext(ctx).Where("ranking_run_id = ?", runID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.MatchResult{}, domain.ErrNotFound
		}
		return domain.MatchResult{}, err
	}
	return toDomainMatchResult(rec)
}

func (r *matchResultRepository) GetLatestByProject(ctx context.Context, projectID string) (domain.MatchResult, error) {
	var rec matchResultModel
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("revision DESC").
		Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.MatchResult{}, domain.ErrNotFound
		}
		return domain.MatchResult{}, err
	}
	return toDomainMatchResult(rec)
}

type projectRepository struct {
	db *gorm.DB
}

func (r *projectRepository) Get(ctx context.Context, projectID string) (domain.ProjectSummary, error) {
	var rec projectModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProjectSummary{}, domain.ErrNotFound
		}
		return domain.ProjectSummary{}, err
	}
	return toDomainProject(rec)
}

func (r *projectRepository) Upsert(ctx context.Context, row domain.ProjectSummary) error {
	rec, err := toProjectModel(row)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"homeowner_id":  rec.HomeownerID,
			"category":      rec.Category,
			"job_type":      rec.JobType,
			"budget_range":  rec.BudgetRange,
			"timeline":      rec.Timeline,
			"scope":         rec.Scope,
			"service_areas": rec.ServiceAreas,
			"ai_confidence": rec.AIConfidence,
			"updated_at":    rec.UpdatedAt,
		}),
	}).Create(&rec).Error
}

func (r *projectRepository) BumpRevision(ctx context.Context, projectID string) (int, error) {
	var revision int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec projectModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("project_id = ?", projectID).
			Take(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		revision = rec.Revision + 1
		return tx.Model(&projectModel{}).
			Where("project_id = ?", projectID).
			Update("revision", revision).Error
	})
	if err != nil {
		return 0, err
	}
	return revision, nil
}

func (r *projectRepository) SetCancelled(ctx context.Context, projectID string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&projectModel{}).
		Where("project_id = ?", projectID).
		Updates(map[string]any{
			"cancelled":    true,
			"cancelled_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *projectRepository) SaveEmbedding(ctx context.Context, projectID string, vector []float32) error {
	encoded, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res := r.db.WithContext(ctx).
		Model(&projectModel{}).
		Where("project_id = ?", projectID).
		Update("embedding", string(encoded))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type contactsRepository struct {
	db *gorm.DB
}

func (r *contactsRepository) GetByProviderID(ctx context.Context, providerID string) (domain.ContactPreferences, error) {
	var rec contactModel
	if err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ContactPreferences{}, domain.ErrNotFound
		}
		return domain.ContactPreferences{}, err
	}
	return domain.ContactPreferences{
		ProviderID:   rec.ProviderID,
		InAppEnabled: rec.InAppEnabled,
		EmailEnabled: rec.EmailEnabled,
		SMSEnabled:   rec.SMSEnabled,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func (r *contactsRepository) Upsert(ctx context.Context, row domain.ContactPreferences) error {
	rec := contactModel{
		ProviderID:   row.ProviderID,
		InAppEnabled: row.InAppEnabled,
		EmailEnabled: row.EmailEnabled,
		SMSEnabled:   row.SMSEnabled,
		UpdatedAt:    row.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"in_app_enabled": rec.InAppEnabled,
			"email_enabled":  rec.EmailEnabled,
			"sms_enabled":    rec.SMSEnabled,
			"updated_at":     rec.UpdatedAt,
		}),
	}).Create(&rec).Error
}

type dispatchJobRepository struct {
	db *gorm.DB
}

func (r *dispatchJobRepository) Enqueue(ctx context.Context, job ports.DispatchJob) error {
	rec := dispatchJobModel{
		JobID:        job.JobID,
		InvitationID: job.InvitationID,
		RunAt:        job.RunAt,
		CreatedAt:    job.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *dispatchJobRepository) ClaimDue(ctx context.Context, limit int, claimToken string, claimUntil, now time.Time) ([]ports.DispatchJob, error) {
	var claimed []dispatchJobModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("completed_at IS NULL").
			Where("run_at <= ?", now).
			Where("claim_until IS NULL OR claim_until <= ?", now).
			Order("run_at ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]string, 0, len(claimed))
		for _, row := range claimed {
			ids = append(ids, row.JobID)
		}
		return tx.Model(&dispatchJobModel{}).
			Where("job_id IN ?", ids).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	result := make([]ports.DispatchJob, 0, len(claimed))
	for _, row := range claimed {
		result = append(result, ports.DispatchJob{
			JobID:        row.JobID,
			InvitationID: row.InvitationID,
			RunAt:        row.RunAt,
			CreatedAt:    row.CreatedAt,
			ClaimToken:   claimToken,
			ClaimUntil:   &claimUntil,
		})
	}
	return result, nil
}

func (r *dispatchJobRepository) Complete(ctx context.Context, jobID, claimToken string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&dispatchJobModel{}).
		Where("job_id = ?", jobID).
		Where("claim_token = ?", claimToken).
		Update("completed_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *dispatchJobRepository) Reschedule(ctx context.Context, jobID, claimToken string, runAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&dispatchJobModel{}).
		Where("job_id = ?", jobID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"run_at":      runAt,
			"claim_token": "",
			"claim_until": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	var rec idempotencyModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Where("expires_at > ?", now).
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ports.IdempotencyRecord{
		Key:          rec.Key,
		RequestHash:  rec.RequestHash,
		ResponseCode: rec.ResponseCode,
		ResponseBody: rec.ResponseBody,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	rec := idempotencyModel{
		Key:         key,
		RequestHash: requestHash,
		ExpiresAt:   expiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&idempotencyModel{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"response_code": responseCode,
			"response_body": responseBody,
		}).Error
}

type eventDedupRepository struct {
	db *gorm.DB
}

func (r *eventDedupRepository) IsDuplicate(ctx context.Context, eventID string, now time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&eventDedupModel{}).
		Where("event_id = ?", eventID).
		Where("expires_at > ?", now).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *eventDedupRepository) MarkProcessed(ctx context.Context, eventID, eventType string, expiresAt time.Time) error {
	rec := eventDedupModel{
		EventID:   eventID,
		EventType: eventType,
		ExpiresAt: expiresAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, record ports.OutboxRecord) error {
	rec := outboxModel{
		OutboxID:     record.OutboxID,
		EventType:    record.EventType,
		PartitionKey: record.PartitionKey,
		Payload:      string(record.Payload),
		CreatedAt:    record.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *outboxRepository) ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]ports.OutboxRecord, error) {
	now := time.Now().UTC()
	var claimed []outboxModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL").
			Where("dead_lettered_at IS NULL").
			Where("claim_until IS NULL OR claim_until <= ?", now).
			Order("created_at ASC").
			Limit(limit).
			Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]string, 0, len(claimed))
		for _, row := range claimed {
			ids = append(ids, row.OutboxID)
		}
		return tx.Model(&outboxModel{}).
			Where("outbox_id IN ?", ids).
			Updates(map[string]any{
				"claim_token": claimToken,
				"claim_until": claimUntil,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	result := make([]ports.OutboxRecord, 0, len(claimed))
	for _, row := range claimed {
		result = append(result, ports.OutboxRecord{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      []byte(row.Payload),
			RetryCount:   row.RetryCount,
			LastError:    row.LastError,
			CreatedAt:    row.CreatedAt,
			PublishedAt:  row.PublishedAt,
			LastErrorAt:  row.LastErrorAt,
			ClaimToken:   claimToken,
			ClaimUntil:   &claimUntil,
			DeadLettered: row.DeadLettered,
		})
	}
	return result, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Update("published_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_error":    errMsg,
			"last_error_at": at,
			"claim_token":   "",
			"claim_until":   nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Where("claim_token = ?", claimToken).
		Updates(map[string]any{
			"retry_count":      gorm.Expr("retry_count + 1"),
			"last_error":       errMsg,
			"last_error_at":    at,
			"dead_lettered_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func toInvitationModel(row domain.Invitation) invitationModel {
	return invitationModel{
		InvitationID:     row.InvitationID,
		ProjectID:        row.ProjectID,
		ProviderID:       row.ProviderID,
		Channel:          row.Channel,
		RankingRunID:     row.RankingRunID,
		State:            string(row.State),
		AttemptCount:     row.AttemptCount,
		NextRetryAt:      row.NextRetryAt,
		FallbackOf:       row.FallbackOf,
		CreatedAt:        row.CreatedAt,
		LastTransitionAt: row.LastTransitionAt,
	}
}

func toDomainInvitation(rec invitationModel) domain.Invitation {
	return domain.Invitation{
		InvitationID:     rec.InvitationID,
		ProjectID:        rec.ProjectID,
		ProviderID:       rec.ProviderID,
		Channel:          rec.Channel,
		RankingRunID:     rec.RankingRunID,
		State:            domain.InvitationState(rec.State),
		AttemptCount:     rec.AttemptCount,
		NextRetryAt:      rec.NextRetryAt,
		FallbackOf:       rec.FallbackOf,
		CreatedAt:        rec.CreatedAt,
		LastTransitionAt: rec.LastTransitionAt,
	}
}

func toDomainMatchResult(rec matchResultModel) (domain.MatchResult, error) {
	var entries []domain.MatchEntry
	if rec.Entries != "" {
		if err := json.Unmarshal([]byte(rec.Entries), &entries); err != nil {
			return domain.MatchResult{}, fmt.Errorf("decode match entries: %w", err)
		}
	}
	return domain.MatchResult{
		RankingRunID: rec.RankingRunID,
		ProjectID:    rec.ProjectID,
		Revision:     rec.Revision,
		Entries:      entries,
		ComputedAt:   rec.ComputedAt,
	}, nil
}

func toProjectModel(row domain.ProjectSummary) (projectModel, error) {
	scope, err := json.Marshal(row.Scope)
	if err != nil {
		return projectModel{}, fmt.Errorf("encode scope: %w", err)
	}
	areas, err := json.Marshal(row.ServiceAreas)
	if err != nil {
		return projectModel{}, fmt.Errorf("encode service areas: %w", err)
	}
	embedding := ""
	if len(row.Embedding) > 0 {
		raw, err := json.Marshal(row.Embedding)
		if err != nil {
			return projectModel{}, fmt.Errorf("encode embedding: %w", err)
		}
		embedding = string(raw)
	}
	return projectModel{
		ProjectID:    row.ProjectID,
		HomeownerID:  row.HomeownerID,
		Category:     row.Category,
		JobType:      row.JobType,
		BudgetRange:  row.BudgetRange,
		Timeline:     row.Timeline,
		Scope:        string(scope),
		ServiceAreas: string(areas),
		AIConfidence: row.AIConfidence,
		Embedding:    embedding,
		Revision:     row.Revision,
		Cancelled:    row.Cancelled,
		CancelledAt:  row.CancelledAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func toDomainProject(rec projectModel) (domain.ProjectSummary, error) {
	var scope domain.ScopeDetails
	if rec.Scope != "" {
		if err := json.Unmarshal([]byte(rec.Scope), &scope); err != nil {
			return domain.ProjectSummary{}, fmt.Errorf("decode scope: %w", err)
		}
	}
	var areas []string
	if rec.ServiceAreas != "" {
		if err := json.Unmarshal([]byte(rec.ServiceAreas), &areas); err != nil {
			return domain.ProjectSummary{}, fmt.Errorf("decode service areas: %w", err)
		}
	}
	var embedding []float32
	if rec.Embedding != "" {
		if err := json.Unmarshal([]byte(rec.Embedding), &embedding); err != nil {
			return domain.ProjectSummary{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return domain.ProjectSummary{
		ProjectID:    rec.ProjectID,
		HomeownerID:  rec.HomeownerID,
		Category:     rec.Category,
		JobType:      rec.JobType,
		BudgetRange:  rec.BudgetRange,
		Timeline:     rec.Timeline,
		Scope:        scope,
		ServiceAreas: areas,
		AIConfidence: rec.AIConfidence,
		Embedding:    embedding,
		Revision:     rec.Revision,
		Cancelled:    rec.Cancelled,
		CancelledAt:  rec.CancelledAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
