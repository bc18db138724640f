package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
)

type Handler struct{ service *application.Service }

func NewHandler(service *application.Service) *Handler { return &Handler{service: service} }

func (h *Handler) listInvitations(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	projectID := chi.URLParam(r, "id")
	items, err := h.service.ListInvitations(r.Context(), actor, application.ListInvitationsInput{
		ProjectID: projectID,
		State:     strings.TrimSpace(r.URL.Query().Get("state")),
	})
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	resp := contracts.ListInvitationsResponse{ProjectID: projectID, Items: make([]contracts.InvitationItem, 0, len(items)), Total: len(items)}
	for _, row := range items {
		resp.Items = append(resp.Items, toInvitationItem(row))
	}
	writeSuccess(w, http.StatusOK, "invitations", resp)
}

func (h *Handler) funnel(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	counts, err := h.service.Funnel(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "invitation funnel", contracts.FunnelResponse{
		ProjectID: counts.ProjectID, Pending: counts.Pending, Sent: counts.Sent, Delivered: counts.Delivered,
		Responded: counts.Responded, Declined: counts.Declined, Expired: counts.Expired, Failed: counts.Failed,
		DeadLettered: counts.DeadLettered,
	})
}

func (h *Handler) matchResult(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	result, err := h.service.GetMatchResult(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	resp := contracts.MatchResultResponse{
		RankingRunID: result.RankingRunID,
		ProjectID:    result.ProjectID,
		Revision:     result.Revision,
		Entries:      make([]contracts.MatchEntryItem, 0, len(result.Entries)),
		ComputedAt:   result.ComputedAt.UTC().Format(time.RFC3339),
	}
	for _, entry := range result.Entries {
		resp.Entries = append(resp.Entries, contracts.MatchEntryItem{ProviderID: entry.ProviderID, Similarity: entry.Similarity, Composite: entry.Composite, Position: entry.Position})
	}
	writeSuccess(w, http.StatusOK, "match result", resp)
}

func (h *Handler) triggerMatch(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	renew := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("renew")), "true")
	outcome, err := h.service.TriggerMatch(r.Context(), actor, application.TriggerMatchInput{ProjectID: chi.URLParam(r, "id"), Renew: renew})
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "matching triggered", contracts.TriggerMatchResponse{
		ProjectID:     chi.URLParam(r, "id"),
		RankingRunID:  outcome.RankingRunID,
		Matched:       len(outcome.Entries),
		InvitationIDs: outcome.InvitationIDs,
		Reused:        outcome.Reused,
	})
}

func (h *Handler) cancelProject(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	cancelled, err := h.service.CancelProject(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "project cancellation processed", contracts.CancelProjectResponse{ProjectID: chi.URLParam(r, "id"), Cancelled: cancelled})
}

func (h *Handler) recordResponse(w http.ResponseWriter, r *http.Request) {
	var req contracts.RecordResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body", requestIDFromContext(r.Context()))
		return
	}
	actor := actorFromContext(r.Context())
	row, err := h.service.RecordResponse(r.Context(), actor, application.RecordResponseInput{
		InvitationID: chi.URLParam(r, "id"),
		Outcome:      req.Outcome,
		RespondedAt:  req.RespondedAt,
	})
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "invitation response recorded", contracts.RecordResponseResponse{InvitationID: row.InvitationID, State: string(row.State)})
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	invitationID := chi.URLParam(r, "id")
	rows, err := h.service.ListAttempts(r.Context(), actor, invitationID)
	if err != nil {
		code, c := mapDomainError(err)
		writeError(w, code, c, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	resp := contracts.ListAttemptsResponse{InvitationID: invitationID, Items: make([]contracts.AttemptItem, 0, len(rows)), Total: len(rows)}
	for _, row := range rows {
		resp.Items = append(resp.Items, contracts.AttemptItem{
			AttemptID:     row.AttemptID,
			Channel:       row.Channel,
			Outcome:       row.Outcome,
			ErrorSummary:  row.ErrorSummary,
			LatencyMillis: row.LatencyMillis,
			AttemptedAt:   row.AttemptedAt.UTC().Format(time.RFC3339),
		})
	}
	writeSuccess(w, http.StatusOK, "dispatch attempts", resp)
}

func toInvitationItem(row domain.Invitation) contracts.InvitationItem {
	item := contracts.InvitationItem{
		InvitationID:     row.InvitationID,
		ProjectID:        row.ProjectID,
		ProviderID:       row.ProviderID,
		Channel:          row.Channel,
		RankingRunID:     row.RankingRunID,
		State:            string(row.State),
		AttemptCount:     row.AttemptCount,
		FallbackOf:       row.FallbackOf,
		CreatedAt:        row.CreatedAt.UTC().Format(time.RFC3339),
		LastTransitionAt: row.LastTransitionAt.UTC().Format(time.RFC3339),
	}
	if row.NextRetryAt != nil {
		item.NextRetryAt = row.NextRetryAt.UTC().Format(time.RFC3339)
	}
	return item
}
