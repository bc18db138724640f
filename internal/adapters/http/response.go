package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, contracts.SuccessResponse{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, contracts.ErrorResponse{Status: "error", Error: contracts.ErrorPayload{Code: code, Message: message, RequestID: requestID}})
}

func mapDomainError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrVectorDimMismatch):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrIdempotencyRequired):
		return http.StatusBadRequest, "idempotency_key_required"
	case errors.Is(err, domain.ErrIdempotencyConflict), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrProjectCancelled):
		return http.StatusConflict, "project_cancelled"
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrTerminalState):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, domain.ErrEmbeddingUnavailable), errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
