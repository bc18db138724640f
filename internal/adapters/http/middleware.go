package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
)

type contextKey string

const (
	contextKeyActor     contextKey = "actor"
	contextKeyRequestID contextKey = "request_id"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = "req-" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, requestID)))
	})
}

// authMiddleware trusts the identity headers injected by the API gateway;
// requests reaching this service unauthenticated are rejected upstream.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if subject == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity", requestIDFromContext(r.Context()))
			return
		}
		actor := application.Actor{
			SubjectID:      subject,
			Role:           strings.TrimSpace(r.Header.Get("X-User-Role")),
			RequestID:      requestIDFromContext(r.Context()),
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyActor, actor)))
	})
}

func actorFromContext(ctx context.Context) application.Actor {
	if actor, ok := ctx.Value(contextKeyActor).(application.Actor); ok {
		return actor
	}
	return application.Actor{}
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}
