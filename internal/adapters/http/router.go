package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ok", nil) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { writeSuccess(w, http.StatusOK, "ready", nil) })
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/projects/{id}/invitations", handler.listInvitations)
			r.Get("/projects/{id}/funnel", handler.funnel)
			r.Get("/projects/{id}/match-result", handler.matchResult)
			r.Post("/projects/{id}/match", handler.triggerMatch)
			r.Post("/projects/{id}/cancel", handler.cancelProject)
			r.Post("/invitations/{id}/response", handler.recordResponse)
			r.Get("/invitations/{id}/attempts", handler.listAttempts)
		})
	})
	return r
}
