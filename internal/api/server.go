// Package api exposes the session coordinator and project CRUD over
// HTTP. Handlers decode and validate requests, resolve the caller, and
// translate coordinator results to JSON.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/wheelhousehq/wheelhouse/internal/auth"
	"github.com/wheelhousehq/wheelhouse/internal/httpx"
	"github.com/wheelhousehq/wheelhouse/internal/middleware"
	"github.com/wheelhousehq/wheelhouse/internal/ratelimit"
	"github.com/wheelhousehq/wheelhouse/internal/session"
	"github.com/wheelhousehq/wheelhouse/internal/store"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

// LogsFunc streams backing-resource logs for a session's container.
// Only container-based engine backends provide one; nil disables the
// logs endpoint.
type LogsFunc func(ctx context.Context, containerID string) (io.ReadCloser, error)

// Handler holds the dependencies shared by all route handlers.
type Handler struct {
	coordinator *session.Coordinator
	store       store.Store
	auth        auth.Provider
	validate    *validator.Validate
	logs        LogsFunc
}

func NewHandler(coord *session.Coordinator, st store.Store, provider auth.Provider, logs LogsFunc) *Handler {
	return &Handler{
		coordinator: coord,
		store:       st,
		auth:        provider,
		validate:    validator.New(),
		logs:        logs,
	}
}

// Router builds the full route table with logging, panic recovery, and
// per-user rate limiting applied.
func (h *Handler) Router(limiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PanicHandler)

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(middleware.RateLimit(limiter, h.rateLimitKey))

	api.HandleFunc("/healthz", h.Health).Methods("GET")

	api.HandleFunc("/projects", h.CreateProject).Methods("POST")
	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", h.GetProject).Methods("GET")
	api.HandleFunc("/projects/{id}", h.UpdateProject).Methods("PUT", "PATCH")
	api.HandleFunc("/projects/{id}", h.DeleteProject).Methods("DELETE")

	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/initialize", h.InitializeSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/act", h.Act).Methods("POST")
	api.HandleFunc("/sessions/{id}/extract", h.Extract).Methods("POST")
	api.HandleFunc("/sessions/{id}/actions", h.ListActions).Methods("GET")
	api.HandleFunc("/sessions/{id}/terminate", h.TerminateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}/logs", h.SessionLogs).Methods("GET")
	api.HandleFunc("/sessions/{id}/debug", h.DebugURL).Methods("GET")
	api.HandleFunc("/sessions/{id}/ws", h.DebugSocket).Methods("GET")

	return r
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httpx.SendJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// currentUser resolves the caller or writes the error response itself.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	u, err := h.auth.CurrentUser(r)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return nil, false
	}
	return u, true
}

// rateLimitKey throttles by authenticated user. Unauthenticated requests
// fall through to the handler, which rejects them itself.
func (h *Handler) rateLimitKey(r *http.Request) string {
	u, err := h.auth.CurrentUser(r)
	if err != nil {
		return ""
	}
	return u.ID
}

// validateRequest runs struct validation and maps failures to a 400.
func (h *Handler) validateRequest(v any) error {
	if err := h.validate.Struct(v); err != nil {
		return session.ErrValidation.Msg(err.Error())
	}
	return nil
}
