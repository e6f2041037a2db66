package api

import (
	"bufio"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wheelhousehq/wheelhouse/internal/httpx"
	"github.com/wheelhousehq/wheelhouse/internal/proxy"
	"github.com/wheelhousehq/wheelhouse/internal/session"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.CreateSessionRequest
	if httpErr := httpx.DecodeRequest(r, &req); httpErr != nil {
		httpErr.Send(w)
		return
	}
	if err := h.validateRequest(req); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}

	s, err := h.coordinator.Create(r.Context(), user, req)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusCreated, s)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	projectID := r.URL.Query().Get("projectId")
	status := models.SessionStatus(r.URL.Query().Get("status"))

	sessions, err := h.coordinator.List(r.Context(), user, projectID, status)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, sessions)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	s, err := h.coordinator.Get(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, s)
}

func (h *Handler) InitializeSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	s, err := h.coordinator.Initialize(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, s)
}

func (h *Handler) Act(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.ActRequest
	if httpErr := httpx.DecodeRequest(r, &req); httpErr != nil {
		httpErr.Send(w)
		return
	}
	if err := h.validateRequest(req); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}

	result, err := h.coordinator.Act(r.Context(), user, mux.Vars(r)["id"], req.Action)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, result)
}

func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.ExtractRequest
	if httpErr := httpx.DecodeRequest(r, &req); httpErr != nil {
		httpErr.Send(w)
		return
	}
	if err := h.validateRequest(req); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}

	data, err := h.coordinator.Extract(r.Context(), user, mux.Vars(r)["id"], req.Instruction, req.Schema)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, data)
}

func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	actions, err := h.coordinator.Actions(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, actions)
}

func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	s, err := h.coordinator.Terminate(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, s)
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.coordinator.Delete(r.Context(), user, mux.Vars(r)["id"]); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionLogs streams the session's container logs as plain text. Only
// available on container-based engine backends.
func (h *Handler) SessionLogs(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	s, err := h.coordinator.Get(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	if h.logs == nil || s.ContainerID == "" {
		httpx.SendError(r.Context(), w, session.ErrValidation.Msg("session has no container logs"))
		return
	}

	reader, err := h.logs(r.Context(), s.ContainerID)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	bw.ReadFrom(reader)
}

// DebugURL tells a debugging client where to attach. The returned ws
// path is served by DebugSocket.
func (h *Handler) DebugURL(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := h.debugTarget(r, user, id); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, map[string]string{
		"debuggerUrl": "/v1/sessions/" + id + "/ws",
	})
}

// DebugSocket attaches a WebSocket client to the session's browser
// DevTools endpoint.
func (h *Handler) DebugSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	connectURL, err := h.debugTarget(r, user, id)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	proxy.Debug(w, r, id, connectURL)
}

func (h *Handler) debugTarget(r *http.Request, user *models.User, id string) (string, error) {
	handle, err := h.coordinator.Handle(r.Context(), user, id)
	if err != nil {
		return "", err
	}
	connectURL := handle.ConnectURL()
	if connectURL == "" {
		return "", session.ErrValidation.Msg("session's backend does not expose a debug endpoint")
	}
	return connectURL, nil
}
