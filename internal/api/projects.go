package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/wheelhousehq/wheelhouse/internal/httpx"
	"github.com/wheelhousehq/wheelhouse/internal/session"
	"github.com/wheelhousehq/wheelhouse/internal/store"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if httpErr := httpx.DecodeRequest(r, &req); httpErr != nil {
		httpErr.Send(w)
		return
	}
	if err := h.validateRequest(req); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusCreated, project)
}

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	projects, err := h.store.ListProjects(r.Context(), user.ID)
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, projects)
}

func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	project, ok := h.ownedProject(w, r, user)
	if !ok {
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, project)
}

func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	project, ok := h.ownedProject(w, r, user)
	if !ok {
		return
	}

	var req models.UpdateProjectRequest
	if httpErr := httpx.DecodeRequest(r, &req); httpErr != nil {
		httpErr.Send(w)
		return
	}
	if err := h.validateRequest(req); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}

	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	project.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateProject(r.Context(), project); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	httpx.SendJSON(r.Context(), w, http.StatusOK, project)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	project, ok := h.ownedProject(w, r, user)
	if !ok {
		return
	}

	// release any live handles under this project before the cascade
	sessions, err := h.store.ListSessions(r.Context(), store.SessionFilter{ProjectID: project.ID})
	if err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	for _, s := range sessions {
		_ = h.coordinator.Delete(r.Context(), user, s.ID)
	}

	if err := h.store.DeleteProject(r.Context(), project.ID); err != nil {
		httpx.SendError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedProject loads the path's project and enforces ownership, writing
// the error response on failure.
func (h *Handler) ownedProject(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Project, bool) {
	id := mux.Vars(r)["id"]
	project, err := h.store.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = session.ErrNotFound.Msg("project not found")
		}
		httpx.SendError(r.Context(), w, err)
		return nil, false
	}
	if project.UserID != user.ID && !user.IsAdmin {
		httpx.SendError(r.Context(), w, session.ErrForbidden.Msg("project belongs to another user"))
		return nil, false
	}
	return project, true
}
