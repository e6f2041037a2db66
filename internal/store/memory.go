package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

// Memory is a mutex-guarded in-memory Store. It backs the test suite and
// dev mode; all state is lost on process exit.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	projects map[string]*models.Project
	sessions map[string]*models.Session
	actions  map[string][]*models.SessionAction
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*models.User),
		projects: make(map[string]*models.Project),
		sessions: make(map[string]*models.Session),
		actions:  make(map[string][]*models.SessionAction),
	}
}

func (m *Memory) GetUserByExternalID(_ context.Context, externalID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound.Msg("user not found")
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrConflict.Msg("user already exists")
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return ErrConflict.Msg("project already exists")
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *Memory) GetProject(_ context.Context, id string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound.Msg("project not found")
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProjects(_ context.Context, userID string) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return ErrNotFound.Msg("project not found")
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *Memory) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound.Msg("project not found")
	}
	delete(m.projects, id)
	for sid, s := range m.sessions {
		if s.ProjectID == id {
			delete(m.sessions, sid)
			delete(m.actions, sid)
		}
	}
	return nil
}

func (m *Memory) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict.Msg("session already exists")
	}
	if _, ok := m.projects[s.ProjectID]; !ok {
		return ErrNotFound.Msg("project not found")
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*OwnedSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound.Msg("session not found")
	}
	p, ok := m.projects[s.ProjectID]
	if !ok {
		return nil, ErrNotFound.Msg("owning project not found")
	}
	return &OwnedSession{Session: *s, OwnerID: p.UserID}, nil
}

func (m *Memory) ListSessions(_ context.Context, f SessionFilter) ([]*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Session
	for _, s := range m.sessions {
		if f.ProjectID != "" && s.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.UserID != "" {
			p, ok := m.projects[s.ProjectID]
			if !ok || p.UserID != f.UserID {
				continue
			}
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSessionStatus(_ context.Context, id string, status models.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound.Msg("session not found")
	}
	s.Status = status
	return nil
}

func (m *Memory) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound.Msg("session not found")
	}
	s.LastUsedAt = at
	return nil
}

func (m *Memory) SetSessionContainer(_ context.Context, id, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound.Msg("session not found")
	}
	s.ContainerID = containerID
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound.Msg("session not found")
	}
	delete(m.sessions, id)
	delete(m.actions, id)
	return nil
}

func (m *Memory) CreateAction(_ context.Context, a *models.SessionAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[a.SessionID]; !ok {
		return ErrNotFound.Msg("session not found")
	}
	cp := *a
	m.actions[a.SessionID] = append(m.actions[a.SessionID], &cp)
	return nil
}

func (m *Memory) ListActions(_ context.Context, sessionID string) ([]*models.SessionAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	actions := m.actions[sessionID]
	out := make([]*models.SessionAction, 0, len(actions))
	for _, a := range actions {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
