// Package store defines the persistence interface for users, projects,
// sessions, and session actions, with in-memory and Postgres backends.
// The store is the single source of truth for session lifecycle state;
// live engine handles are tracked separately by the registry.
package store

import (
	"context"
	"time"

	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

// OwnedSession is a session joined with its owning project's user ID,
// fetched in one round trip so authorization checks need no second query.
type OwnedSession struct {
	models.Session
	OwnerID string
}

// SessionFilter narrows ListSessions. Zero values mean "any".
type SessionFilter struct {
	UserID    string
	ProjectID string
	Status    models.SessionStatus
}

// Store is the datastore consumed by the session coordinator and the API
// handlers. Implementations must make single-row writes atomic; callers
// rely on that for status transitions and audit inserts.
type Store interface {
	// Users
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error

	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context, userID string) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	// DeleteProject removes the project and cascades to its sessions and
	// their actions.
	DeleteProject(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*OwnedSession, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]*models.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	SetSessionContainer(ctx context.Context, id, containerID string) error
	// DeleteSession removes the session row and cascades to its actions.
	DeleteSession(ctx context.Context, id string) error

	// Actions
	CreateAction(ctx context.Context, a *models.SessionAction) error
	// ListActions returns the audit trail ordered by creation time ascending.
	ListActions(ctx context.Context, sessionID string) ([]*models.SessionAction, error)

	Close() error
}
