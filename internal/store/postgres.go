package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

const pqUniqueViolation = "23505"

// Postgres is the production Store backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	email       TEXT NOT NULL DEFAULT '',
	is_admin    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	status       TEXT NOT NULL,
	start_url    TEXT NOT NULL DEFAULT '',
	container_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS session_actions (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	action_type TEXT NOT NULL,
	details     TEXT NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_actions_session ON session_actions(session_id, created_at);
`

// NewPostgres opens a connection pool and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ErrDatabase.Err(err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ErrDatabase.Msg("unable to reach postgres").Err(err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, ErrDatabase.Msg("unable to apply schema").Err(err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, external_id, email, is_admin, created_at FROM users WHERE external_id = $1`,
		externalID,
	).Scan(&u.ID, &u.ExternalID, &u.Email, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, mapError(ctx, err, "user not found")
	}
	return &u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, email, is_admin, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.ExternalID, u.Email, u.IsAdmin, u.CreatedAt,
	)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return nil
}

func (p *Postgres) CreateProject(ctx context.Context, pr *models.Project) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pr.ID, pr.UserID, pr.Name, pr.Description, pr.CreatedAt, pr.UpdatedAt,
	)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return nil
}

func (p *Postgres) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var pr models.Project
	err := p.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at FROM projects WHERE id = $1`,
		id,
	).Scan(&pr.ID, &pr.UserID, &pr.Name, &pr.Description, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return nil, mapError(ctx, err, "project not found")
	}
	return &pr, nil
}

func (p *Postgres) ListProjects(ctx context.Context, userID string) ([]*models.Project, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, name, description, created_at, updated_at
		 FROM projects WHERE user_id = $1 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, mapError(ctx, err, "")
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var pr models.Project
		if err := rows.Scan(&pr.ID, &pr.UserID, &pr.Name, &pr.Description, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, mapError(ctx, err, "")
		}
		out = append(out, &pr)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateProject(ctx context.Context, pr *models.Project) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE projects SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`,
		pr.ID, pr.Name, pr.Description,
	)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return requireRow(res, "project not found")
}

func (p *Postgres) DeleteProject(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return requireRow(res, "project not found")
}

func (p *Postgres) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, status, start_url, container_id, created_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ProjectID, string(s.Status), s.StartURL, s.ContainerID, s.CreatedAt, s.LastUsedAt,
	)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*OwnedSession, error) {
	var s OwnedSession
	var status string
	err := p.db.QueryRowContext(ctx,
		`SELECT s.id, s.project_id, s.status, s.start_url, s.container_id, s.created_at, s.last_used_at, p.user_id
		 FROM sessions s JOIN projects p ON p.id = s.project_id
		 WHERE s.id = $1`,
		id,
	).Scan(&s.ID, &s.ProjectID, &status, &s.StartURL, &s.ContainerID, &s.CreatedAt, &s.LastUsedAt, &s.OwnerID)
	if err != nil {
		return nil, mapError(ctx, err, "session not found")
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

func (p *Postgres) ListSessions(ctx context.Context, f SessionFilter) ([]*models.Session, error) {
	query := `SELECT s.id, s.project_id, s.status, s.start_url, s.container_id, s.created_at, s.last_used_at
		FROM sessions s JOIN projects p ON p.id = s.project_id
		WHERE ($1 = '' OR p.user_id = $1)
		  AND ($2 = '' OR s.project_id = $2)
		  AND ($3 = '' OR s.status = $3)
		ORDER BY s.created_at DESC`
	rows, err := p.db.QueryContext(ctx, query, f.UserID, f.ProjectID, string(f.Status))
	if err != nil {
		return nil, mapError(ctx, err, "")
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var s models.Session
		var status string
		if err := rows.Scan(&s.ID, &s.ProjectID, &status, &s.StartURL, &s.ContainerID, &s.CreatedAt, &s.LastUsedAt); err != nil {
			return nil, mapError(ctx, err, "")
		}
		s.Status = models.SessionStatus(status)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return mapError(ctx, err, "")
	}
	return requireRow(res, "session not found")
}

func (p *Postgres) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return requireRow(res, "session not found")
}

func (p *Postgres) SetSessionContainer(ctx context.Context, id, containerID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET container_id = $2 WHERE id = $1`, id, containerID)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return requireRow(res, "session not found")
}

func (p *Postgres) DeleteSession(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return requireRow(res, "session not found")
}

func (p *Postgres) CreateAction(ctx context.Context, a *models.SessionAction) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO session_actions (id, session_id, action_type, details, status, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.SessionID, string(a.ActionType), a.Details, string(a.Status), a.Message, a.CreatedAt,
	)
	if err != nil {
		return mapError(ctx, err, "")
	}
	return nil
}

func (p *Postgres) ListActions(ctx context.Context, sessionID string) ([]*models.SessionAction, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, session_id, action_type, details, status, message, created_at
		 FROM session_actions WHERE session_id = $1 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, mapError(ctx, err, "")
	}
	defer rows.Close()

	out := []*models.SessionAction{}
	for rows.Next() {
		var a models.SessionAction
		var at, st string
		if err := rows.Scan(&a.ID, &a.SessionID, &at, &a.Details, &st, &a.Message, &a.CreatedAt); err != nil {
			return nil, mapError(ctx, err, "")
		}
		a.ActionType = models.ActionType(at)
		a.Status = models.ActionStatus(st)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func mapError(ctx context.Context, err error, notFoundMsg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		if notFoundMsg == "" {
			notFoundMsg = "record not found"
		}
		return ErrNotFound.Msg(notFoundMsg)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrConflict.Err(err)
	}
	log.Ctx(ctx).Error().Err(err).Msg("datastore query failed")
	return ErrDatabase.Err(err)
}

func requireRow(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ErrDatabase.Err(err)
	}
	if n == 0 {
		return ErrNotFound.Msg(msg)
	}
	return nil
}
