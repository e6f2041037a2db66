package models

import "time"

// SessionStatus is the persisted lifecycle state of a session.
type SessionStatus string

const (
	StatusCreated   SessionStatus = "created"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further actions may be dispatched in this state.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultStartURL is used when a session is created without a start URL.
const DefaultStartURL = "https://example.com"

// Session is one tracked browser-automation run tied to a project.
type Session struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	Status      SessionStatus `json:"status"`
	StartURL    string        `json:"startUrl"`
	ContainerID string        `json:"-"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastUsedAt  time.Time     `json:"lastUsedAt"`
}

// CreateSessionRequest is the payload for creating a new session record.
type CreateSessionRequest struct {
	ProjectID string `json:"projectId" validate:"required"`
	StartURL  string `json:"startUrl,omitempty" validate:"omitempty,url"`
}

// ActRequest carries one natural-language instruction for a running session.
type ActRequest struct {
	Action string `json:"action" validate:"required"`
}

// ExtractRequest carries an extraction instruction and an optional JSON
// schema constraining the shape of the result.
type ExtractRequest struct {
	Instruction string         `json:"instruction" validate:"required"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// ActResult is the engine-reported outcome of a dispatched instruction.
// A false Success is an ordinary result, not an error.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
