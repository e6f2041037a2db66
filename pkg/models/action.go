package models

import "time"

// ActionType tags the kind of instruction recorded for a session.
type ActionType string

const (
	ActionTypeNLP     ActionType = "nlp"
	ActionTypeExtract ActionType = "extract"
)

// ActionStatus is the recorded outcome of one dispatched instruction.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
)

// SessionAction is an append-only audit record of one instruction executed
// against a session. Rows are never mutated after creation and are
// cascade-deleted with their session.
type SessionAction struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionId"`
	ActionType ActionType   `json:"actionType"`
	Details    string       `json:"details"`
	Status     ActionStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}
