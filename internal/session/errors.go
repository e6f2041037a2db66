package session

import (
	"net/http"

	"github.com/wheelhousehq/wheelhouse/internal/apperrors"
)

var (
	// ErrValidation is returned for bad caller input before any side
	// effect takes place.
	ErrValidation apperrors.Error = apperrors.New("invalid request").SetStatusCode(http.StatusBadRequest)

	// ErrNotFound is returned when the session or project does not exist.
	ErrNotFound apperrors.Error = apperrors.New("not found").SetStatusCode(http.StatusNotFound)

	// ErrForbidden is returned when the caller is authenticated but does
	// not own the resource.
	ErrForbidden apperrors.Error = apperrors.New("forbidden").SetStatusCode(http.StatusForbidden)

	// ErrInvalidState is returned when the operation is illegal for the
	// session's current lifecycle state.
	ErrInvalidState apperrors.Error = apperrors.New("operation not valid in current session state").SetStatusCode(http.StatusConflict)

	// ErrEngineNotActive is returned when a dispatch finds no live engine
	// handle for a running session, for example after a process restart.
	// The session needs fresh initialization or termination; dispatch
	// never resurrects it.
	ErrEngineNotActive apperrors.Error = apperrors.New("session has no active engine").SetStatusCode(http.StatusConflict)

	// ErrTimeout is returned when an engine launch or dispatch exceeds
	// its configured deadline.
	ErrTimeout apperrors.Error = apperrors.New("operation timed out").SetStatusCode(http.StatusGatewayTimeout)

	// ErrLimitExceeded is returned when a project already holds its
	// maximum number of active sessions.
	ErrLimitExceeded apperrors.Error = apperrors.New("session limit reached for project").SetStatusCode(http.StatusTooManyRequests)
)
