package store

import (
	"net/http"

	"github.com/wheelhousehq/wheelhouse/internal/apperrors"
)

var (
	// ErrDatabase is the base error for datastore failures. Reported to
	// clients generically; the underlying cause is logged, not leaked.
	ErrDatabase apperrors.Error = apperrors.New("datastore error").SetStatusCode(http.StatusInternalServerError)

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound apperrors.Error = apperrors.New("record not found").SetStatusCode(http.StatusNotFound)

	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict apperrors.Error = apperrors.New("record already exists").SetStatusCode(http.StatusConflict)
)
