// Package httpx provides the JSON response helpers shared by all HTTP
// handlers, including the mapping from application errors to error
// responses.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/internal/apperrors"
)

// Error is an HTTP error response body.
type Error struct {
	ErrorMsg   string `json:"error"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.ErrorMsg
}

// Send writes the error response as JSON.
func (e *Error) Send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(e)
}

// SendJSON writes v as a JSON response with the given status code. Marshal
// failures are logged and reported as a generic server error.
func SendJSON(ctx context.Context, w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("unable to marshal response")
		(&Error{ErrorMsg: "unable to process request", StatusCode: http.StatusInternalServerError}).Send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

// SendError maps an error to an HTTP error response. Application errors
// carry their own status code; anything else is reported generically so
// internal detail does not leak to the client.
func SendError(ctx context.Context, w http.ResponseWriter, err error) {
	if appErr, ok := err.(apperrors.Error); ok {
		statusCode := appErr.StatusCode()
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		msg := appErr.Error()
		if statusCode >= http.StatusInternalServerError {
			log.Ctx(ctx).Error().Str("detail", appErr.ErrorAll()).Msg("request failed")
		}
		// plain 500s stay generic so internal detail does not leak
		if statusCode == http.StatusInternalServerError {
			msg = "unable to process request"
		}
		(&Error{ErrorMsg: msg, StatusCode: statusCode}).Send(w)
		return
	}
	log.Ctx(ctx).Error().Err(err).Msg("request failed")
	(&Error{ErrorMsg: "internal server error", StatusCode: http.StatusInternalServerError}).Send(w)
}

// DecodeRequest parses a JSON request body into dst. An absent or
// malformed body yields a 400 error.
func DecodeRequest(r *http.Request, dst any) *Error {
	if r.Body == nil {
		return &Error{ErrorMsg: "request body is required", StatusCode: http.StatusBadRequest}
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &Error{ErrorMsg: "invalid request body: " + err.Error(), StatusCode: http.StatusBadRequest}
	}
	return nil
}
