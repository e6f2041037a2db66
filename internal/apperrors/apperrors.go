// Package apperrors defines the application error type used across the
// service. Errors carry an HTTP status code and support wrapping, so a
// handler can map any error raised deeper in the stack to a response
// without switching on sentinel values. Derived errors inherit the status
// code of their template, and errors.Is matches against the whole chain.
package apperrors

import (
	"errors"
	"net/http"
	"strings"
)

// Error is the application error interface. It extends the standard error
// with status-code management and template-style derivation: a package
// declares its root errors once and derives request-specific instances
// from them.
type Error interface {
	error
	Unwrap() error

	// New derives a fresh error from the current one, inheriting its
	// status code. The receiver becomes the base for errors.Is matching.
	New(msg string) Error
	// Msg wraps the current error under a new message.
	Msg(msg string) Error
	// Err attaches underlying causes to the current error.
	Err(errs ...error) Error
	// SetStatusCode returns a copy with the given HTTP status code.
	SetStatusCode(code int) Error
	StatusCode() int
	// ErrorAll renders the message followed by all attached causes.
	ErrorAll() string
}

type appError struct {
	msg    string
	base   error
	causes []error
	status int
}

// New creates a root application error. The status code defaults to 500
// until overridden with SetStatusCode.
func New(msg string) Error {
	return &appError{msg: msg, status: http.StatusInternalServerError}
}

func (e *appError) Error() string {
	return e.msg
}

func (e *appError) ErrorAll() string {
	if len(e.causes) == 0 {
		return e.msg
	}
	var b strings.Builder
	b.WriteString(e.msg)
	for _, c := range e.causes {
		b.WriteString(": ")
		b.WriteString(c.Error())
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) New(msg string) Error {
	return &appError{msg: msg, base: e, status: e.status}
}

func (e *appError) Msg(msg string) Error {
	return &appError{msg: msg, base: e, causes: e.causes, status: e.status}
}

func (e *appError) Err(errs ...error) Error {
	return &appError{
		msg:    e.msg,
		base:   e,
		causes: append(append([]error{}, e.causes...), errs...),
		status: e.status,
	}
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.status = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.status
}

// Is matches the base chain as well as every attached cause, so
// errors.Is(derived, root) holds for any error derived from root.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, c := range e.causes {
		if errors.Is(c, target) {
			return true
		}
	}
	return false
}
