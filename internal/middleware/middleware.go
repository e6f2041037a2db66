// Package middleware provides the HTTP middleware shared by all routes:
// request logging with tracing IDs, panic recovery, and rate limiting.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wheelhousehq/wheelhouse/internal/httpx"
)

type requestIDContextKey string

const (
	requestIDKey    = requestIDContextKey("requestId")
	RequestIDHeader = "X-Request-ID"
)

// RequestLogger assigns each request a unique ID, attaches a logger
// carrying it to the request context, and logs request start and
// completion.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()

		requestID := newRequestID()
		ctx = context.WithValue(ctx, requestIDKey, requestID)
		ctx = log.With().Str("request_id", requestID).Logger().WithContext(ctx)

		w.Header().Set(RequestIDHeader, requestID)

		log.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Msg("incoming request")

		defer func() {
			log.Ctx(ctx).Info().
				Str("duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds())).
				Msg("request completed")
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request's tracing ID, or an empty string outside
// a request context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// PanicHandler recovers from handler panics, logs the stack trace, and
// returns a generic error response. The process keeps serving.
func PanicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Ctx(r.Context()).Error().
					Str("panic", fmt.Sprintf("%v", rec)).
					Str("stack_trace", string(debug.Stack())).
					Msg("panic occurred")

				(&httpx.Error{
					ErrorMsg:   "unable to process request",
					StatusCode: http.StatusInternalServerError,
				}).Send(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// KeyFunc extracts the throttling key for a request. An empty key skips
// the limiter.
type KeyFunc func(r *http.Request) string

type allower interface {
	Allow(key string) bool
}

// RateLimit rejects requests whose key has exhausted its budget.
func RateLimit(limiter allower, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k != "" && !limiter.Allow(k) {
				(&httpx.Error{
					ErrorMsg:   "rate limit exceeded",
					StatusCode: http.StatusTooManyRequests,
				}).Send(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRequestID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}
