// Package registry tracks the live engine handle for each session. A
// session has at most one handle; concurrent initialization attempts for
// the same session are collapsed into a single launch.
package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/wheelhousehq/wheelhouse/internal/engine"
)

// LaunchFunc builds a new handle for a session.
type LaunchFunc func(ctx context.Context, sessionID string) (engine.Handle, error)

// Launcher adapts a backend and config into a LaunchFunc.
func Launcher(backend engine.Backend, cfg engine.Config) LaunchFunc {
	return func(ctx context.Context, sessionID string) (engine.Handle, error) {
		return engine.New(ctx, backend, sessionID, cfg)
	}
}

type Registry struct {
	launch LaunchFunc

	mu      sync.RWMutex
	handles map[string]engine.Handle
	group   singleflight.Group
}

func New(launch LaunchFunc) *Registry {
	return &Registry{
		launch:  launch,
		handles: make(map[string]engine.Handle),
	}
}

// AcquireOrCreate returns the session's handle, launching one if none
// exists. Racing callers for the same session all receive the same
// handle; sessions never hold more than one.
func (r *Registry) AcquireOrCreate(ctx context.Context, sessionID string) (engine.Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[sessionID]
	r.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		r.mu.RLock()
		h, ok := r.handles[sessionID]
		r.mu.RUnlock()
		if ok {
			return h, nil
		}

		h, err := r.launch(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.handles[sessionID] = h
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(engine.Handle), nil
}

// Lookup returns the session's live handle, or false when the session
// has none.
func (r *Registry) Lookup(sessionID string) (engine.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[sessionID]
	return h, ok
}

// Release closes the session's handle and removes it. The registry entry
// is removed even when the close fails, so a half-dead browser can never
// block the session from being released again.
func (r *Registry) Release(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	delete(r.handles, sessionID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := h.Close(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("handle close failed during release")
		return err
	}
	return nil
}

// Active reports how many sessions currently hold a handle.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Shutdown releases every handle. Close failures are logged and do not
// stop the sweep.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]engine.Handle)
	r.mu.Unlock()

	for id, h := range handles {
		if err := h.Close(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("handle close failed during shutdown")
		}
	}
}
