// Package engine drives a browser through natural-language instructions.
// A Backend supplies a live browser page (launched locally or inside a
// container); a Handle pairs that page with a language-model agent that
// translates instructions into concrete page operations.
package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/playwright-community/playwright-go"

	"github.com/wheelhousehq/wheelhouse/internal/apperrors"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

var (
	// ErrInit is returned when a handle cannot be constructed, for example
	// when the browser fails to launch or credentials are missing.
	ErrInit apperrors.Error = apperrors.New("engine initialization failed").SetStatusCode(http.StatusBadGateway)

	// ErrAction is the base error for failures while executing an
	// instruction against a live handle.
	ErrAction apperrors.Error = apperrors.New("engine action failed").SetStatusCode(http.StatusBadGateway)

	// ErrBadInput is returned for caller-supplied input the engine cannot
	// use, such as an invalid extraction schema.
	ErrBadInput apperrors.Error = apperrors.New("invalid engine input").SetStatusCode(http.StatusBadRequest)
)

// allowedModels mirrors the models the instruction agent is known to work
// with. Anything else falls back to DefaultModel.
var allowedModels = map[string]bool{
	"gpt-4o":            true,
	"gpt-4o-mini":       true,
	"gpt-4o-2024-08-06": true,
	"gpt-4.5-preview":   true,
}

// DefaultModel is used when no (or an unrecognized) model is configured.
const DefaultModel = "gpt-4o"

// Config carries everything needed to construct a handle. It is validated
// once at handle-creation time.
type Config struct {
	Model      string
	APIKey     string
	BaseURL    string
	Headless   bool
	NavTimeout float64 // milliseconds, for page navigation
	ActTimeout float64 // milliseconds, for individual page operations
}

// Validate normalizes the config and rejects unusable values.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrInit.Msg("model API key is not configured")
	}
	if !allowedModels[c.Model] {
		c.Model = DefaultModel
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30000
	}
	if c.ActTimeout <= 0 {
		c.ActTimeout = 30000
	}
	return nil
}

// BrowserConn is a live browser connection produced by a Backend.
type BrowserConn struct {
	Page        playwright.Page
	ContainerID string // set by container-based backends
	ConnectURL  string // CDP endpoint, when the backend exposes one

	// Stop tears down everything the backend allocated for this
	// connection (page, browser process, container).
	Stop func() error
}

// Backend launches browsers. Exactly one backend is configured per
// deployment; the registry holds whichever one was chosen.
type Backend interface {
	Launch(ctx context.Context, sessionID string) (*BrowserConn, error)
	Close() error
}

// Handle is the live automation-engine connection for one session. A
// handle is owned exclusively by the registry entry that created it.
type Handle interface {
	Navigate(ctx context.Context, url string) error
	Act(ctx context.Context, instruction string) (models.ActResult, error)
	Extract(ctx context.Context, instruction string, schema map[string]any) (map[string]any, error)
	ContainerID() string
	ConnectURL() string
	Close(ctx context.Context) error
}

// New launches a browser through the backend and wires it to the
// instruction agent. On any failure the partially-constructed connection
// is closed before the error is returned.
func New(ctx context.Context, backend Backend, sessionID string, cfg Config) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := backend.Launch(ctx, sessionID)
	if err != nil {
		return nil, ErrInit.Msg(fmt.Sprintf("unable to launch browser for session %s", sessionID)).Err(err)
	}
	return &handle{
		sessionID: sessionID,
		conn:      conn,
		agent:     newAgent(cfg),
		cfg:       cfg,
	}, nil
}
