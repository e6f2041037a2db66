// Package session implements the session lifecycle coordinator: a
// persisted state machine (created, running, completed, failed) over the
// store, paired with the in-memory registry of live engine handles, and
// the dispatcher that runs instructions against running sessions while
// keeping an append-only audit trail.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/wheelhousehq/wheelhouse/internal/engine"
	"github.com/wheelhousehq/wheelhouse/internal/registry"
	"github.com/wheelhousehq/wheelhouse/internal/store"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

// Options bound the coordinator's timeouts and limits.
type Options struct {
	InitTimeout        time.Duration
	ActTimeout         time.Duration
	SessionsPerProject int
	// MaxLaunches caps how many engine launches may run at once across
	// all sessions.
	MaxLaunches int
}

func (o *Options) defaults() {
	if o.InitTimeout <= 0 {
		o.InitTimeout = 60 * time.Second
	}
	if o.ActTimeout <= 0 {
		o.ActTimeout = 90 * time.Second
	}
	if o.SessionsPerProject <= 0 {
		o.SessionsPerProject = 10
	}
	if o.MaxLaunches <= 0 {
		o.MaxLaunches = 4
	}
}

// Coordinator owns session lifecycle: it validates state transitions
// against the store before touching the registry, and records every
// dispatched instruction exactly once.
type Coordinator struct {
	store    store.Store
	registry *registry.Registry
	launches *semaphore.Weighted
	opts     Options
}

func NewCoordinator(st store.Store, reg *registry.Registry, opts Options) *Coordinator {
	opts.defaults()
	return &Coordinator{
		store:    st,
		registry: reg,
		launches: semaphore.NewWeighted(int64(opts.MaxLaunches)),
		opts:     opts,
	}
}

// Create records a new session in state created. The browser is not
// launched until Initialize.
func (c *Coordinator) Create(ctx context.Context, user *models.User, req models.CreateSessionRequest) (*models.Session, error) {
	project, err := c.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound.Msg("project not found")
		}
		return nil, err
	}
	if project.UserID != user.ID && !user.IsAdmin {
		return nil, ErrForbidden.Msg("project belongs to another user")
	}

	active, err := c.store.ListSessions(ctx, store.SessionFilter{ProjectID: project.ID})
	if err != nil {
		return nil, err
	}
	open := 0
	for _, s := range active {
		if !s.Status.Terminal() {
			open++
		}
	}
	if open >= c.opts.SessionsPerProject {
		return nil, ErrLimitExceeded
	}

	startURL := strings.TrimSpace(req.StartURL)
	if startURL == "" {
		startURL = models.DefaultStartURL
	}

	now := time.Now().UTC()
	s := &models.Session{
		ID:         uuid.New().String(),
		ProjectID:  project.ID,
		Status:     models.StatusCreated,
		StartURL:   startURL,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := c.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a session the caller owns.
func (c *Coordinator) Get(ctx context.Context, user *models.User, sessionID string) (*models.Session, error) {
	owned, err := c.authorize(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}
	return &owned.Session, nil
}

// List returns the caller's sessions, optionally narrowed to one project
// or one status.
func (c *Coordinator) List(ctx context.Context, user *models.User, projectID string, status models.SessionStatus) ([]*models.Session, error) {
	if status != "" && !status.Valid() {
		return nil, ErrValidation.Msg("unknown status filter")
	}
	if projectID != "" {
		project, err := c.store.GetProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrNotFound.Msg("project not found")
			}
			return nil, err
		}
		if project.UserID != user.ID && !user.IsAdmin {
			return nil, ErrForbidden.Msg("project belongs to another user")
		}
		return c.store.ListSessions(ctx, store.SessionFilter{ProjectID: projectID, Status: status})
	}
	return c.store.ListSessions(ctx, store.SessionFilter{UserID: user.ID, Status: status})
}

// Initialize launches the engine for a created session and navigates to
// its start URL, moving it to running. Any failure moves the session to
// failed; the row is kept so the caller can inspect or delete it.
func (c *Coordinator) Initialize(ctx context.Context, user *models.User, sessionID string) (*models.Session, error) {
	owned, err := c.authorize(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}
	if owned.Status != models.StatusCreated {
		return nil, ErrInvalidState.Msg("session can only be initialized from state created")
	}

	launchCtx, cancel := context.WithTimeout(ctx, c.opts.InitTimeout)
	defer cancel()

	if err := c.launches.Acquire(launchCtx, 1); err != nil {
		return nil, c.initFailed(sessionID, ErrTimeout.Msg("waiting for launch slot").Err(err))
	}
	handle, err := c.registry.AcquireOrCreate(launchCtx, sessionID)
	c.launches.Release(1)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout.Msg("engine launch timed out").Err(err)
		}
		return nil, c.initFailed(sessionID, err)
	}

	if err := handle.Navigate(launchCtx, owned.StartURL); err != nil {
		c.release(sessionID)
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout.Msg("initial navigation timed out").Err(err)
		}
		return nil, c.initFailed(sessionID, err)
	}

	if id := handle.ContainerID(); id != "" {
		if err := c.store.SetSessionContainer(ctx, sessionID, id); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("unable to record container id")
		}
	}
	if err := c.store.UpdateSessionStatus(ctx, sessionID, models.StatusRunning); err != nil {
		c.release(sessionID)
		return nil, err
	}

	updated, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &updated.Session, nil
}

// Act runs one natural-language instruction against a running session.
// Engine-reported failure is an ordinary result; every dispatch writes
// exactly one audit row and advances lastUsedAt.
func (c *Coordinator) Act(ctx context.Context, user *models.User, sessionID, instruction string) (models.ActResult, error) {
	if strings.TrimSpace(instruction) == "" {
		return models.ActResult{}, ErrValidation.Msg("instruction must not be empty")
	}
	if err := c.dispatchGuard(ctx, user, sessionID); err != nil {
		return models.ActResult{}, err
	}
	handle, ok := c.registry.Lookup(sessionID)
	if !ok {
		return models.ActResult{}, ErrEngineNotActive
	}

	actCtx, cancel := context.WithTimeout(ctx, c.opts.ActTimeout)
	defer cancel()

	result, actErr := handle.Act(actCtx, instruction)
	if actErr != nil {
		result = models.ActResult{Success: false, Message: actErr.Error()}
	}

	if err := c.record(ctx, sessionID, models.ActionTypeNLP, instruction, result); err != nil {
		return models.ActResult{}, err
	}

	if actErr != nil && errors.Is(actErr, context.DeadlineExceeded) {
		return models.ActResult{}, ErrTimeout.Msg("instruction timed out").Err(actErr)
	}
	return result, nil
}

// Extract runs a structured extraction against a running session. The
// schema defaults to a single free-text field when the caller supplies
// none. Like Act, every attempt writes exactly one audit row.
func (c *Coordinator) Extract(ctx context.Context, user *models.User, sessionID, instruction string, schema map[string]any) (map[string]any, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrValidation.Msg("instruction must not be empty")
	}
	if err := c.dispatchGuard(ctx, user, sessionID); err != nil {
		return nil, err
	}
	handle, ok := c.registry.Lookup(sessionID)
	if !ok {
		return nil, ErrEngineNotActive
	}

	actCtx, cancel := context.WithTimeout(ctx, c.opts.ActTimeout)
	defer cancel()

	data, extractErr := handle.Extract(actCtx, instruction, schema)
	outcome := models.ActResult{Success: extractErr == nil, Message: "extraction completed"}
	if extractErr != nil {
		outcome.Message = extractErr.Error()
	}

	if err := c.record(ctx, sessionID, models.ActionTypeExtract, instruction, outcome); err != nil {
		return nil, err
	}

	if extractErr != nil {
		if errors.Is(extractErr, context.DeadlineExceeded) {
			return nil, ErrTimeout.Msg("extraction timed out").Err(extractErr)
		}
		return nil, extractErr
	}
	return data, nil
}

// Terminate moves a running session to completed and releases its
// handle. The row and its action history persist. A handle shutdown
// failure is logged; the transition still happens.
func (c *Coordinator) Terminate(ctx context.Context, user *models.User, sessionID string) (*models.Session, error) {
	owned, err := c.authorize(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}
	if owned.Status != models.StatusRunning {
		return nil, ErrInvalidState.Msg("only a running session can be terminated")
	}

	c.release(sessionID)

	if err := c.store.UpdateSessionStatus(ctx, sessionID, models.StatusCompleted); err != nil {
		return nil, err
	}
	updated, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &updated.Session, nil
}

// Delete releases the session's handle best-effort, then hard-deletes the
// row and its actions. Registry cleanup is idempotent: deleting a session
// that is already gone never errors on the registry side.
func (c *Coordinator) Delete(ctx context.Context, user *models.User, sessionID string) error {
	_, err := c.authorize(ctx, user, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.release(sessionID)
		}
		return err
	}

	c.release(sessionID)
	return c.store.DeleteSession(ctx, sessionID)
}

// Actions returns the session's audit trail, oldest first.
func (c *Coordinator) Actions(ctx context.Context, user *models.User, sessionID string) ([]*models.SessionAction, error) {
	if _, err := c.authorize(ctx, user, sessionID); err != nil {
		return nil, err
	}
	return c.store.ListActions(ctx, sessionID)
}

// Handle exposes the live engine handle for a running session, for the
// debug endpoints. Callers must not retain it.
func (c *Coordinator) Handle(ctx context.Context, user *models.User, sessionID string) (engine.Handle, error) {
	owned, err := c.authorize(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}
	if owned.Status != models.StatusRunning {
		return nil, ErrInvalidState.Msg("session is not running")
	}
	handle, ok := c.registry.Lookup(sessionID)
	if !ok {
		return nil, ErrEngineNotActive
	}
	return handle, nil
}

// Shutdown releases every live handle. Called once at process exit.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.registry.Shutdown(ctx)
}

func (c *Coordinator) authorize(ctx context.Context, user *models.User, sessionID string) (*store.OwnedSession, error) {
	owned, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound.Msg("session not found")
		}
		return nil, err
	}
	if owned.OwnerID != user.ID && !user.IsAdmin {
		return nil, ErrForbidden.Msg("session belongs to another user")
	}
	return owned, nil
}

// dispatchGuard enforces the running-state requirement shared by Act and
// Extract. It never touches the registry.
func (c *Coordinator) dispatchGuard(ctx context.Context, user *models.User, sessionID string) error {
	owned, err := c.authorize(ctx, user, sessionID)
	if err != nil {
		return err
	}
	if owned.Status != models.StatusRunning {
		return ErrInvalidState.Msg("session is not running")
	}
	return nil
}

// record writes the audit row and advances lastUsedAt. A failure here is
// infrastructural and propagates.
func (c *Coordinator) record(ctx context.Context, sessionID string, kind models.ActionType, details string, outcome models.ActResult) error {
	status := models.ActionSuccess
	if !outcome.Success {
		status = models.ActionFailed
	}
	now := time.Now().UTC()
	action := &models.SessionAction{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		ActionType: kind,
		Details:    details,
		Status:     status,
		Message:    outcome.Message,
		CreatedAt:  now,
	}
	if err := c.store.CreateAction(ctx, action); err != nil {
		return err
	}
	if err := c.store.TouchSession(ctx, sessionID, now); err != nil {
		return err
	}
	return nil
}

// initFailed flips the session to failed and returns the original error.
// The row is never deleted here; callers decide whether to retry via a
// new session or delete this one.
func (c *Coordinator) initFailed(sessionID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.UpdateSessionStatus(ctx, sessionID, models.StatusFailed); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("unable to mark session failed")
	}
	return cause
}

// release drops the session's registry entry. Shutdown errors are logged
// inside the registry and never block the caller.
func (c *Coordinator) release(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = c.registry.Release(ctx, sessionID)
}
