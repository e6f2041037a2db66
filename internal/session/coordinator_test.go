package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhousehq/wheelhouse/internal/engine"
	"github.com/wheelhousehq/wheelhouse/internal/registry"
	"github.com/wheelhousehq/wheelhouse/internal/store"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

type fakeHandle struct {
	navigateErr error
	actResult   models.ActResult
	actErr      error
	extractData map[string]any
	extractErr  error
	closeErr    error
	closed      atomic.Bool
}

func (f *fakeHandle) Navigate(ctx context.Context, url string) error { return f.navigateErr }
func (f *fakeHandle) Act(ctx context.Context, instruction string) (models.ActResult, error) {
	return f.actResult, f.actErr
}
func (f *fakeHandle) Extract(ctx context.Context, instruction string, schema map[string]any) (map[string]any, error) {
	return f.extractData, f.extractErr
}
func (f *fakeHandle) ContainerID() string { return "" }
func (f *fakeHandle) ConnectURL() string  { return "" }
func (f *fakeHandle) Close(ctx context.Context) error {
	f.closed.Store(true)
	return f.closeErr
}

type fixture struct {
	store    store.Store
	coord    *Coordinator
	handle   *fakeHandle
	launches *atomic.Int64
	user     *models.User
	project  *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemory()
	user := &models.User{ID: "u1", ExternalID: "ext-1", Email: "dev@example.com"}
	require.NoError(t, st.CreateUser(context.Background(), user))
	project := &models.Project{ID: "p1", UserID: user.ID, Name: "crawler"}
	require.NoError(t, st.CreateProject(context.Background(), project))

	handle := &fakeHandle{actResult: models.ActResult{Success: true, Message: "clicked"}}
	launches := new(atomic.Int64)
	reg := registry.New(func(ctx context.Context, sessionID string) (engine.Handle, error) {
		launches.Add(1)
		return handle, nil
	})

	return &fixture{
		store:    st,
		coord:    NewCoordinator(st, reg, Options{}),
		handle:   handle,
		launches: launches,
		user:     user,
		project:  project,
	}
}

func (f *fixture) createSession(t *testing.T) *models.Session {
	t.Helper()
	s, err := f.coord.Create(context.Background(), f.user, models.CreateSessionRequest{ProjectID: f.project.ID})
	require.NoError(t, err)
	return s
}

func (f *fixture) runningSession(t *testing.T) *models.Session {
	t.Helper()
	s := f.createSession(t)
	s, err := f.coord.Initialize(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, s.Status)
	return s
}

func TestCreateDefaultsStartURL(t *testing.T) {
	f := newFixture(t)

	s := f.createSession(t)
	assert.Equal(t, models.StatusCreated, s.Status)
	assert.Equal(t, models.DefaultStartURL, s.StartURL)
	assert.Equal(t, "p1", s.ProjectID)
}

func TestCreateRejectsForeignProject(t *testing.T) {
	f := newFixture(t)
	other := &models.User{ID: "u2", ExternalID: "ext-2"}
	require.NoError(t, f.store.CreateUser(context.Background(), other))

	_, err := f.coord.Create(context.Background(), other, models.CreateSessionRequest{ProjectID: "p1"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.coord.Create(context.Background(), f.user, models.CreateSessionRequest{ProjectID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateEnforcesProjectLimit(t *testing.T) {
	f := newFixture(t)
	f.coord.opts.SessionsPerProject = 2

	f.createSession(t)
	f.createSession(t)
	_, err := f.coord.Create(context.Background(), f.user, models.CreateSessionRequest{ProjectID: "p1"})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestInitializeTransitionsToRunning(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	updated, err := f.coord.Initialize(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, updated.Status)
	assert.Equal(t, int64(1), f.launches.Load())
}

func TestInitializeTwiceFailsWithInvalidState(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	_, err := f.coord.Initialize(context.Background(), f.user, s.ID)
	require.NoError(t, err)

	_, err = f.coord.Initialize(context.Background(), f.user, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int64(1), f.launches.Load())
}

func TestInitializeLaunchFailureFlipsToFailed(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	reg := registry.New(func(ctx context.Context, sessionID string) (engine.Handle, error) {
		return nil, engine.ErrInit.Msg("no browser")
	})
	coord := NewCoordinator(f.store, reg, Options{})

	_, err := coord.Initialize(context.Background(), f.user, s.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInit)

	got, gerr := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestInitializeNavigationFailureFlipsToFailedAndReleases(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)
	f.handle.navigateErr = engine.ErrAction.Msg("nav broke")

	_, err := f.coord.Initialize(context.Background(), f.user, s.ID)
	require.Error(t, err)

	got, gerr := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.True(t, f.handle.closed.Load())

	// the failed session still cannot be re-initialized
	_, err = f.coord.Initialize(context.Background(), f.user, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentInitializeCreatesOneHandle(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.coord.Initialize(context.Background(), f.user, s.ID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.launches.Load())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInvalidState)
		}
	}
	assert.GreaterOrEqual(t, succeeded, 1)

	got, err := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestActRecordsSuccessAndTouches(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)

	before, err := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	result, err := f.coord.Act(context.Background(), f.user, s.ID, "click the login link")
	require.NoError(t, err)
	assert.True(t, result.Success)

	actions, err := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionTypeNLP, actions[0].ActionType)
	assert.Equal(t, models.ActionSuccess, actions[0].Status)
	assert.Equal(t, "click the login link", actions[0].Details)

	after, err := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, after.LastUsedAt.After(before.LastUsedAt))
}

func TestActEngineFailureIsDataNotError(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)
	f.handle.actResult = models.ActResult{Success: false, Message: "selector not found"}

	result, err := f.coord.Act(context.Background(), f.user, s.ID, "click the missing link")
	require.NoError(t, err)
	assert.False(t, result.Success)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionFailed, actions[0].Status)

	got, gerr := f.store.GetSession(context.Background(), s.ID)
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestActEngineErrorStillRecordsOneRow(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)
	f.handle.actErr = engine.ErrAction.Msg("model request failed")

	result, err := f.coord.Act(context.Background(), f.user, s.ID, "click something")
	require.NoError(t, err)
	assert.False(t, result.Success)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionFailed, actions[0].Status)
	assert.Contains(t, actions[0].Message, "model request failed")
}

func TestActRejectsBlankInstruction(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)

	_, err := f.coord.Act(context.Background(), f.user, s.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	assert.Empty(t, actions)
}

func TestActOnNonRunningSessionCreatesNoRow(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	_, err := f.coord.Act(context.Background(), f.user, s.ID, "click the login link")
	assert.ErrorIs(t, err, ErrInvalidState)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	assert.Empty(t, actions)
}

func TestActWithoutHandleIsEngineNotActive(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)
	// simulate a process restart: row says running, registry is empty
	require.NoError(t, f.store.UpdateSessionStatus(context.Background(), s.ID, models.StatusRunning))

	_, err := f.coord.Act(context.Background(), f.user, s.ID, "click the login link")
	assert.ErrorIs(t, err, ErrEngineNotActive)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	assert.Empty(t, actions)
}

func TestExtractRecordsRowAndReturnsData(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)
	f.handle.extractData = map[string]any{"data": "Example Domain"}

	data, err := f.coord.Extract(context.Background(), f.user, s.ID, "get the page heading", nil)
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", data["data"])

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionTypeExtract, actions[0].ActionType)
	assert.Equal(t, models.ActionSuccess, actions[0].Status)
}

func TestExtractFailureRecordsFailedRow(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)
	f.handle.extractErr = engine.ErrAction.Msg("extraction does not match requested schema")

	_, err := f.coord.Extract(context.Background(), f.user, s.ID, "get everything", nil)
	require.Error(t, err)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionFailed, actions[0].Status)
}

func TestTerminateCompletesEvenWhenCloseFails(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)
	f.handle.closeErr = errors.New("browser already dead")

	updated, err := f.coord.Terminate(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
	assert.True(t, f.handle.closed.Load())

	// terminating again is a state error, not a double shutdown
	_, err = f.coord.Terminate(context.Background(), f.user, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTerminatePreservesActionHistory(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)

	_, err := f.coord.Act(context.Background(), f.user, s.ID, "click the login link")
	require.NoError(t, err)

	_, err = f.coord.Terminate(context.Background(), f.user, s.ID)
	require.NoError(t, err)

	actions, aerr := f.coord.Actions(context.Background(), f.user, s.ID)
	require.NoError(t, aerr)
	assert.Len(t, actions, 1)
}

func TestTerminateNonRunningIsInvalidState(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	_, err := f.coord.Terminate(context.Background(), f.user, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDeleteCascadesAndReleasesHandle(t *testing.T) {
	f := newFixture(t)
	s := f.runningSession(t)

	_, err := f.coord.Act(context.Background(), f.user, s.ID, "click the login link")
	require.NoError(t, err)

	require.NoError(t, f.coord.Delete(context.Background(), f.user, s.ID))
	assert.True(t, f.handle.closed.Load())

	_, err = f.store.GetSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	actions, aerr := f.store.ListActions(context.Background(), s.ID)
	require.NoError(t, aerr)
	assert.Empty(t, actions)
}

func TestDeleteMissingSessionCleansRegistry(t *testing.T) {
	f := newFixture(t)

	err := f.coord.Delete(context.Background(), f.user, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFullLifecycleScenario(t *testing.T) {
	f := newFixture(t)

	s, err := f.coord.Create(context.Background(), f.user, models.CreateSessionRequest{
		ProjectID: "p1",
		StartURL:  "https://example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, s.Status)

	s, err = f.coord.Initialize(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, s.Status)

	result, err := f.coord.Act(context.Background(), f.user, s.ID, "click the login link")
	require.NoError(t, err)
	assert.True(t, result.Success)

	actions, err := f.coord.Actions(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)

	s, err = f.coord.Terminate(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, s.Status)

	actions, err = f.coord.Actions(context.Background(), f.user, s.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)

	require.NoError(t, f.coord.Delete(context.Background(), f.user, s.ID))
	_, err = f.coord.Get(context.Background(), f.user, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	f.createSession(t)
	f.runningSession(t)

	running, err := f.coord.List(context.Background(), f.user, "", models.StatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	all, err := f.coord.List(context.Background(), f.user, "p1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.coord.List(context.Background(), f.user, "", "bogus")
	assert.ErrorIs(t, err, ErrValidation)
}
