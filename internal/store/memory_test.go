package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

func seed(t *testing.T, m *Memory) (*models.User, *models.Project, *models.Session) {
	t.Helper()
	ctx := context.Background()

	user := &models.User{ID: uuid.NewString(), ExternalID: "ext-1", CreatedAt: time.Now()}
	require.NoError(t, m.CreateUser(ctx, user))

	project := &models.Project{ID: uuid.NewString(), UserID: user.ID, Name: "scraper", CreatedAt: time.Now()}
	require.NoError(t, m.CreateProject(ctx, project))

	session := &models.Session{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		Status:     models.StatusCreated,
		StartURL:   models.DefaultStartURL,
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}
	require.NoError(t, m.CreateSession(ctx, session))
	return user, project, session
}

func TestGetSessionJoinsOwner(t *testing.T) {
	m := NewMemory()
	user, _, session := seed(t, m)

	got, err := m.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.OwnerID)
	assert.Equal(t, models.StatusCreated, got.Status)
}

func TestGetSessionNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteSessionCascadesActions(t *testing.T) {
	m := NewMemory()
	_, _, session := seed(t, m)
	ctx := context.Background()

	require.NoError(t, m.CreateAction(ctx, &models.SessionAction{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		ActionType: models.ActionTypeNLP,
		Details:    "click the login link",
		Status:     models.ActionSuccess,
		CreatedAt:  time.Now(),
	}))

	require.NoError(t, m.DeleteSession(ctx, session.ID))

	_, err := m.GetSession(ctx, session.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	actions, err := m.ListActions(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestDeleteProjectCascadesSessions(t *testing.T) {
	m := NewMemory()
	_, project, session := seed(t, m)
	ctx := context.Background()

	require.NoError(t, m.DeleteProject(ctx, project.ID))

	_, err := m.GetSession(ctx, session.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListActionsOrderedByCreation(t *testing.T) {
	m := NewMemory()
	_, _, session := seed(t, m)
	ctx := context.Background()

	base := time.Now()
	for i, detail := range []string{"first", "second", "third"} {
		require.NoError(t, m.CreateAction(ctx, &models.SessionAction{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Details:   detail,
			Status:    models.ActionSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	actions, err := m.ListActions(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "first", actions[0].Details)
	assert.Equal(t, "third", actions[2].Details)
}

func TestListSessionsFilters(t *testing.T) {
	m := NewMemory()
	user, project, session := seed(t, m)
	ctx := context.Background()

	other := &models.Session{
		ID: uuid.NewString(), ProjectID: project.ID,
		Status: models.StatusRunning, CreatedAt: time.Now(), LastUsedAt: time.Now(),
	}
	require.NoError(t, m.CreateSession(ctx, other))

	byStatus, err := m.ListSessions(ctx, SessionFilter{Status: models.StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, other.ID, byStatus[0].ID)

	byUser, err := m.ListSessions(ctx, SessionFilter{UserID: user.ID})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	none, err := m.ListSessions(ctx, SessionFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_ = session
}

func TestUpdateSessionStatusAndTouch(t *testing.T) {
	m := NewMemory()
	_, _, session := seed(t, m)
	ctx := context.Background()

	require.NoError(t, m.UpdateSessionStatus(ctx, session.ID, models.StatusRunning))
	at := time.Now().Add(time.Minute)
	require.NoError(t, m.TouchSession(ctx, session.ID, at))

	got, err := m.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.WithinDuration(t, at, got.LastUsedAt, time.Second)
}
