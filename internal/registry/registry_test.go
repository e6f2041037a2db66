package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhousehq/wheelhouse/internal/engine"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

type fakeHandle struct {
	id       string
	closeErr error
	closed   atomic.Bool
}

func (f *fakeHandle) Navigate(ctx context.Context, url string) error { return nil }
func (f *fakeHandle) Act(ctx context.Context, instruction string) (models.ActResult, error) {
	return models.ActResult{Success: true}, nil
}
func (f *fakeHandle) Extract(ctx context.Context, instruction string, schema map[string]any) (map[string]any, error) {
	return map[string]any{"data": "x"}, nil
}
func (f *fakeHandle) ContainerID() string { return "" }
func (f *fakeHandle) ConnectURL() string  { return "" }
func (f *fakeHandle) Close(ctx context.Context) error {
	f.closed.Store(true)
	return f.closeErr
}

func countingLauncher(launches *atomic.Int64) LaunchFunc {
	return func(ctx context.Context, sessionID string) (engine.Handle, error) {
		launches.Add(1)
		return &fakeHandle{id: sessionID}, nil
	}
}

func TestAcquireOrCreateReusesHandle(t *testing.T) {
	var launches atomic.Int64
	r := New(countingLauncher(&launches))

	h1, err := r.AcquireOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	h2, err := r.AcquireOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, int64(1), launches.Load())
	assert.Equal(t, 1, r.Active())
}

func TestAcquireOrCreateConcurrent(t *testing.T) {
	var launches atomic.Int64
	r := New(countingLauncher(&launches))

	const workers = 16
	handles := make([]engine.Handle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.AcquireOrCreate(context.Background(), "s1")
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), launches.Load())
	for i := 1; i < workers; i++ {
		assert.Same(t, handles[0], handles[i])
	}
}

func TestAcquireOrCreateLaunchFailure(t *testing.T) {
	launchErr := engine.ErrInit.Msg("boom")
	r := New(func(ctx context.Context, sessionID string) (engine.Handle, error) {
		return nil, launchErr
	})

	_, err := r.AcquireOrCreate(context.Background(), "s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInit)

	_, ok := r.Lookup("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Active())
}

func TestReleaseRemovesEntryEvenOnCloseError(t *testing.T) {
	h := &fakeHandle{closeErr: errors.New("close failed")}
	r := New(func(ctx context.Context, sessionID string) (engine.Handle, error) {
		return h, nil
	})

	_, err := r.AcquireOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	err = r.Release(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, h.closed.Load())

	_, ok := r.Lookup("s1")
	assert.False(t, ok)
}

func TestReleaseUnknownSessionIsNoop(t *testing.T) {
	r := New(countingLauncher(new(atomic.Int64)))
	require.NoError(t, r.Release(context.Background(), "missing"))
}

func TestShutdownClosesAll(t *testing.T) {
	var handles []*fakeHandle
	r := New(func(ctx context.Context, sessionID string) (engine.Handle, error) {
		h := &fakeHandle{id: sessionID}
		handles = append(handles, h)
		return h, nil
	})

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.AcquireOrCreate(context.Background(), id)
		require.NoError(t, err)
	}

	r.Shutdown(context.Background())
	assert.Equal(t, 0, r.Active())
	for _, h := range handles {
		assert.True(t, h.closed.Load())
	}
}
