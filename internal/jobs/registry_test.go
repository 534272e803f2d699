package jobs

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySubmit(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	outcome, view, err := r.Submit(Job{Identity: "x", Filename: "a.txt", TotalPages: 3})
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.Equal(t, StatusSubmitted, view.Status)
	assert.Equal(t, 3, view.Total)

	outcome, _, err = r.Submit(Job{Identity: "x", Filename: "a.txt", TotalPages: 3})
	require.NoError(t, err)
	assert.Equal(t, Existing, outcome)

	_, err = r.Start("x")
	require.NoError(t, err)

	_, view, err = r.Submit(Job{Identity: "x", Filename: "a.txt", TotalPages: 3})
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)
	assert.Equal(t, StatusProcessing, view.Status)
}

func TestRegistryStart(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Start("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, _, err = r.Submit(Job{Identity: "x"})
	require.NoError(t, err)
	view, err := r.Start("x")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, view.Status)

	_, err = r.Start("x")
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)

	for _, status := range []Status{StatusFailed, StatusCanceled, StatusCompleted} {
		_, err = r.Finish("x", status, 1, "boom", "")
		require.NoError(t, err)
		view, err = r.Start("x")
		require.NoError(t, err, "start from %s", status)
		assert.Empty(t, view.Error)
	}
}

func TestRegistryConcurrentStartOnlyOneWins(t *testing.T) {
	t.Parallel()

	for round := 0; round < 50; round++ {
		r := NewRegistry()
		_, _, err := r.Submit(Job{Identity: "x"})
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			started  atomic.Int32
			rejected atomic.Int32
			gate     = make(chan struct{})
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				if _, err := r.Start("x"); err == nil {
					started.Add(1)
				} else if assert.ErrorIs(t, err, ErrJobAlreadyRunning) {
					rejected.Add(1)
				}
			}()
		}
		close(gate)
		wg.Wait()

		assert.Equal(t, int32(1), started.Load())
		assert.Equal(t, int32(1), rejected.Load())
	}
}

func TestRegistryProgressAndFinish(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.UpdateProgress("missing", 1, PhaseProcessing)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, _, err = r.Submit(Job{Identity: "x", TotalPages: 4})
	require.NoError(t, err)

	view, err := r.UpdateProgress("x", 2, PhaseCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, PhaseCompleted, view.Phase)

	view, err = r.Finish("x", StatusFailed, 2, "page 3: boom", "/out/x.txt")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, view.Status)
	assert.Equal(t, "page 3: boom", view.Error)

	job, err := r.Lookup("x")
	require.NoError(t, err)
	assert.Equal(t, "/out/x.txt", job.OutputPath)
}

func TestRegistryGetAndList(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	for _, id := range []string{"c", "a", "b"} {
		_, _, err := r.Submit(Job{Identity: id})
		require.NoError(t, err)
	}
	views := r.List()
	require.Len(t, views, 3)
	assert.Equal(t, "a", views[0].JobID)
	assert.Equal(t, "c", views[2].JobID)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, _, err := r.Submit(Job{Identity: "x", TotalPages: 1000})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_, _ = r.UpdateProgress("x", i, PhaseProcessing)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			view, err := r.Get("x")
			assert.NoError(t, err)
			assert.LessOrEqual(t, view.Completed, 1000)
		}
	}()
	wg.Wait()
}

func TestRegistryReserveBlocksStart(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Reserve("x"))
	assert.ErrorIs(t, r.Reserve("x"), ErrJobAlreadyRunning)

	_, _, err := r.Submit(Job{Identity: "x"})
	require.NoError(t, err)
	_, err = r.Start("x")
	assert.ErrorIs(t, err, ErrJobAlreadyRunning)

	r.Release("x")
	_, err = r.Start("x")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Reserve("x"), ErrJobAlreadyRunning)
}

func TestRegistryCancelRequestLastsUntilNextStart(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.RequestCancel("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, _, err = r.Submit(Job{Identity: "x"})
	require.NoError(t, err)
	_, err = r.RequestCancel("x")
	assert.ErrorIs(t, err, ErrJobNotRunning)
	assert.False(t, r.CancelRequested("x"))

	_, err = r.Start("x")
	require.NoError(t, err)
	_, err = r.RequestCancel("x")
	require.NoError(t, err)
	assert.True(t, r.CancelRequested("x"))

	_, err = r.Finish("x", StatusCanceled, 0, "", "")
	require.NoError(t, err)
	assert.True(t, r.CancelRequested("x"))

	_, err = r.Start("x")
	require.NoError(t, err)
	assert.False(t, r.CancelRequested("x"))
}

func TestRegistrySetTotal(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.SetTotal("missing", 3)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, _, err = r.Submit(Job{Identity: "x", TotalPages: 10, Completed: 6})
	require.NoError(t, err)

	view, err := r.SetTotal("x", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Total)
	assert.Equal(t, 4, view.Completed)
}
