package worker

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitHandle(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestPool_SubmitRunsTask(t *testing.T) {
	p := NewPool(2, discardLogger())
	defer p.Shutdown(time.Second)

	var ran atomic.Bool
	h, err := p.Submit(func() error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	waitHandle(t, h)

	assert.True(t, ran.Load())
	assert.NoError(t, h.Err())
}

func TestPool_TaskError(t *testing.T) {
	p := NewPool(1, discardLogger())
	defer p.Shutdown(time.Second)

	boom := errors.New("boom")
	h, err := p.Submit(func() error { return boom })
	require.NoError(t, err)
	waitHandle(t, h)

	assert.ErrorIs(t, h.Err(), boom)
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1, discardLogger())
	defer p.Shutdown(time.Second)

	h, err := p.Submit(func() error { panic("kaboom") })
	require.NoError(t, err)
	waitHandle(t, h)
	assert.ErrorContains(t, h.Err(), "kaboom")

	// the goroutine survived and takes more work
	h, err = p.Submit(func() error { return nil })
	require.NoError(t, err)
	waitHandle(t, h)
	assert.NoError(t, h.Err())
}

func TestPool_FullQueueRejects(t *testing.T) {
	p := NewPool(1, discardLogger())
	release := make(chan struct{})
	defer func() {
		close(release)
		p.Shutdown(time.Second)
	}()

	started := make(chan struct{})
	_, err := p.Submit(func() error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	// queue capacity is twice the pool size
	for range 2 {
		_, err := p.Submit(func() error { return nil })
		require.NoError(t, err)
	}

	_, err = p.Submit(func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := NewPool(1, discardLogger())
	require.NoError(t, p.Shutdown(time.Second))

	_, err := p.Submit(func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Shutdown(time.Second))
}

func TestPool_ShutdownRunsQueuedTasks(t *testing.T) {
	p := NewPool(1, discardLogger())

	var count atomic.Int32
	for range 2 {
		_, err := p.Submit(func() error {
			time.Sleep(5 * time.Millisecond)
			count.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.Shutdown(time.Second))
	assert.Equal(t, int32(2), count.Load())
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := NewPool(1, discardLogger())
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	_, err := p.Submit(func() error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, p.Shutdown(20*time.Millisecond), ErrPoolShutdownTimeout)
}

func TestPool_SizeDefaultsToOne(t *testing.T) {
	p := NewPool(0, discardLogger())
	defer p.Shutdown(time.Second)
	assert.Equal(t, 1, p.Size())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateRunning, "running"},
		{StatePaused, "paused"},
		{StateShuttingDown, "shutting_down"},
		{StateTerminated, "terminated"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
