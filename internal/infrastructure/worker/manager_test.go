package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubWorker struct {
	name     string
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (w *stubWorker) Start(ctx context.Context) error {
	if w.startErr != nil {
		return w.startErr
	}
	w.started.Add(1)
	return nil
}

func (w *stubWorker) Stop() error {
	w.stopped.Add(1)
	return nil
}

func (w *stubWorker) Name() string { return w.name }

func TestManager_StartStop(t *testing.T) {
	m := NewManager(zap.NewNop())
	a, b := &stubWorker{name: "a"}, &stubWorker{name: "b"}
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 2, m.WorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.EqualValues(t, 1, a.started.Load())
	assert.EqualValues(t, 1, b.stopped.Load())

	require.NoError(t, m.StopAll())
	assert.EqualValues(t, 1, b.stopped.Load())
}

func TestManager_StartFailuresAreJoined(t *testing.T) {
	m := NewManager(zap.NewNop())
	boom := errors.New("boom")
	m.Register(&stubWorker{name: "bad", startErr: boom})
	ok := &stubWorker{name: "ok"}
	m.Register(ok)

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.EqualValues(t, 1, ok.started.Load())
	require.NoError(t, m.StopAll())
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager(zap.NewNop())
	w := &stubWorker{name: "w"}
	m.Register(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.EqualValues(t, 1, w.stopped.Load())
}
