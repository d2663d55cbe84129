package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finbrook/tradewire/errs"
)

func TestPoolExecutesSubmittedTasks(t *testing.T) {
	p, err := NewPool(2, 8)
	require.NoError(t, err)

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.Eventually(t, func() bool { return ran.Load() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolRejectsWhenSaturated(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	// Worker busy; this one fills the queue slot.
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))

	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	close(block)
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	p.Close()

	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	p, err := NewPool(1, 4)
	require.NoError(t, err)

	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		panic("task exploded")
	}))

	var ran atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	require.Eventually(t, func() bool { return ran.Load() }, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolRequiresWorkers(t *testing.T) {
	_, err := NewPool(0, 1)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}
