package runtimestate

import (
	"sync"
	"testing"

	"github.com/flmrun/flm/internal/flmerr"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	s := New(2)
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire())
	s.Release()
	require.True(t, s.TryAcquire())
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	s := New(1)
	require.True(t, s.TryAcquire())
	require.NoError(t, s.Enqueue(func() {}))
	err := s.Enqueue(func() {})
	require.Error(t, err)
	fe, ok := flmerr.As(err)
	require.True(t, ok)
	require.Equal(t, flmerr.AcceleratorBusy, fe.Code)
}

func TestReleasePopsQueuedTaskAndKeepsInUse(t *testing.T) {
	s := New(4)
	require.True(t, s.TryAcquire())

	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	require.NoError(t, s.Enqueue(func() {
		defer wg.Done()
		ran = true
	}))

	s.Release()
	wg.Wait()

	require.True(t, ran)
	require.True(t, s.InUse(), "popped task should inherit exclusivity")
	require.Equal(t, 0, s.QueueLen())
}

func TestReleaseWithEmptyQueueFreesTheLock(t *testing.T) {
	s := New(4)
	require.True(t, s.TryAcquire())
	s.Release()
	require.False(t, s.InUse())
	require.True(t, s.TryAcquire())
}

func TestCancelTokenLifecycle(t *testing.T) {
	s := New(4)
	tok := s.NewToken("req-1")
	require.False(t, tok.Cancelled())

	require.True(t, s.Cancel("req-1"))
	require.True(t, tok.Cancelled())

	s.ReleaseToken("req-1")
	require.False(t, s.Cancel("req-1"), "cancelling after release should report not found")
}

func TestCancelUnknownRequestReportsNotFound(t *testing.T) {
	s := New(4)
	require.False(t, s.Cancel("never-registered"))
}

func TestConcurrentAcquireOnlyOneWinner(t *testing.T) {
	s := New(4)
	const n = 50
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if s.TryAcquire() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins)
}
