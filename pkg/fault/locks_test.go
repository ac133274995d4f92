package fault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/taskpool/internal/testutils"
	"github.com/jzx17/taskpool/pkg/types"
)

func TestLockManager_AcquireRelease(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "a", "x", 0))
	assert.Equal(t, "a", m.Owner("x"))
	_, held := m.HeldSince("x")
	assert.True(t, held)

	err := m.Release("b", "x")
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, m.Release("a", "x"))
	assert.Equal(t, "", m.Owner("x"))
	assert.ErrorIs(t, m.Release("a", "x"), types.ErrValidation)
}

func TestLockManager_InvalidArguments(t *testing.T) {
	m := NewLockManager()
	assert.ErrorIs(t, m.Acquire(context.Background(), "", "x", 0), types.ErrValidation)
	assert.ErrorIs(t, m.Acquire(context.Background(), "a", "", 0), types.ErrValidation)
}

func TestLockManager_WaiterGetsLockOnRelease(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "a", "x", 0))

	done := make(chan error, 1)
	go func() {
		done <- m.Acquire(ctx, "b", "x", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Release("a", "x"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not acquire the lock")
	}
	assert.Equal(t, "b", m.Owner("x"))
}

func TestLockManager_Timeout(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "a", "x", 0))

	err := m.Acquire(ctx, "b", "x", 20*time.Millisecond)
	assert.ErrorIs(t, err, types.ErrLockAcquisitionTimeout)
	assert.Equal(t, "a", m.Owner("x"))

	// the failed waiter leaves no edge behind
	m.guard.Lock()
	assert.False(t, m.graph.HasEdge(OwnerNode("b"), LockNode("x")))
	m.guard.Unlock()
}

func TestLockManager_ReentrantAcquireIsDeadlock(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "a", "x", 0))

	err := m.Acquire(ctx, "a", "x", time.Second)
	var dl *types.DeadlockError
	require.ErrorAs(t, err, &dl)
	assert.Equal(t, []string{"owner:a", "lock:x", "owner:a"}, dl.Cycle)
}

func TestLockManager_ABBADeadlock(t *testing.T) {
	rec := testutils.NewRecordingObserver()
	m := NewLockManager(WithObserver(rec))
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "A", "X", 0))
	require.NoError(t, m.Acquire(ctx, "B", "Y", 0))

	aDone := make(chan error, 1)
	go func() {
		aDone <- m.Acquire(ctx, "A", "Y", 5*time.Second)
	}()

	// wait until A's wait edge is registered
	require.Eventually(t, func() bool {
		m.guard.Lock()
		defer m.guard.Unlock()
		return m.graph.HasEdge(OwnerNode("A"), LockNode("Y"))
	}, 2*time.Second, time.Millisecond)

	err := m.Acquire(ctx, "B", "X", 5*time.Second)
	var dl *types.DeadlockError
	require.ErrorAs(t, err, &dl)
	assert.Equal(t, []string{"owner:B", "lock:X", "owner:A", "lock:Y", "owner:B"}, dl.Cycle)
	assert.Equal(t, int64(1), m.Detected())

	events := rec.Kind(types.EventDeadlockDetected)
	require.Len(t, events, 1)
	assert.Equal(t, "B", events[0].TaskID)

	// B backs off, so A proceeds
	require.NoError(t, m.Release("B", "Y"))
	select {
	case err := <-aDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("A never acquired Y")
	}
	assert.Equal(t, "A", m.Owner("Y"))
}

func TestLockManager_ExactlyOneOfConcurrentCycleRequestsFails(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := NewLockManager()
		ctx := context.Background()
		require.NoError(t, m.Acquire(ctx, "A", "X", 0))
		require.NoError(t, m.Acquire(ctx, "B", "Y", 0))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = m.Acquire(ctx, "A", "Y", 2*time.Second)
			if errs[0] != nil {
				_ = m.Release("A", "X")
			}
		}()
		go func() {
			defer wg.Done()
			errs[1] = m.Acquire(ctx, "B", "X", 2*time.Second)
			if errs[1] != nil {
				_ = m.Release("B", "Y")
			}
		}()
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, types.ErrDeadlock)
				failed++
			}
		}
		assert.Equal(t, 1, failed, "round %d", i)
	}
}

func TestLockManager_DetectAbortsNewestWaiter(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "A", "X", 0))
	require.NoError(t, m.Acquire(ctx, "B", "Y", 0))

	bDone := make(chan error, 1)
	go func() {
		bDone <- m.Acquire(ctx, "B", "X", 5*time.Second)
	}()

	require.Eventually(t, func() bool {
		m.guard.Lock()
		defer m.guard.Unlock()
		return m.graph.HasEdge(OwnerNode("B"), LockNode("X"))
	}, 2*time.Second, time.Millisecond)

	assert.Nil(t, m.Detect(), "no cycle yet")

	// A waits on Y through a path the incremental check never saw
	m.guard.Lock()
	m.graph.Link(OwnerNode("A"), LockNode("Y"))
	m.guard.Unlock()

	cycle := m.Detect()
	require.NotNil(t, cycle)

	select {
	case err := <-bDone:
		assert.ErrorIs(t, err, types.ErrDeadlock)
	case <-time.After(2 * time.Second):
		t.Fatal("detector did not abort the waiter")
	}
	assert.Equal(t, int64(1), m.Detected())
}

func TestLockManager_ReleaseAll(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, "A", "X", 0))
	require.NoError(t, m.Acquire(ctx, "A", "Y", 0))
	require.NoError(t, m.Acquire(ctx, "B", "Z", 0))

	assert.Equal(t, 2, m.ReleaseAll("A"))
	assert.Equal(t, "", m.Owner("X"))
	assert.Equal(t, "", m.Owner("Y"))
	assert.Equal(t, "B", m.Owner("Z"))
}

func TestLockManager_RunStopsWithContext(t *testing.T) {
	m := NewLockManager()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLockManager_HeldSinceUsesClock(t *testing.T) {
	mock, clock := testutils.NewMockClockWrapper(t)
	m := NewLockManager(WithClock(clock))

	acquired := mock.Now()
	require.NoError(t, m.Acquire(context.Background(), "a", "x", 0))
	mock.Advance(3 * time.Second)

	since, held := m.HeldSince("x")
	require.True(t, held)
	assert.Equal(t, acquired, since)
	assert.Equal(t, 3*time.Second, clock.Since(since))

	_, held = m.HeldSince("y")
	assert.False(t, held)
}
