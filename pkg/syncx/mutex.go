package syncx

import (
	"context"
	"time"

	"github.com/jzx17/taskpool/pkg/types"
)

const (
	unlocked int64 = 0
	locked   int64 = 1
)

// Mutex is a mutual exclusion lock built from a compare-and-swap on an
// AtomicCounter (0 unlocked, 1 locked).
//
// Mutex is not fair: waiters are not served in arrival order. The zero value
// is an unlocked mutex using the real clock for timeouts.
type Mutex struct {
	state AtomicCounter
	wake  WaitNotify
	clock types.Clock
}

// NewMutexWithClock creates a mutex whose timeouts are measured by clock
func NewMutexWithClock(clock types.Clock) *Mutex {
	return &Mutex{clock: clock}
}

// TryLock acquires the lock if it is free, without waiting
func (m *Mutex) TryLock() bool {
	return m.state.CompareAndSwap(unlocked, locked)
}

// Lock acquires the lock, waiting as long as necessary
func (m *Mutex) Lock() {
	_ = m.acquire(context.Background(), nil)
}

// LockContext acquires the lock or returns ctx.Err() once ctx is done
func (m *Mutex) LockContext(ctx context.Context) error {
	return m.acquire(ctx, nil)
}

// TryLockTimeout acquires the lock within timeout or returns
// types.ErrLockAcquisitionTimeout. A non-positive timeout makes a single attempt.
func (m *Mutex) TryLockTimeout(timeout time.Duration) error {
	return m.TryLockContext(context.Background(), timeout)
}

// TryLockContext is TryLockTimeout bounded additionally by ctx
func (m *Mutex) TryLockContext(ctx context.Context, timeout time.Duration) error {
	if m.TryLock() {
		return nil
	}
	if timeout <= 0 {
		return types.ErrLockAcquisitionTimeout
	}

	timer := types.OrRealClock(m.clock).NewTimer(timeout)
	defer timer.Stop()

	return m.acquire(ctx, timer.C())
}

// Unlock releases the lock. Unlocking an unlocked Mutex panics.
func (m *Mutex) Unlock() {
	if !m.state.CompareAndSwap(locked, unlocked) {
		panic("syncx: unlock of unlocked mutex")
	}
	m.wake.Notify()
}

// Locked reports whether the lock is currently held
func (m *Mutex) Locked() bool {
	return m.state.Load() == locked
}

func (m *Mutex) acquire(ctx context.Context, expired <-chan time.Time) error {
	var b backoff
	for {
		seq := m.wake.Load()
		if m.TryLock() {
			return nil
		}

		if b.spinning() {
			b.wait()
			continue
		}

		select {
		case <-m.wake.Changed(seq):
		case <-expired:
			return types.ErrLockAcquisitionTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
