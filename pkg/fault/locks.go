package fault

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jzx17/taskpool/pkg/syncx"
	"github.com/jzx17/taskpool/pkg/types"
)

// LockManager hands out named application locks and refuses any wait that
// would deadlock. Owners are opaque strings, typically task ids.
type LockManager struct {
	guard   syncx.Mutex
	graph   *Graph
	locks   map[string]*lockEntry
	waiters map[waitKey]*waiter
	seq     uint64

	clock    types.Clock
	observer types.Observer
	logger   *slog.Logger

	detected syncx.AtomicCounter
}

type lockEntry struct {
	mu         *syncx.Mutex
	owner      string
	acquiredAt time.Time
	waiting    int
}

type waitKey struct {
	owner string
	lock  string
}

type waiter struct {
	seq    uint64
	since  time.Time
	cancel context.CancelCauseFunc
}

// LockManagerOption configures a LockManager
type LockManagerOption func(*LockManager)

// WithClock sets the clock used for timeouts and timestamps
func WithClock(clock types.Clock) LockManagerOption {
	return func(m *LockManager) {
		m.clock = clock
	}
}

// WithObserver receives a deadlock_detected event per detection
func WithObserver(observer types.Observer) LockManagerOption {
	return func(m *LockManager) {
		m.observer = observer
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LockManagerOption {
	return func(m *LockManager) {
		m.logger = logger
	}
}

// NewLockManager creates an empty lock manager
func NewLockManager(opts ...LockManagerOption) *LockManager {
	m := &LockManager{
		graph:    NewGraph(),
		locks:    make(map[string]*lockEntry),
		waiters:  make(map[waitKey]*waiter),
		clock:    types.NewRealClock(),
		observer: types.NopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire takes lock for owner. If the lock is held, Acquire waits up to
// timeout (forever when timeout <= 0) unless waiting would close a cycle in
// the wait-for graph, in which case it fails at once with a DeadlockError.
// Acquiring a lock the owner already holds is a deadlock as well.
func (m *LockManager) Acquire(ctx context.Context, owner, lock string, timeout time.Duration) error {
	if owner == "" {
		return types.NewValidationError("owner", "must not be empty")
	}
	if lock == "" {
		return types.NewValidationError("lock", "must not be empty")
	}

	ownerNode, lockNode := OwnerNode(owner), LockNode(lock)

	m.guard.Lock()
	e := m.entry(lock)

	if e.owner == owner {
		m.guard.Unlock()
		return m.deadlock(owner, []string{ownerNode, lockNode, ownerNode})
	}

	if e.mu.TryLock() {
		cycle := m.hold(e, owner, lock)
		m.guard.Unlock()
		if cycle != nil {
			m.abortCycle(cycle)
		}
		return nil
	}

	if cycle := m.graph.AddEdge(ownerNode, lockNode); cycle != nil {
		m.release(lock, e)
		m.guard.Unlock()
		return m.deadlock(owner, cycle)
	}

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	key := waitKey{owner: owner, lock: lock}
	m.seq++
	m.waiters[key] = &waiter{seq: m.seq, since: m.clock.Now(), cancel: cancel}
	e.waiting++
	m.guard.Unlock()

	var err error
	if timeout > 0 {
		err = e.mu.TryLockContext(wctx, timeout)
	} else {
		err = e.mu.LockContext(wctx)
	}

	m.guard.Lock()
	delete(m.waiters, key)
	e.waiting--
	m.graph.RemoveEdge(ownerNode, lockNode)
	var cycle []string
	if err == nil {
		cycle = m.hold(e, owner, lock)
	} else {
		m.release(lock, e)
	}
	m.guard.Unlock()

	if cycle != nil {
		m.abortCycle(cycle)
	}

	if err != nil {
		var dl *types.DeadlockError
		if cause := context.Cause(wctx); errors.As(cause, &dl) {
			return dl
		}
		return err
	}
	return nil
}

// Release frees lock held by owner
func (m *LockManager) Release(owner, lock string) error {
	m.guard.Lock()
	defer m.guard.Unlock()

	e, ok := m.locks[lock]
	if !ok || e.owner != owner {
		return types.NewValidationError("lock", "%q is not held by %q", lock, owner)
	}
	m.unlock(lock, e)
	return nil
}

// ReleaseAll frees every lock held by owner and returns how many were freed
func (m *LockManager) ReleaseAll(owner string) int {
	m.guard.Lock()
	defer m.guard.Unlock()

	n := 0
	for lock, e := range m.locks {
		if e.owner == owner {
			m.unlock(lock, e)
			n++
		}
	}
	return n
}

// Owner returns the holder of lock, or "" when it is free
func (m *LockManager) Owner(lock string) string {
	m.guard.Lock()
	defer m.guard.Unlock()
	if e, ok := m.locks[lock]; ok {
		return e.owner
	}
	return ""
}

// HeldSince returns when lock was acquired by its current holder
func (m *LockManager) HeldSince(lock string) (time.Time, bool) {
	m.guard.Lock()
	defer m.guard.Unlock()
	if e, ok := m.locks[lock]; ok && e.owner != "" {
		return e.acquiredAt, true
	}
	return time.Time{}, false
}

// Detected returns the number of deadlocks found so far
func (m *LockManager) Detected() int64 {
	return m.detected.Load()
}

// Detect scans the whole wait-for graph once. When it finds a cycle it aborts
// the most recent waiter on it with a DeadlockError and returns the cycle.
func (m *LockManager) Detect() []string {
	m.guard.Lock()
	cycle := m.graph.FindCycle()
	m.guard.Unlock()

	if cycle == nil {
		return nil
	}
	m.abortCycle(cycle)
	return cycle
}

// Run calls Detect every interval until ctx is done
func (m *LockManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Detect()
		}
	}
}

// abortCycle cancels the newest waiter whose wait edge lies on cycle
func (m *LockManager) abortCycle(cycle []string) {
	m.guard.Lock()
	var victim *waiter
	var victimOwner string
	for i := 0; i+1 < len(cycle); i++ {
		from, to := cycle[i], cycle[i+1]
		if !strings.HasPrefix(from, ownerPrefix) || !strings.HasPrefix(to, lockPrefix) {
			continue
		}
		key := waitKey{owner: strings.TrimPrefix(from, ownerPrefix), lock: strings.TrimPrefix(to, lockPrefix)}
		if w, ok := m.waiters[key]; ok && (victim == nil || w.seq > victim.seq) {
			victim, victimOwner = w, key.owner
		}
	}
	m.guard.Unlock()

	if victim == nil {
		return
	}
	victim.cancel(m.deadlock(victimOwner, cycle))
}

// hold records owner as the holder of lock. Caller holds guard and e.mu.
func (m *LockManager) hold(e *lockEntry, owner, lock string) []string {
	e.owner = owner
	e.acquiredAt = m.clock.Now()
	return m.graph.Link(LockNode(lock), OwnerNode(owner))
}

// unlock clears the holder and wakes waiters. Caller holds guard.
func (m *LockManager) unlock(lock string, e *lockEntry) {
	m.graph.RemoveEdge(LockNode(lock), OwnerNode(e.owner))
	e.owner = ""
	e.acquiredAt = time.Time{}
	e.mu.Unlock()
	m.release(lock, e)
}

// release forgets an entry nobody holds or waits for. Caller holds guard.
func (m *LockManager) release(lock string, e *lockEntry) {
	if e.owner == "" && e.waiting == 0 && !e.mu.Locked() {
		delete(m.locks, lock)
	}
}

func (m *LockManager) entry(lock string) *lockEntry {
	e, ok := m.locks[lock]
	if !ok {
		e = &lockEntry{mu: syncx.NewMutexWithClock(m.clock)}
		m.locks[lock] = e
	}
	return e
}

func (m *LockManager) deadlock(owner string, cycle []string) error {
	err := &types.DeadlockError{Cycle: cycle}
	m.detected.Add(1)

	m.logger.Warn("deadlock detected",
		slog.String("owner", owner),
		slog.String("cycle", strings.Join(cycle, " -> ")))

	m.observer.Observe(types.Event{
		Kind:   types.EventDeadlockDetected,
		Time:   m.clock.Now(),
		TaskID: owner,
		Err:    err,
	})
	return err
}
