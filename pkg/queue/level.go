package queue

import (
	"github.com/jzx17/taskpool/pkg/syncx"
)

// level is the FIFO for one priority. Values go to the lock-free ring while
// it has room; once the ring fills, they spill into a mutex-guarded list.
// While the spill list is non-empty new values also go there, so pops
// (ring first, then spill) preserve arrival order.
type level[T any] struct {
	ring *syncx.RingBuffer[T]

	spillMu syncx.Mutex
	spill   []T
	spilled syncx.AtomicCounter
}

func newLevel[T any](ringSize int) (*level[T], error) {
	ring, err := syncx.NewRingBuffer[T](ringSize)
	if err != nil {
		return nil, err
	}
	return &level[T]{ring: ring}, nil
}

func (l *level[T]) push(v T) {
	if l.spilled.Load() == 0 && l.ring.Enqueue(v) {
		return
	}

	l.spillMu.Lock()
	l.spill = append(l.spill, v)
	l.spilled.Add(1)
	l.spillMu.Unlock()
}

func (l *level[T]) pop() (T, bool) {
	if v, ok := l.ring.Dequeue(); ok {
		return v, true
	}

	var zero T
	if l.spilled.Load() == 0 {
		return zero, false
	}

	l.spillMu.Lock()
	defer l.spillMu.Unlock()

	if len(l.spill) == 0 {
		return zero, false
	}
	v := l.spill[0]
	l.spill[0] = zero
	l.spill = l.spill[1:]
	l.spilled.Add(-1)
	return v, true
}

func (l *level[T]) len() int {
	return l.ring.Len() + int(l.spilled.Load())
}
