package syncx

import (
	"fmt"
	"sync/atomic"
)

// ringSlot is one cell of a RingBuffer. seq is the slot's version tag:
// it equals the enqueue position when the slot is free for that position and
// position+1 once the value is published. Every reuse advances it by the
// buffer capacity, so a stale position can never match it again.
type ringSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// RingBuffer is a bounded multi-producer multi-consumer FIFO queue.
//
// head and tail are monotonically increasing positions; a position maps to
// slot position % capacity. Producers claim a position by CAS on tail,
// consumers by CAS on head. A claim only succeeds on a slot whose version
// tag matches the claimed position, which gives exactly-once dequeue and
// prevents a producer from overwriting a value not yet consumed.
type RingBuffer[T any] struct {
	slots    []ringSlot[T]
	capacity uint64

	head atomic.Uint64
	tail atomic.Uint64
}

// NewRingBuffer creates a ring holding up to capacity values
func NewRingBuffer[T any](capacity int) (*RingBuffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}

	r := &RingBuffer[T]{
		slots:    make([]ringSlot[T], capacity),
		capacity: uint64(capacity),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r, nil
}

// Enqueue appends v. It returns false without blocking when the ring is full.
func (r *RingBuffer[T]) Enqueue(v T) bool {
	var b backoff
	for {
		pos := r.tail.Load()
		slot := &r.slots[pos%r.capacity]
		seq := slot.seq.Load()

		switch diff := int64(seq - pos); {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				slot.val = v
				slot.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			// slot still holds the value from one lap ago
			return false
		}
		b.wait()
	}
}

// Dequeue removes the oldest value. It returns false without blocking when
// the ring is empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	var b backoff
	for {
		pos := r.head.Load()
		slot := &r.slots[pos%r.capacity]
		seq := slot.seq.Load()

		switch diff := int64(seq - (pos + 1)); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v := slot.val
				slot.val = zero
				slot.seq.Store(pos + r.capacity)
				return v, true
			}
		case diff < 0:
			return zero, false
		}
		b.wait()
	}
}

// Len returns an approximate number of queued values
func (r *RingBuffer[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail <= head {
		return 0
	}
	n := tail - head
	if n > r.capacity {
		n = r.capacity
	}
	return int(n)
}

// Cap returns the ring capacity
func (r *RingBuffer[T]) Cap() int {
	return int(r.capacity)
}
