// Package queue provides the priority-aware task queue the pool dispatches from
package queue

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jzx17/taskpool/pkg/syncx"
	"github.com/jzx17/taskpool/pkg/types"
)

// Item is anything the queue can hold
type Item interface {
	// Priority selects the sub-queue
	Priority() types.Priority

	// Cancel sets the cancellation flag, reporting whether it was set by this call
	Cancel() bool

	// Cancelled reports whether the item should be skipped
	Cancelled() bool
}

// Policy decides what Submit does when a bounded queue is full
type Policy int

const (
	// PolicyBlock suspends Submit until space frees up
	PolicyBlock Policy = iota
	// PolicyReject fails Submit immediately with types.ErrQueueFull
	PolicyReject
)

// String returns the string representation of Policy
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a policy name to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block", "":
		return PolicyBlock, nil
	case "reject":
		return PolicyReject, nil
	default:
		return 0, types.NewValidationError("backpressure", "unknown policy %q", s)
	}
}

// defaultRingSize is the per-level ring size of an unbounded queue
const defaultRingSize = 1024

// Config defines configuration for a task queue
type Config struct {
	// Capacity bounds the number of queued items; 0 means unbounded
	Capacity int

	// Policy applies when a bounded queue is full
	Policy Policy

	// RingSize is the lock-free ring size per priority level of an unbounded
	// queue. Bounded queues use Capacity.
	RingSize int
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Capacity: 1000,
		Policy:   PolicyBlock,
	}
}

// Queue is a thread-safe FIFO per priority level. TryTake always drains the
// highest non-empty level first.
type Queue[T Item] struct {
	levels   [types.NumPriorities]*level[T]
	capacity int64
	policy   Policy

	size     syncx.AtomicCounter
	notEmpty syncx.WaitNotify
	notFull  syncx.WaitNotify
	closed   atomic.Bool

	onDiscard func(T)
	discarded syncx.AtomicCounter
}

// Option configures a Queue
type Option[T Item] func(*Queue[T])

// WithDiscardHandler is called with every cancelled item the queue skips
func WithDiscardHandler[T Item](fn func(T)) Option[T] {
	return func(q *Queue[T]) {
		q.onDiscard = fn
	}
}

// New creates a new queue
func New[T Item](config *Config, opts ...Option[T]) (*Queue[T], error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Capacity < 0 {
		return nil, fmt.Errorf("queue capacity must be non-negative, got %d", config.Capacity)
	}
	if config.Policy != PolicyBlock && config.Policy != PolicyReject {
		return nil, fmt.Errorf("unknown backpressure policy %d", config.Policy)
	}

	ringSize := config.Capacity
	if ringSize == 0 {
		ringSize = config.RingSize
		if ringSize <= 0 {
			ringSize = defaultRingSize
		}
	}

	q := &Queue[T]{
		capacity: int64(config.Capacity),
		policy:   config.Policy,
	}
	for i := range q.levels {
		l, err := newLevel[T](ringSize)
		if err != nil {
			return nil, err
		}
		q.levels[i] = l
	}

	for _, opt := range opts {
		opt(q)
	}

	return q, nil
}

// Submit enqueues item. Under PolicyReject a full queue returns
// types.ErrQueueFull immediately; under PolicyBlock Submit waits for space
// until ctx is done.
func (q *Queue[T]) Submit(ctx context.Context, item T) error {
	p := item.Priority()
	if !p.Valid() {
		return types.NewValidationError("priority", "unknown priority %d", int(p))
	}

	if err := q.reserve(ctx); err != nil {
		return err
	}

	q.levels[p].push(item)
	q.notEmpty.Notify()
	return nil
}

// Requeue puts back an item that was already accepted, such as a task
// awaiting retry. It ignores capacity and the closed state.
func (q *Queue[T]) Requeue(item T) {
	p := item.Priority()
	if !p.Valid() {
		p = types.PriorityNormal
	}

	q.size.Add(1)
	q.levels[p].push(item)
	q.notEmpty.Notify()
}

func (q *Queue[T]) reserve(ctx context.Context) error {
	for {
		if q.closed.Load() {
			return types.ErrQueueClosed
		}

		seq := q.notFull.Load()
		n := q.size.Load()
		if q.capacity == 0 || n < q.capacity {
			if q.size.CompareAndSwap(n, n+1) {
				return nil
			}
			continue
		}

		if q.policy == PolicyReject {
			return types.ErrQueueFull
		}

		if err := q.notFull.Wait(ctx, seq); err != nil {
			return err
		}
	}
}

// TryTake removes the oldest item of the highest non-empty priority without
// blocking. Cancelled items are skipped.
func (q *Queue[T]) TryTake() (T, bool) {
	for p := len(q.levels) - 1; p >= 0; p-- {
		for {
			item, ok := q.levels[p].pop()
			if !ok {
				break
			}

			q.size.Add(-1)
			q.notFull.Notify()

			if item.Cancelled() {
				q.discard(item)
				continue
			}
			return item, true
		}
	}

	var zero T
	return zero, false
}

// Take blocks until an item is available, the queue is closed and empty,
// or ctx is done.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		seq := q.notEmpty.Load()
		if item, ok := q.TryTake(); ok {
			return item, nil
		}
		if q.closed.Load() {
			return zero, types.ErrQueueClosed
		}
		if err := q.notEmpty.Wait(ctx, seq); err != nil {
			return zero, err
		}
	}
}

// Cancel sets the item's cancellation flag. The item stays queued until a
// take skips it.
func (q *Queue[T]) Cancel(item T) bool {
	return item.Cancel()
}

// Drain removes and returns every live item
func (q *Queue[T]) Drain() []T {
	var items []T
	for {
		item, ok := q.TryTake()
		if !ok {
			return items
		}
		items = append(items, item)
	}
}

// Close stops accepting submissions and wakes blocked submitters and takers
func (q *Queue[T]) Close() {
	if q.closed.CompareAndSwap(false, true) {
		q.notFull.Notify()
		q.notEmpty.Notify()
	}
}

// IsClosed reports whether Close was called
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Version returns the current readiness sequence. Pair it with Changed to
// wait for the next submission without blocking inside the queue.
func (q *Queue[T]) Version() uint64 {
	return q.notEmpty.Load()
}

// Changed returns a channel closed once anything was put into the queue
// after version was read
func (q *Queue[T]) Changed(version uint64) <-chan struct{} {
	return q.notEmpty.Changed(version)
}

// Len returns the number of queued items, including cancelled items not yet skipped
func (q *Queue[T]) Len() int {
	return int(q.size.Load())
}

// LenByPriority returns the approximate number of queued items per level
func (q *Queue[T]) LenByPriority() map[types.Priority]int {
	out := make(map[types.Priority]int, len(q.levels))
	for p, l := range q.levels {
		out[types.Priority(p)] = l.len()
	}
	return out
}

// Capacity returns the configured capacity (0 for unbounded)
func (q *Queue[T]) Capacity() int {
	return int(q.capacity)
}

// Policy returns the backpressure policy
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Discarded returns the number of cancelled items skipped so far
func (q *Queue[T]) Discarded() int64 {
	return q.discarded.Load()
}

func (q *Queue[T]) discard(item T) {
	q.discarded.Add(1)
	if q.onDiscard != nil {
		q.onDiscard(item)
	}
}
