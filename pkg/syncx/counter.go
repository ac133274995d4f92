package syncx

import (
	"sync/atomic"
)

// AtomicCounter is an int64 whose operations are indivisible and
// sequentially consistent. The zero value is ready to use.
type AtomicCounter struct {
	v atomic.Int64
}

// NewAtomicCounter creates a counter holding initial
func NewAtomicCounter(initial int64) *AtomicCounter {
	c := &AtomicCounter{}
	c.v.Store(initial)
	return c
}

// Load returns the current value
func (c *AtomicCounter) Load() int64 {
	return c.v.Load()
}

// Store sets the value
func (c *AtomicCounter) Store(v int64) {
	c.v.Store(v)
}

// Add adds delta and returns the new value
func (c *AtomicCounter) Add(delta int64) int64 {
	return c.v.Add(delta)
}

// Swap stores v and returns the previous value
func (c *AtomicCounter) Swap(v int64) int64 {
	return c.v.Swap(v)
}

// CompareAndSwap sets the value to new if it currently equals expected
func (c *AtomicCounter) CompareAndSwap(expected, new int64) bool {
	return c.v.CompareAndSwap(expected, new)
}

// Max raises the value to v if v is larger, returning the resulting value
func (c *AtomicCounter) Max(v int64) int64 {
	for {
		cur := c.v.Load()
		if v <= cur {
			return cur
		}
		if c.v.CompareAndSwap(cur, v) {
			return v
		}
	}
}
