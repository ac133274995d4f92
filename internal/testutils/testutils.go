// Package testutils provides shared test helpers for the taskpool packages
package testutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jzx17/taskpool/pkg/syncx"
	"github.com/jzx17/taskpool/pkg/types"
)

// RecordingObserver keeps every event it observes
type RecordingObserver struct {
	mu     syncx.Mutex
	events []types.Event
}

var _ types.Observer = (*RecordingObserver)(nil)

// NewRecordingObserver creates an empty recorder
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

// Observe implements types.Observer
func (r *RecordingObserver) Observe(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of all recorded events
func (r *RecordingObserver) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kind returns the recorded events of one kind in arrival order
func (r *RecordingObserver) Kind(kind types.EventKind) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded
func (r *RecordingObserver) Count(kind types.EventKind) int {
	return len(r.Kind(kind))
}

// Reset drops all recorded events
func (r *RecordingObserver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Default timings for eventual assertions against real-clock pools
const (
	EventuallyTimeout = 5 * time.Second
	EventuallyTick    = 5 * time.Millisecond
)

// AssertEventually waits for condition to be true
func AssertEventually(t testing.TB, condition func() bool, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.Eventually(t, condition, EventuallyTimeout, EventuallyTick, msgAndArgs...)
}

// WaitForEvent waits until at least n events of kind were recorded
func WaitForEvent(t testing.TB, r *RecordingObserver, kind types.EventKind, n int) bool {
	t.Helper()
	return AssertEventually(t, func() bool {
		return r.Count(kind) >= n
	}, "expected at least %d %s events", n, kind)
}
