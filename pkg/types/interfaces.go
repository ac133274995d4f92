// Package types defines core interfaces and types shared by the taskpool packages
package types

import (
	"fmt"
	"time"
)

// Priority orders tasks in the queue. Higher values drain first.
type Priority int

const (
	// PriorityLow runs after every Normal and High task
	PriorityLow Priority = iota
	// PriorityNormal is the default priority
	PriorityNormal
	// PriorityHigh drains before every other level
	PriorityHigh
)

// NumPriorities is the number of priority levels
const NumPriorities = 3

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is a known priority level
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// ParsePriority converts a priority name to a Priority
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return 0, NewValidationError("priority", "unknown priority %q", s)
	}
}

// Result is the final outcome of a task
type Result struct {
	// Value is the execution result
	Value interface{}

	// Error is the execution error
	Error error

	// Attempts is the number of executions performed
	Attempts int

	// Duration is the time from submission to completion
	Duration time.Duration
}

// PoolStats defines statistics for a worker pool
type PoolStats struct {
	// QueueLength is the number of tasks waiting for a worker
	QueueLength int

	// ActiveWorkers is the number of workers running a task
	ActiveWorkers int

	// IdleWorkers is the number of workers ready for a task
	IdleWorkers int

	// Workers is the number of live workers (idle, busy or draining)
	Workers int

	MinWorkers int
	MaxWorkers int

	Completed int64
	Failed    int64
	Retried   int64
	Cancelled int64
	Crashed   int64
	Replaced  int64
}

// EventKind names an observable pool event
type EventKind string

const (
	EventTaskCompleted    EventKind = "task_completed"
	EventTaskFailed       EventKind = "task_failed"
	EventTaskRetried      EventKind = "task_retried"
	EventWorkerCrashed    EventKind = "worker_crashed"
	EventWorkerReplaced   EventKind = "worker_replaced"
	EventDeadlockDetected EventKind = "deadlock_detected"
	EventScaledUp         EventKind = "scaled_up"
	EventScaledDown       EventKind = "scaled_down"
)

// Event is emitted to an Observer when something observable happens
type Event struct {
	Kind     EventKind
	Time     time.Time
	TaskID   string
	Priority Priority
	Attempt  int
	WorkerID int

	// ReplacementID is the new worker id for worker_replaced
	ReplacementID int

	// Workers is the worker count after a scaling action
	Workers int

	// Delay is the backoff before the next attempt for task_retried
	Delay time.Duration

	// Duration is the execution time for task_completed and task_failed
	Duration time.Duration

	Err error
}

// Observer receives pool events. Implementations must be safe for concurrent
// use and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(Event)

// Observe implements Observer
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// NopObserver discards all events
type NopObserver struct{}

// Observe implements Observer
func (NopObserver) Observe(Event) {}
