// Package types defines error types
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Predefined errors
var (
	// ErrValidation indicates a malformed task or configuration
	ErrValidation = errors.New("validation failed")

	// ErrQueueFull indicates the queue rejected a task under the reject policy
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed indicates the queue no longer accepts submissions
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrLockAcquisitionTimeout indicates a lock was not acquired in time
	ErrLockAcquisitionTimeout = errors.New("lock acquisition timeout")

	// ErrTimeout indicates a task exceeded its deadline
	ErrTimeout = errors.New("task timeout")

	// ErrWorkerCrash indicates the worker running a task was lost
	ErrWorkerCrash = errors.New("worker crashed")

	// ErrDeadlock indicates a lock request would close a wait-for cycle
	ErrDeadlock = errors.New("deadlock detected")

	// ErrRetriesExhausted indicates a task failed on every allowed attempt
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrCancelled indicates the task was cancelled before it ran
	ErrCancelled = errors.New("task cancelled")

	// ErrPoolClosed indicates the pool is shut down
	ErrPoolClosed = errors.New("worker pool is closed")
)

// ValidationError reports a malformed task or configuration field
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a validation error
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a task attempt that exceeded its timeout
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s exceeded timeout %v", e.TaskID, e.Timeout)
}

// Is matches ErrTimeout
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// WorkerCrashError reports a worker lost while it owned a task
type WorkerCrashError struct {
	WorkerID int
	TaskID   string
	Reason   string
}

// Error implements the error interface
func (e *WorkerCrashError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("worker %d crashed: %s", e.WorkerID, e.Reason)
	}
	return fmt.Sprintf("worker %d crashed running task %s: %s", e.WorkerID, e.TaskID, e.Reason)
}

// Is matches ErrWorkerCrash
func (e *WorkerCrashError) Is(target error) bool {
	return target == ErrWorkerCrash
}

// DeadlockError reports the wait-for cycle a lock request would have closed
type DeadlockError struct {
	// Cycle lists the graph nodes on the cycle, starting and ending with the requester
	Cycle []string
}

// Error implements the error interface
func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock detected: %s", strings.Join(e.Cycle, " -> "))
}

// Is matches ErrDeadlock
func (e *DeadlockError) Is(target error) bool {
	return target == ErrDeadlock
}

// RetriesExhaustedError wraps the last error of a task that ran out of attempts
type RetriesExhaustedError struct {
	TaskID   string
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("task %s failed after %d attempts: %v", e.TaskID, e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error
func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// Is matches ErrRetriesExhausted
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// RetryableError represents a retryable error
type RetryableError struct {
	// Err is the underlying error
	Err error

	// Retryable indicates whether the error is retryable
	Retryable bool

	// RetryAfter is the suggested retry delay
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, Retryable: false}
}

// IsRetryable reports whether err is explicitly marked retryable.
// The second result is false when err carries no marking.
func IsRetryable(err error) (retryable bool, marked bool) {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable, true
	}
	return false, false
}

// GetRetryDelay returns the suggested retry delay
func GetRetryDelay(err error) time.Duration {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.RetryAfter
	}
	return 0
}
