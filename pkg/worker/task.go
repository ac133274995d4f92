package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jzx17/taskpool/pkg/syncx"
	"github.com/jzx17/taskpool/pkg/types"
)

// TaskFunc is the payload of a task. It must honour ctx cancellation to be
// stopped cooperatively; a payload that ignores ctx keeps its goroutine until
// it returns.
type TaskFunc func(ctx context.Context) (interface{}, error)

type taskState int32

const (
	taskPending taskState = iota
	taskRunning
	taskCancelled
	taskDone
)

// Task is one unit of work tracked by a pool
type Task struct {
	id          string
	fn          TaskFunc
	priority    types.Priority
	timeout     time.Duration
	submittedAt time.Time
	clock       types.Clock

	state           atomic.Int32
	attempts        syncx.AtomicCounter
	cancelRequested atomic.Bool
	stopRun         atomic.Pointer[context.CancelFunc]

	finished atomic.Bool
	done     chan struct{}
	result   types.Result
	lastRun  time.Duration
	onFinish func(*Task)
	onCancel func(*Task)

	// queue membership, maintained by the pool
	queueMark atomic.Int32

	// worker that ran the last attempt, set by the pool loop
	lastWorker int
}

func newTask(id string, fn TaskFunc, priority types.Priority, timeout time.Duration, clock types.Clock) *Task {
	if id == "" {
		id = uuid.NewString()
	}
	return &Task{
		id:          id,
		fn:          fn,
		priority:    priority,
		timeout:     timeout,
		submittedAt: clock.Now(),
		clock:       clock,
		done:        make(chan struct{}),
	}
}

// ID returns the task ID
func (t *Task) ID() string {
	return t.id
}

// Priority returns the task priority
func (t *Task) Priority() types.Priority {
	return t.priority
}

// Timeout returns the per-attempt timeout, 0 when unbounded
func (t *Task) Timeout() time.Duration {
	return t.timeout
}

// SubmittedAt returns the submission time
func (t *Task) SubmittedAt() time.Time {
	return t.submittedAt
}

// Attempts returns the number of executions started so far
func (t *Task) Attempts() int {
	return int(t.attempts.Load())
}

// Cancel reports whether the task was cancelled before its first attempt.
// A task waiting to retry is still cancelled but Cancel returns false. For a
// running task it cancels the payload context and returns false.
func (t *Task) Cancel() bool {
	if t.state.CompareAndSwap(int32(taskPending), int32(taskCancelled)) {
		if t.onCancel != nil {
			t.onCancel(t)
		}
		t.finish(nil, types.ErrCancelled, 0)
		return t.Attempts() == 0
	}

	if taskState(t.state.Load()) == taskRunning {
		t.cancelRequested.Store(true)
		if stop := t.stopRun.Load(); stop != nil {
			(*stop)()
		}
	}
	return false
}

// Cancelled reports whether the task was cancelled before it ran
func (t *Task) Cancelled() bool {
	return taskState(t.state.Load()) == taskCancelled
}

// Done returns a channel closed once the task has a final result
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// begin moves a pending task to running and returns its attempt number
func (t *Task) begin() (int, bool) {
	if !t.state.CompareAndSwap(int32(taskPending), int32(taskRunning)) {
		return 0, false
	}
	return int(t.attempts.Add(1)), true
}

// release returns a running task to pending for another attempt
func (t *Task) release() bool {
	return t.state.CompareAndSwap(int32(taskRunning), int32(taskPending))
}

// abandon finishes a task that never got to run again
func (t *Task) abandon(err error) bool {
	if !t.state.CompareAndSwap(int32(taskPending), int32(taskDone)) {
		return false
	}
	t.finish(nil, err, 0)
	return true
}

func (t *Task) setStop(stop context.CancelFunc) {
	if stop == nil {
		t.stopRun.Store(nil)
		return
	}
	t.stopRun.Store(&stop)
	if t.cancelRequested.Load() {
		stop()
	}
}

// finish records the final result once. runTime is the duration of the
// last attempt.
func (t *Task) finish(value interface{}, err error, runTime time.Duration) bool {
	if !t.finished.CompareAndSwap(false, true) {
		return false
	}

	if taskState(t.state.Load()) != taskCancelled {
		t.state.Store(int32(taskDone))
	}

	t.result = types.Result{
		Value:    value,
		Error:    err,
		Attempts: t.Attempts(),
		Duration: t.clock.Since(t.submittedAt),
	}
	t.lastRun = runTime

	// counters and events are in place before waiters wake
	if t.onFinish != nil {
		t.onFinish(t)
	}
	close(t.done)
	return true
}

// String implements fmt.Stringer
func (t *Task) String() string {
	return fmt.Sprintf("task(%s, %s)", t.id, t.priority)
}

type taskKey struct{}

// TaskFromContext returns the ID of the task whose payload ctx belongs to.
// The ID is a natural lock owner for LockManager.
func TaskFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskKey{}).(string)
	return id, ok
}

func withTask(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskKey{}, id)
}

// Handle is the caller's view of a submitted task
type Handle struct {
	task *Task
}

// ID returns the task ID
func (h *Handle) ID() string {
	return h.task.id
}

// Priority returns the task priority
func (h *Handle) Priority() types.Priority {
	return h.task.priority
}

// Cancel cancels the task if it has not started yet and reports whether it
// did. A task waiting to retry is cancelled too, but Cancel returns false.
// A running task has its context cancelled instead.
func (h *Handle) Cancel() bool {
	return h.task.Cancel()
}

// Done returns a channel closed once the result is available
func (h *Handle) Done() <-chan struct{} {
	return h.task.done
}

// Wait blocks until the task has a final result or ctx is done
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-h.task.done:
		return h.task.result.Value, h.task.result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the final result and whether it is available yet
func (h *Handle) Result() (types.Result, bool) {
	select {
	case <-h.task.done:
		return h.task.result, true
	default:
		return types.Result{}, false
	}
}

// Await waits for h and converts its value to T
func Await[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	v, err := h.Wait(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("task %s returned %T, want %T", h.ID(), v, zero)
	}
	return out, nil
}

// SubmitOption configures a single submission
type SubmitOption func(*submitOptions)

type submitOptions struct {
	id       string
	priority types.Priority
	timeout  time.Duration
}

// WithPriority sets the task priority
func WithPriority(p types.Priority) SubmitOption {
	return func(o *submitOptions) {
		o.priority = p
	}
}

// WithTimeout bounds every attempt of the task. A timed out attempt replaces
// its worker.
func WithTimeout(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		o.timeout = d
	}
}

// WithID sets the task ID instead of a generated UUID
func WithID(id string) SubmitOption {
	return func(o *submitOptions) {
		o.id = id
	}
}
