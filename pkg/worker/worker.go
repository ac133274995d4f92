package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jzx17/taskpool/pkg/syncx"
	"github.com/jzx17/taskpool/pkg/types"
)

// Worker runs one task at a time in its own execution goroutine while its
// loop keeps heartbeating and stays responsive to the pool
type Worker struct {
	id    int
	state atomic.Int32

	inbox     chan assignment
	drain     chan struct{}
	drainOnce sync.Once
	kill      chan struct{}
	killOnce  sync.Once
	exited    chan struct{}

	out       chan<- message
	poolDone  <-chan struct{}
	clock     types.Clock
	tracer    trace.Tracer
	heartbeat time.Duration

	current       atomic.Pointer[string]
	completed     syncx.AtomicCounter
	failed        syncx.AtomicCounter
	busyNanos     syncx.AtomicCounter
	lastHeartbeat syncx.AtomicCounter

	// owned by the pool loop
	task      *Task
	attempt   int
	startedAt time.Time
	timer     types.Timer
	seen      time.Time
	draining  bool
}

type workerDeps struct {
	out       chan<- message
	poolDone  <-chan struct{}
	clock     types.Clock
	tracer    trace.Tracer
	heartbeat time.Duration
}

func newWorker(id int, deps workerDeps) *Worker {
	w := &Worker{
		id:        id,
		inbox:     make(chan assignment, 1),
		drain:     make(chan struct{}),
		kill:      make(chan struct{}),
		exited:    make(chan struct{}),
		out:       deps.out,
		poolDone:  deps.poolDone,
		clock:     deps.clock,
		tracer:    deps.tracer,
		heartbeat: deps.heartbeat,
	}
	w.lastHeartbeat.Store(w.clock.Now().UnixNano())
	w.seen = w.clock.Now()
	return w
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// LastHeartbeat returns the time of the most recent heartbeat
func (w *Worker) LastHeartbeat() time.Time {
	return time.Unix(0, w.lastHeartbeat.Load())
}

// CurrentTask returns the ID of the running task, or "" when idle
func (w *Worker) CurrentTask() string {
	if id := w.current.Load(); id != nil {
		return *id
	}
	return ""
}

// Done returns a channel closed when the worker loop has returned
func (w *Worker) Done() <-chan struct{} {
	return w.exited
}

func (w *Worker) transition(from, to WorkerState) bool {
	if !CanTransition(from, to) {
		return false
	}
	return w.state.CompareAndSwap(int32(from), int32(to))
}

// terminate moves any live state to Terminated
func (w *Worker) terminate() {
	for {
		s := w.State()
		if s.Terminal() {
			return
		}
		if w.transition(s, WorkerStateTerminated) {
			return
		}
	}
}

func (w *Worker) stop() {
	w.killOnce.Do(func() { close(w.kill) })
}

func (w *Worker) requestDrain() {
	w.drainOnce.Do(func() { close(w.drain) })
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.exited)

	if !w.transition(WorkerStateStarting, WorkerStateIdle) {
		return
	}

	ticker := w.clock.NewTicker(w.heartbeat)
	defer ticker.Stop()
	w.beat()

	for {
		select {
		case <-w.kill:
			w.terminate()
			return
		case <-ctx.Done():
			w.terminate()
			return
		case <-w.drain:
			if w.transition(WorkerStateIdle, WorkerStateDraining) {
				w.transition(WorkerStateDraining, WorkerStateTerminated)
			} else {
				w.terminate()
			}
			w.send(message{kind: msgExited, workerID: w.id})
			return
		case <-ticker.C():
			w.beat()
		case a := <-w.inbox:
			if !w.execute(ctx, a, ticker) {
				return
			}
		}
	}
}

type outcome struct {
	value    interface{}
	err      error
	panicked bool
	goexit   bool
}

// execute runs one attempt and reports whether the worker may continue
func (w *Worker) execute(ctx context.Context, a assignment, ticker types.Ticker) bool {
	t := a.task
	if !w.transition(WorkerStateIdle, WorkerStateBusy) {
		return false
	}

	id := t.id
	w.current.Store(&id)
	defer w.current.Store(nil)

	runCtx, stop := context.WithCancel(withTask(ctx, t.id))
	defer stop()
	t.setStop(stop)

	results := make(chan outcome, 1)
	start := w.clock.Now()
	go w.invoke(runCtx, a, results)

	for {
		select {
		case o := <-results:
			t.setStop(nil)
			elapsed := w.clock.Since(start)
			w.busyNanos.Add(int64(elapsed))

			switch {
			case o.panicked:
				w.failed.Add(1)
				w.transition(WorkerStateBusy, WorkerStateCrashed)
				w.send(message{kind: msgCrashed, workerID: w.id, task: t, attempt: a.attempt, err: o.err, duration: elapsed})
				return false
			case o.goexit:
				// no report: the pool notices the missing heartbeats
				w.transition(WorkerStateBusy, WorkerStateCrashed)
				return false
			}

			if o.err != nil {
				w.failed.Add(1)
			} else {
				w.completed.Add(1)
			}
			if !w.transition(WorkerStateBusy, WorkerStateIdle) {
				return false
			}
			w.send(message{kind: msgResult, workerID: w.id, task: t, attempt: a.attempt, value: o.value, err: o.err, duration: elapsed})
			return true

		case <-ticker.C():
			w.beat()

		case <-w.kill:
			w.terminate()
			return false

		case <-ctx.Done():
			w.terminate()
			return false
		}
	}
}

// invoke is the execution context of one attempt
func (w *Worker) invoke(ctx context.Context, a assignment, results chan<- outcome) {
	t := a.task
	ctx, span := w.tracer.Start(ctx, "taskpool.task",
		trace.WithAttributes(
			attribute.String("task.id", t.id),
			attribute.String("task.priority", t.priority.String()),
			attribute.Int("task.attempt", a.attempt),
			attribute.Int("worker.id", w.id),
		))

	returned := false
	defer func() {
		if r := recover(); r != nil {
			err := &types.WorkerCrashError{
				WorkerID: w.id,
				TaskID:   t.id,
				Reason:   fmt.Sprintf("panic: %v\n%s", r, debug.Stack()),
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			span.End()
			results <- outcome{err: err, panicked: true}
			return
		}
		if !returned {
			span.SetStatus(codes.Error, "execution context exited")
			span.End()
			results <- outcome{goexit: true}
		}
	}()

	value, err := t.fn(ctx)
	returned = true

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	results <- outcome{value: value, err: err}
}

func (w *Worker) beat() {
	now := w.clock.Now()
	w.lastHeartbeat.Store(now.UnixNano())

	select {
	case w.out <- message{kind: msgHeartbeat, workerID: w.id, at: now}:
	default:
	}
}

func (w *Worker) send(m message) {
	select {
	case w.out <- m:
	case <-w.kill:
	case <-w.poolDone:
	}
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ID:            w.id,
		State:         w.State(),
		CurrentTask:   w.CurrentTask(),
		Completed:     w.completed.Load(),
		Failed:        w.failed.Load(),
		BusyTime:      time.Duration(w.busyNanos.Load()),
		LastHeartbeat: w.LastHeartbeat(),
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID            int
	State         WorkerState
	CurrentTask   string
	Completed     int64
	Failed        int64
	BusyTime      time.Duration
	LastHeartbeat time.Time
}

// IsActive checks if Worker is running a task
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateBusy
}

// IsIdle checks if Worker is idle
func (ws WorkerStats) IsIdle() bool {
	return ws.State == WorkerStateIdle
}

// GetSuccessRate gets the success rate
func (ws WorkerStats) GetSuccessRate() float64 {
	total := ws.Completed + ws.Failed
	if total == 0 {
		return 0
	}
	return float64(ws.Completed) / float64(total)
}
