package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jzx17/taskpool/pkg/fault"
	"github.com/jzx17/taskpool/pkg/queue"
	"github.com/jzx17/taskpool/pkg/syncx"
	"github.com/jzx17/taskpool/pkg/types"
)

// ErrNotStarted is returned by operations that need a running pool
var ErrNotStarted = errors.New("worker pool is not started")

const tracerName = "github.com/jzx17/taskpool/pkg/worker"

// messageBuffer is the depth of the coordinating loop's inbox
const messageBuffer = 1024

// queue membership marks carried by a task
const (
	markNone int32 = iota
	markQueued
	markCancelled
)

const (
	poolCreated int32 = iota
	poolRunning
	poolStopping
	poolClosed
)

// Pool distributes tasks over a dynamic set of workers. All pool
// bookkeeping is owned by a single coordinating loop; the public methods
// talk to it through messages or read published atomics.
type Pool struct {
	config   *Config
	clock    types.Clock
	logger   *slog.Logger
	observer types.Observer
	tracer   trace.Tracer
	queue    *queue.Queue[*Task]
	faults   *fault.Handler
	locks    *fault.LockManager
	strategy Strategy
	scaler   *autoscaler

	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	messages chan message
	loopDone chan struct{}

	// owned by the loop
	workers  map[int]*Worker
	nextID   int
	min      int
	max      int
	retries  map[*Task]types.Timer
	stopping *stopRequest

	completed   syncx.AtomicCounter
	failed      syncx.AtomicCounter
	retried     syncx.AtomicCounter
	cancelled   syncx.AtomicCounter
	crashed     syncx.AtomicCounter
	replaced    syncx.AtomicCounter
	outstanding syncx.AtomicCounter
	settled     syncx.WaitNotify

	// submissions past the state check
	submitting  syncx.AtomicCounter
	submitDone  syncx.WaitNotify
	staleQueued syncx.AtomicCounter

	liveWorkers syncx.AtomicCounter
	busyWorkers syncx.AtomicCounter
	idleWorkers syncx.AtomicCounter
	minWorkers  syncx.AtomicCounter
	maxWorkers  syncx.AtomicCounter
	snapshot    atomic.Pointer[[]*Worker]
}

type stopRequest struct {
	graceful bool
	draining bool
}

// NewPool creates a new worker pool
func NewPool(config *Config) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	cfg := config.withDefaults()

	p := &Pool{
		config:   cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		faults:   fault.NewHandler(cfg.Retry),
		strategy: cfg.Strategy,
		scaler:   newAutoscaler(cfg.ScaleUpThreshold, cfg.ScaleDownThreshold, cfg.ScaleSamples, cfg.ScaleCooldown),
		messages: make(chan message, messageBuffer),
		loopDone: make(chan struct{}),
		workers:  make(map[int]*Worker),
		retries:  make(map[*Task]types.Timer),
		min:      cfg.MinWorkers,
		max:      cfg.MaxWorkers,
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	p.tracer = tp.Tracer(tracerName)

	q, err := queue.New[*Task](&queue.Config{
		Capacity: cfg.QueueCapacity,
		Policy:   cfg.Backpressure,
	}, queue.WithDiscardHandler(func(t *Task) {
		p.dequeued(t)
		p.logger.Debug("skipped cancelled task", "task_id", t.id)
	}))
	if err != nil {
		return nil, fmt.Errorf("create task queue: %w", err)
	}
	p.queue = q

	p.locks = fault.NewLockManager(
		fault.WithClock(p.clock),
		fault.WithObserver(p.observer),
		fault.WithLogger(p.logger))

	p.minWorkers.Store(int64(p.min))
	p.maxWorkers.Store(int64(p.max))

	return p, nil
}

// Start starts the minimum number of workers and the coordinating loop
func (p *Pool) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(poolCreated, poolRunning) {
		if p.state.Load() == poolRunning {
			return fmt.Errorf("worker pool is already running")
		}
		return types.ErrPoolClosed
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.min; i++ {
		p.spawn()
	}
	p.publish()

	go p.loop()
	if p.config.DeadlockCheckInterval > 0 {
		go p.locks.Run(p.ctx, p.config.DeadlockCheckInterval)
	}

	p.logger.Info("worker pool started",
		"min_workers", p.min,
		"max_workers", p.max,
		"strategy", p.strategy.Name(),
		"queue_capacity", p.config.QueueCapacity,
		"backpressure", p.config.Backpressure.String())
	return nil
}

// Submit queues fn for execution
func (p *Pool) Submit(fn TaskFunc, opts ...SubmitOption) (*Handle, error) {
	return p.SubmitContext(context.Background(), fn, opts...)
}

// SubmitContext queues fn for execution. Under block backpressure ctx bounds
// the wait for queue space.
func (p *Pool) SubmitContext(ctx context.Context, fn TaskFunc, opts ...SubmitOption) (*Handle, error) {
	if fn == nil {
		return nil, types.NewValidationError("fn", "must not be nil")
	}

	o := submitOptions{priority: types.PriorityNormal, timeout: p.config.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.priority.Valid() {
		return nil, types.NewValidationError("priority", "unknown priority %d", int(o.priority))
	}
	if o.timeout < 0 {
		return nil, types.NewValidationError("timeout", "must be non-negative, got %v", o.timeout)
	}

	p.submitting.Add(1)
	defer func() {
		p.submitting.Add(-1)
		p.submitDone.Notify()
	}()

	switch p.state.Load() {
	case poolRunning:
	case poolCreated:
		return nil, ErrNotStarted
	default:
		return nil, types.ErrPoolClosed
	}

	t := newTask(o.id, fn, o.priority, o.timeout, p.clock)
	t.onFinish = p.taskFinished
	t.onCancel = p.taskCancelled
	t.queueMark.Store(markQueued)

	p.outstanding.Add(1)
	if err := p.queue.Submit(ctx, t); err != nil {
		p.outstanding.Add(-1)
		p.settled.Notify()
		if errors.Is(err, types.ErrQueueClosed) {
			return nil, types.ErrPoolClosed
		}
		return nil, err
	}

	return &Handle{task: t}, nil
}

// Resize changes the worker bounds and converges the worker count at once
func (p *Pool) Resize(min, max int) error {
	if err := validateBounds(min, max); err != nil {
		return err
	}
	if p.state.Load() != poolRunning {
		return types.ErrPoolClosed
	}

	reply := make(chan error, 1)
	if !p.post(message{kind: msgResize, min: min, max: max, reply: reply}) {
		return types.ErrPoolClosed
	}

	select {
	case err := <-reply:
		return err
	case <-p.loopDone:
		return types.ErrPoolClosed
	}
}

// Shutdown stops the pool. A graceful shutdown rejects new submissions and
// finishes every accepted task first; otherwise queued and pending tasks
// fail with types.ErrPoolClosed and workers are killed. If ctx ends before
// a graceful shutdown completes, the shutdown turns forceful and ctx.Err()
// is returned.
func (p *Pool) Shutdown(ctx context.Context, graceful bool) error {
	switch {
	case p.state.CompareAndSwap(poolCreated, poolClosed):
		p.queue.Close()
		close(p.loopDone)
		return nil

	case p.state.CompareAndSwap(poolRunning, poolStopping):
		p.queue.Close()
		p.awaitSubmitters()

		p.logger.Info("worker pool shutting down", "graceful", graceful)
		p.post(message{kind: msgShutdown, graceful: graceful})

	case !graceful:
		p.post(message{kind: msgShutdown, graceful: false})
	}

	select {
	case <-p.loopDone:
		return nil
	case <-ctx.Done():
		p.post(message{kind: msgShutdown, graceful: false})
		<-p.loopDone
		return ctx.Err()
	}
}

// Done returns a channel closed once the pool has shut down
func (p *Pool) Done() <-chan struct{} {
	return p.loopDone
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() types.PoolStats {
	return types.PoolStats{
		QueueLength:   p.queueLength(),
		ActiveWorkers: int(p.busyWorkers.Load()),
		IdleWorkers:   int(p.idleWorkers.Load()),
		Workers:       int(p.liveWorkers.Load()),
		MinWorkers:    int(p.minWorkers.Load()),
		MaxWorkers:    int(p.maxWorkers.Load()),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Retried:       p.retried.Load(),
		Cancelled:     p.cancelled.Load(),
		Crashed:       p.crashed.Load(),
		Replaced:      p.replaced.Load(),
	}
}

// Workers returns per-worker statistics ordered by worker ID
func (p *Pool) Workers() []WorkerStats {
	snap := p.snapshot.Load()
	if snap == nil {
		return nil
	}
	out := make([]WorkerStats, 0, len(*snap))
	for _, w := range *snap {
		out = append(out, w.Stats())
	}
	return out
}

// Locks returns the pool's deadlock-detecting lock manager. Task payloads
// use their task ID (TaskFromContext) as owner; locks still held when an
// attempt ends are released by the pool.
func (p *Pool) Locks() *fault.LockManager {
	return p.locks
}

// Strategy returns the distribution strategy
func (p *Pool) Strategy() Strategy {
	return p.strategy
}

func (p *Pool) post(m message) bool {
	select {
	case p.messages <- m:
		return true
	case <-p.loopDone:
		return false
	}
}

func (p *Pool) emit(e types.Event) {
	e.Time = p.clock.Now()
	p.observer.Observe(e)
}

// awaitSubmitters waits out submissions that passed the state check
func (p *Pool) awaitSubmitters() {
	_ = p.submitDone.WaitUntil(context.Background(), func() bool {
		return p.submitting.Load() == 0
	})
}

func (p *Pool) requeue(t *Task) {
	t.queueMark.Store(markQueued)
	p.queue.Requeue(t)
}

// taskCancelled counts a task cancelled while still queued
func (p *Pool) taskCancelled(t *Task) {
	if t.queueMark.CompareAndSwap(markQueued, markCancelled) {
		p.staleQueued.Add(1)
	}
}

// dequeued clears the mark of a task that left the queue
func (p *Pool) dequeued(t *Task) {
	if t.queueMark.Swap(markNone) == markCancelled {
		p.staleQueued.Add(-1)
	}
}

// queueLength returns the number of queued tasks not yet cancelled
func (p *Pool) queueLength() int {
	n := p.queue.Len() - int(p.staleQueued.Load())
	if n < 0 {
		return 0
	}
	return n
}

// taskFinished runs once per task on whichever goroutine finalised it
func (p *Pool) taskFinished(t *Task) {
	r := t.result
	p.locks.ReleaseAll(t.id)

	switch {
	case r.Error == nil:
		p.completed.Add(1)
		p.emit(types.Event{
			Kind:     types.EventTaskCompleted,
			TaskID:   t.id,
			Priority: t.priority,
			Attempt:  r.Attempts,
			WorkerID: t.lastWorker,
			Duration: t.lastRun,
		})
	case errors.Is(r.Error, types.ErrCancelled):
		p.cancelled.Add(1)
	default:
		p.failed.Add(1)
		p.emit(types.Event{
			Kind:     types.EventTaskFailed,
			TaskID:   t.id,
			Priority: t.priority,
			Attempt:  r.Attempts,
			WorkerID: t.lastWorker,
			Duration: t.lastRun,
			Err:      r.Error,
		})
	}

	p.outstanding.Add(-1)
	p.settled.Notify()
}

// publish refreshes the lock-free view used by Stats and Workers
func (p *Pool) publish() {
	var busy, idle int64
	list := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		list = append(list, w)
		switch {
		case w.task != nil:
			busy++
		case !w.draining:
			idle++
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	p.liveWorkers.Store(int64(len(list)))
	p.busyWorkers.Store(busy)
	p.idleWorkers.Store(idle)
	p.minWorkers.Store(int64(p.min))
	p.maxWorkers.Store(int64(p.max))
	p.snapshot.Store(&list)
}
