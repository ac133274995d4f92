package worker

import (
	"sort"
	"time"

	"github.com/jzx17/taskpool/pkg/types"
)

// loop is the single coordinating goroutine. It is the only code that
// touches workers, retries, min/max and the shutdown request.
func (p *Pool) loop() {
	defer p.exit()

	health := p.clock.NewTicker(p.config.HeartbeatInterval)
	defer health.Stop()
	scale := p.clock.NewTicker(p.config.ScaleInterval)
	defer scale.Stop()

	ctxDone := p.ctx.Done()
	for {
		settledVersion := p.settled.Load()
		queueVersion := p.queue.Version()

		p.dispatch()
		p.publish()
		if p.finished() {
			return
		}

		var ready <-chan struct{}
		if p.hasIdle() || p.liveCount() == 0 {
			ready = p.queue.Changed(queueVersion)
		}
		var settled <-chan struct{}
		if p.stopping != nil {
			settled = p.settled.Changed(settledVersion)
		}

		select {
		case m := <-p.messages:
			p.handle(m)
		case <-ready:
		case <-settled:
		case <-health.C():
			p.checkHealth()
		case <-scale.C():
			p.autoscale()
		case <-ctxDone:
			ctxDone = nil
			p.logger.Warn("worker pool context done, stopping")
			if p.state.CompareAndSwap(poolRunning, poolStopping) {
				p.queue.Close()
				p.awaitSubmitters()
			}
			p.beginStop(false)
		}
	}
}

func (p *Pool) exit() {
	if p.cancel != nil {
		p.cancel()
	}
	p.state.Store(poolClosed)
	p.publish()
	close(p.loopDone)

	stats := p.Stats()
	p.logger.Info("worker pool stopped",
		"completed", stats.Completed,
		"failed", stats.Failed,
		"retried", stats.Retried,
		"cancelled", stats.Cancelled,
		"crashed", stats.Crashed)
}

func (p *Pool) handle(m message) {
	switch m.kind {
	case msgResult:
		w := p.workers[m.workerID]
		if w == nil || w.task != m.task || w.attempt != m.attempt {
			return
		}
		p.unassign(w)
		p.settle(m.task, w.id, m.attempt, m.value, m.err, m.duration, false)

	case msgHeartbeat:
		if w := p.workers[m.workerID]; w != nil && m.at.After(w.seen) {
			w.seen = m.at
		}

	case msgCrashed:
		if w := p.workers[m.workerID]; w != nil {
			p.crash(w, m.err)
		}

	case msgExited:
		if w := p.workers[m.workerID]; w != nil {
			p.remove(w)
			p.logger.Debug("worker exited", "worker_id", w.id)
		}

	case msgTimeout:
		p.timeout(m)

	case msgRetry:
		if _, ok := p.retries[m.task]; !ok {
			return
		}
		delete(p.retries, m.task)
		if !m.task.Cancelled() {
			p.requeue(m.task)
		}

	case msgResize:
		err := p.resize(m.min, m.max)
		p.publish()
		m.reply <- err

	case msgShutdown:
		p.beginStop(m.graceful)
	}
}

// dispatch hands queued tasks to idle workers until either runs out
func (p *Pool) dispatch() {
	if p.stopping != nil && (!p.stopping.graceful || p.stopping.draining) {
		return
	}

	// a pool scaled to zero still needs a worker for queued tasks
	if p.liveCount() == 0 && p.max > 0 && p.queue.Len() > 0 {
		p.spawn()
	}

	for {
		state := p.poolState()
		if len(state.Idle) == 0 {
			return
		}

		t, ok := p.queue.TryTake()
		if !ok {
			return
		}
		p.dequeued(t)
		attempt, ok := t.begin()
		if !ok {
			// cancelled between take and start
			continue
		}

		id, ok := p.strategy.Select(state, t)
		w := p.workers[id]
		if !ok || w == nil || w.task != nil || w.draining {
			w = p.workers[state.Idle[0].ID]
		}
		p.assign(w, t, attempt)
	}
}

func (p *Pool) assign(w *Worker, t *Task, attempt int) {
	w.task = t
	w.attempt = attempt
	w.startedAt = p.clock.Now()

	if t.timeout > 0 {
		id := w.id
		w.timer = p.clock.AfterFunc(t.timeout, func() {
			p.post(message{kind: msgTimeout, workerID: id, task: t, attempt: attempt})
		})
	}

	w.inbox <- assignment{task: t, attempt: attempt}
}

func (p *Pool) unassign(w *Worker) {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.task = nil
	w.attempt = 0
}

// settle ends an attempt. Failures go through the fault handler; retries
// are requeued at once when immediate is set, otherwise after the backoff.
func (p *Pool) settle(t *Task, workerID, attempt int, value interface{}, err error, elapsed time.Duration, immediate bool) {
	t.lastWorker = workerID
	p.locks.ReleaseAll(t.id)

	if err == nil {
		t.finish(value, nil, elapsed)
		return
	}
	if t.cancelRequested.Load() {
		t.finish(nil, types.ErrCancelled, elapsed)
		return
	}

	d := p.faults.Decide(t.id, attempt, err)
	if !d.Retry {
		t.finish(nil, d.Err, elapsed)
		return
	}
	if !t.release() {
		return
	}

	delay := d.Delay
	if immediate {
		delay = 0
	}

	p.retried.Add(1)
	p.logger.Debug("retrying task",
		"task_id", t.id,
		"attempt", attempt,
		"delay", delay,
		"error", err)
	p.emit(types.Event{
		Kind:     types.EventTaskRetried,
		TaskID:   t.id,
		Priority: t.priority,
		Attempt:  attempt,
		WorkerID: workerID,
		Delay:    delay,
		Duration: elapsed,
		Err:      err,
	})

	if delay <= 0 {
		p.requeue(t)
		return
	}
	p.retries[t] = p.clock.AfterFunc(delay, func() {
		p.post(message{kind: msgRetry, task: t})
	})
}

func (p *Pool) timeout(m message) {
	w := p.workers[m.workerID]
	if w == nil || w.task != m.task || w.attempt != m.attempt {
		return
	}

	t := w.task
	p.unassign(w)
	p.remove(w)
	w.stop()

	p.logger.Warn("task timed out",
		"task_id", t.id,
		"worker_id", w.id,
		"attempt", m.attempt,
		"timeout", t.timeout)

	if !w.draining {
		p.replace(w)
	}
	p.settle(t, w.id, m.attempt, nil, &types.TimeoutError{TaskID: t.id, Timeout: t.timeout}, t.timeout, false)
}

// crash handles a worker lost to a panic (cause set) or to missed heartbeats
func (p *Pool) crash(w *Worker, cause error) {
	t, attempt := w.task, w.attempt
	var elapsed time.Duration
	if t != nil {
		elapsed = p.clock.Since(w.startedAt)
	}
	p.unassign(w)
	p.remove(w)
	w.stop()

	taskID := ""
	if t != nil {
		taskID = t.id
	}
	err := cause
	if err == nil {
		err = &types.WorkerCrashError{WorkerID: w.id, TaskID: taskID, Reason: "heartbeat lost"}
	}

	p.crashed.Add(1)
	p.logger.Warn("worker crashed",
		"worker_id", w.id,
		"task_id", taskID,
		"error", err)
	p.emit(types.Event{
		Kind:     types.EventWorkerCrashed,
		TaskID:   taskID,
		Attempt:  attempt,
		WorkerID: w.id,
		Err:      err,
	})

	if !w.draining {
		p.replace(w)
	}
	if t != nil {
		p.settle(t, w.id, attempt, nil, err, elapsed, true)
	}
}

// replace starts a worker in place of old unless the pool is winding down
func (p *Pool) replace(old *Worker) {
	if p.stopping != nil && (!p.stopping.graceful || p.stopping.draining) {
		return
	}

	nw := p.spawn()
	p.replaced.Add(1)
	p.logger.Info("worker replaced", "worker_id", old.id, "replacement_id", nw.id)
	p.emit(types.Event{
		Kind:          types.EventWorkerReplaced,
		WorkerID:      old.id,
		ReplacementID: nw.id,
		Workers:       p.liveCount(),
	})
}

func (p *Pool) checkHealth() {
	if p.stopping != nil && !p.stopping.graceful {
		return
	}

	now := p.clock.Now()
	limit := 2 * p.config.HeartbeatInterval
	for _, w := range p.sortedWorkers() {
		last := w.LastHeartbeat()
		if w.seen.After(last) {
			last = w.seen
		}
		if now.Sub(last) > limit {
			p.crash(w, nil)
		}
	}
}

func (p *Pool) autoscale() {
	if p.stopping != nil {
		return
	}

	live := p.liveCount()
	idle := len(p.poolState().Idle)
	sample := scaleSample{
		queueLength: p.queueLength(),
		workers:     live,
		idle:        idle,
		min:         p.min,
		max:         p.max,
	}

	switch p.scaler.observe(sample, p.clock.Now()) {
	case scaleUp:
		w := p.spawn()
		p.logger.Info("scaled up", "worker_id", w.id, "workers", live+1, "queue_length", sample.queueLength)
		p.emit(types.Event{Kind: types.EventScaledUp, WorkerID: w.id, Workers: live + 1})

	case scaleDown:
		w := p.idleWorker()
		if w == nil {
			return
		}
		p.drainWorker(w)
		p.logger.Info("scaled down", "worker_id", w.id, "workers", live-1)
		p.emit(types.Event{Kind: types.EventScaledDown, WorkerID: w.id, Workers: live - 1})
	}
}

func (p *Pool) resize(min, max int) error {
	if err := validateBounds(min, max); err != nil {
		return err
	}
	if p.stopping != nil {
		return types.ErrPoolClosed
	}

	p.min, p.max = min, max

	live := p.liveCount()
	for ; live < min; live++ {
		w := p.spawn()
		p.emit(types.Event{Kind: types.EventScaledUp, WorkerID: w.id, Workers: live + 1})
	}

	for ; live > max; live-- {
		w := p.idleWorker()
		if w == nil {
			w = p.busyWorker()
		}
		if w == nil {
			break
		}
		p.drainWorker(w)
		p.emit(types.Event{Kind: types.EventScaledDown, WorkerID: w.id, Workers: live - 1})
	}

	p.logger.Info("worker pool resized", "min_workers", min, "max_workers", max, "workers", live)
	return nil
}

func (p *Pool) beginStop(graceful bool) {
	if p.stopping == nil {
		p.stopping = &stopRequest{graceful: graceful}
	} else if graceful || !p.stopping.graceful {
		return
	}

	if !graceful {
		p.stopping.graceful = false
		p.abort()
	}
}

// abort finalises every unfinished task with ErrPoolClosed and kills all workers
func (p *Pool) abort() {
	for t, timer := range p.retries {
		timer.Stop()
		t.abandon(types.ErrPoolClosed)
	}
	p.retries = make(map[*Task]types.Timer)

	for _, t := range p.queue.Drain() {
		p.dequeued(t)
		t.abandon(types.ErrPoolClosed)
	}

	for _, w := range p.sortedWorkers() {
		t := w.task
		p.unassign(w)
		p.remove(w)
		w.stop()
		if t != nil {
			t.lastWorker = w.id
			t.finish(nil, types.ErrPoolClosed, 0)
		}
	}
}

// finished reports whether the loop may exit
func (p *Pool) finished() bool {
	s := p.stopping
	if s == nil {
		return false
	}
	if !s.graceful {
		return true
	}

	if !s.draining {
		if p.outstanding.Load() > 0 {
			return false
		}
		s.draining = true
		for _, w := range p.workers {
			p.drainWorker(w)
		}
	}
	return len(p.workers) == 0
}

func (p *Pool) spawn() *Worker {
	p.nextID++
	w := newWorker(p.nextID, workerDeps{
		out:       p.messages,
		poolDone:  p.loopDone,
		clock:     p.clock,
		tracer:    p.tracer,
		heartbeat: p.config.HeartbeatInterval,
	})
	p.workers[w.id] = w
	go w.run(p.ctx)
	return w
}

func (p *Pool) remove(w *Worker) {
	delete(p.workers, w.id)
}

func (p *Pool) drainWorker(w *Worker) {
	w.draining = true
	w.requestDrain()
}

// liveCount returns the number of workers not draining
func (p *Pool) liveCount() int {
	n := 0
	for _, w := range p.workers {
		if !w.draining {
			n++
		}
	}
	return n
}

func (p *Pool) hasIdle() bool {
	for _, w := range p.workers {
		if w.task == nil && !w.draining {
			return true
		}
	}
	return false
}

func (p *Pool) poolState() PoolState {
	state := PoolState{QueueLength: p.queueLength()}
	for _, w := range p.sortedWorkers() {
		if w.draining {
			continue
		}
		state.Workers++
		if w.task == nil {
			state.Idle = append(state.Idle, WorkerInfo{
				ID:       w.id,
				Assigned: w.load(),
				BusyTime: time.Duration(w.busyNanos.Load()),
			})
		}
	}
	return state
}

// idleWorker returns the newest idle worker
func (p *Pool) idleWorker() *Worker {
	var pick *Worker
	for _, w := range p.workers {
		if w.task == nil && !w.draining && (pick == nil || w.id > pick.id) {
			pick = w
		}
	}
	return pick
}

// busyWorker returns the newest busy worker not yet draining
func (p *Pool) busyWorker() *Worker {
	var pick *Worker
	for _, w := range p.workers {
		if w.task != nil && !w.draining && (pick == nil || w.id > pick.id) {
			pick = w
		}
	}
	return pick
}

// load returns the number of tasks currently assigned to w
func (w *Worker) load() int {
	if w.task != nil {
		return 1
	}
	return 0
}

func (p *Pool) sortedWorkers() []*Worker {
	list := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		list = append(list, w)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}
