/*
Package worker provides a dynamically scaled pool of workers for CPU-bound tasks.

# Overview

A Pool accepts tasks into a priority queue and hands them to workers. Each
worker runs at most one task at a time, in an execution goroutine of its
own, while the worker loop keeps sending heartbeats. A single coordinating
loop owns all pool bookkeeping and reacts to typed messages: results,
heartbeats, crashes, exits, timeouts, retries, resize and shutdown requests.

# Core Components

## Pool

  - Submit with WithPriority, WithTimeout and WithID
  - Distribution strategies: RoundRobin, LeastBusy, PriorityAware
  - Autoscaling between MinWorkers and MaxWorkers from queue length and idle
    ratio samples, rate limited by a cooldown
  - Health checks: a worker silent for twice the heartbeat interval is
    declared crashed, its task is requeued and a replacement is started
  - Per-task timeouts enforced by the pool; the timed out worker is
    replaced because its goroutine cannot be stopped from outside
  - Retries with backoff decided by the fault package
  - Graceful and forceful shutdown

## Worker

State machine:

	Starting -> Idle <-> Busy
	Idle -> Draining -> Terminated
	Idle, Busy -> Crashed
	any live state -> Terminated (killed)

A panic in a payload is recovered and reported as a crash. A payload that
ends its goroutine with runtime.Goexit leaves the worker silent; the pool
finds it through the missed heartbeats.

## Task and Handle

Submit returns a Handle to wait for, inspect or cancel the task. Cancel
succeeds only before the task starts; a running task gets its context
cancelled. TaskFromContext gives a payload its task ID, which is the owner
name to use with the pool's LockManager.

# Usage Examples

	pool, err := worker.NewPool(&worker.Config{
		MinWorkers:       2,
		MaxWorkers:       8,
		QueueCapacity:    1000,
		Backpressure:     queue.PolicyReject,
		ScaleUpThreshold: 10,
		Retry:            retry.DefaultPolicy(),
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer pool.Shutdown(context.Background(), true)

	h, err := pool.Submit(func(ctx context.Context) (interface{}, error) {
		return fib(30), nil
	}, worker.WithPriority(types.PriorityHigh))
	if err != nil {
		log.Printf("submit: %v", err)
	}

	n, err := worker.Await[int](ctx, h)

Statistics:

	stats := pool.Stats()
	fmt.Printf("queue=%d busy=%d idle=%d\n", stats.QueueLength, stats.ActiveWorkers, stats.IdleWorkers)
*/
package worker
