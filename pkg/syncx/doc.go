/*
Package syncx provides the shared-memory synchronization primitives the task
pool is built on.

# Primitives

  - AtomicCounter: indivisible load, store, add and compare-and-swap on an int64
  - Mutex: a 0/1 compare-and-swap lock with timeout-bounded acquisition
  - WaitNotify: block until a sequence word moves or a notification arrives
  - RingBuffer: a bounded multi-producer multi-consumer lock-free queue

# Memory ordering

Every operation is sequentially consistent. The primitives are built on
sync/atomic, whose operations behave as if executed in a single total
order observed by all goroutines. No relaxed or acquire/release variants are
exposed: a write published through an AtomicCounter, a Mutex unlock, a Notify
or a RingBuffer enqueue happens before any read that observes it.

# Backoff

Compare-and-swap retry loops back off instead of spinning freely: the first
few retries yield the processor, later retries sleep for an exponentially
growing interval capped at maxBackoffSleep. Mutex waiters stop retrying after
the spin phase and park on a WaitNotify that Unlock signals.

# Fairness

Mutex is not fair. A goroutine arriving while the lock is released can win
against goroutines that have waited longer; there is no FIFO hand-off. This
keeps Unlock to a single store plus a broadcast and is a policy choice.
*/
package syncx
