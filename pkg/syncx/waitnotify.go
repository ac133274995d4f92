package syncx

import (
	"context"
	"sync/atomic"
)

// WaitNotify lets goroutines block until a sequence word changes.
//
// Notify increments the word before it wakes anyone, and waiters compare the
// word after they obtain the channel they will block on. A notification that
// lands before a waiter starts waiting is therefore observed as a changed word
// instead of being lost. Waiters must still recheck their own condition after
// waking, since the word moves for every Notify. The zero value is ready to use.
type WaitNotify struct {
	seq atomic.Uint64
	ch  atomic.Pointer[chan struct{}]
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Load returns the current sequence word
func (w *WaitNotify) Load() uint64 {
	return w.seq.Load()
}

// Notify advances the sequence word and wakes every waiter
func (w *WaitNotify) Notify() {
	w.seq.Add(1)
	next := make(chan struct{})
	if prev := w.ch.Swap(&next); prev != nil {
		close(*prev)
	}
}

// Changed returns a channel that is closed once the word differs from seq
func (w *WaitNotify) Changed(seq uint64) <-chan struct{} {
	ch := w.channel()
	if w.seq.Load() != seq {
		return closedChan
	}
	return ch
}

// Wait blocks until the word differs from seq or ctx is done
func (w *WaitNotify) Wait(ctx context.Context, seq uint64) error {
	select {
	case <-w.Changed(seq):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitUntil blocks until cond returns true or ctx is done. cond is
// re-evaluated after every notification.
func (w *WaitNotify) WaitUntil(ctx context.Context, cond func() bool) error {
	for {
		seq := w.seq.Load()
		if cond() {
			return nil
		}
		if err := w.Wait(ctx, seq); err != nil {
			return err
		}
	}
}

func (w *WaitNotify) channel() chan struct{} {
	if p := w.ch.Load(); p != nil {
		return *p
	}
	c := make(chan struct{})
	if w.ch.CompareAndSwap(nil, &c) {
		return c
	}
	return *w.ch.Load()
}
