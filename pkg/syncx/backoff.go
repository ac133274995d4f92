package syncx

import (
	"runtime"
	"time"
)

const (
	// spinYields is the number of retries that only yield the processor
	spinYields = 4

	// minBackoffSleep is the first sleep after the yield phase
	minBackoffSleep = time.Microsecond

	// maxBackoffSleep caps a single backoff sleep
	maxBackoffSleep = 100 * time.Microsecond
)

// backoff paces compare-and-swap retries
type backoff struct {
	n int
}

// wait pauses before the next retry
func (b *backoff) wait() {
	if b.n < spinYields {
		b.n++
		runtime.Gosched()
		return
	}
	shift := b.n - spinYields
	b.n++
	d := maxBackoffSleep
	if shift < 8 {
		if s := minBackoffSleep << uint(shift); s < d {
			d = s
		}
	}
	time.Sleep(d)
}

// spinning reports whether the yield phase is still running
func (b *backoff) spinning() bool {
	return b.n < spinYields
}
