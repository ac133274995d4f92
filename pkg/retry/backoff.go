package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the wait before a retry
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// RandomFunc returns a uniform value in [0, 1). It must be safe for concurrent use.
type RandomFunc func() float64

// FixedBackoff waits the same delay before every retry
type FixedBackoff struct {
	delay time.Duration
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration) *FixedBackoff {
	return &FixedBackoff{delay: delay}
}

// NextDelay implements BackoffStrategy
func (b *FixedBackoff) NextDelay(int) time.Duration {
	return b.delay
}

// ExponentialBackoff waits base * multiplier^(attempt-1), spread by a
// symmetric jitter of ±JitterFactor and capped at the maximum delay.
type ExponentialBackoff struct {
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	jitterFactor float64
	random       RandomFunc
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(initialDelay time.Duration, opts ...BackoffOption) *ExponentialBackoff {
	b := &ExponentialBackoff{
		initialDelay: initialDelay,
		multiplier:   2.0,
		maxDelay:     30 * time.Second,
		random:       rand.Float64,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// NextDelay implements BackoffStrategy
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := b.BaseDelay(attempt)
	if b.jitterFactor > 0 {
		spread := (b.random() - 0.5) * 2 * b.jitterFactor * float64(delay)
		delay += time.Duration(spread)
	}

	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// BaseDelay returns the un-jittered delay for attempt
func (b *ExponentialBackoff) BaseDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt-1))
	if delay > float64(b.maxDelay) || math.IsInf(delay, 1) {
		return b.maxDelay
	}
	return time.Duration(delay)
}

// Bounds returns the smallest and largest delay NextDelay may return for attempt
func (b *ExponentialBackoff) Bounds(attempt int) (time.Duration, time.Duration) {
	base := b.BaseDelay(attempt)
	spread := time.Duration(b.jitterFactor * float64(base))

	lo, hi := base-spread, base+spread
	if hi > b.maxDelay {
		hi = b.maxDelay
	}
	if lo > hi {
		lo = hi
	}
	if lo < 0 {
		lo = 0
	}
	return lo, hi
}

// MaxDelay returns the cap
func (b *ExponentialBackoff) MaxDelay() time.Duration {
	return b.maxDelay
}

// BackoffOption configures an ExponentialBackoff
type BackoffOption func(*ExponentialBackoff)

// WithMultiplier sets the growth factor between retries
func WithMultiplier(multiplier float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		if multiplier >= 1 {
			b.multiplier = multiplier
		}
	}
}

// WithMaxDelay sets the maximum delay
func WithMaxDelay(maxDelay time.Duration) BackoffOption {
	return func(b *ExponentialBackoff) {
		if maxDelay > 0 {
			b.maxDelay = maxDelay
		}
	}
}

// WithJitter sets the jitter factor in [0, 1]
func WithJitter(factor float64) BackoffOption {
	return func(b *ExponentialBackoff) {
		if factor >= 0 && factor <= 1 {
			b.jitterFactor = factor
		}
	}
}

// WithRandom replaces the jitter source
func WithRandom(random RandomFunc) BackoffOption {
	return func(b *ExponentialBackoff) {
		if random != nil {
			b.random = random
		}
	}
}
