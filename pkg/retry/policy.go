package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jzx17/taskpool/pkg/types"
)

// Classifier reports whether a failed attempt may be retried
type Classifier func(error) bool

// Policy bounds how often and how soon a failed task runs again
type Policy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// Backoff computes the delay before each retry
	Backoff BackoffStrategy

	// Classifier decides retryability; nil means DefaultClassifier
	Classifier Classifier
}

// DefaultPolicy returns the policy used when a pool is configured without one
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: 3,
		Backoff: NewExponentialBackoff(100*time.Millisecond,
			WithMaxDelay(10*time.Second),
			WithJitter(0.2)),
	}
}

// NoRetry returns a policy that fails on the first error
func NoRetry() *Policy {
	return &Policy{MaxRetries: 0, Backoff: NewFixedBackoff(0)}
}

// Validate checks the policy fields
func (p *Policy) Validate() error {
	if p.MaxRetries < 0 {
		return types.NewValidationError("max_retries", "must be non-negative, got %d", p.MaxRetries)
	}
	if p.MaxRetries > 0 && p.Backoff == nil {
		return types.NewValidationError("backoff", "required when max_retries is %d", p.MaxRetries)
	}
	return nil
}

// ShouldRetry reports whether a task that failed with err after attempts
// executions gets another one
func (p *Policy) ShouldRetry(err error, attempts int) bool {
	if err == nil || attempts > p.MaxRetries {
		return false
	}

	classify := p.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	return classify(err)
}

// NextDelay returns the wait before the retry following attempts executions.
// A RetryAfter hint on err takes precedence over the backoff.
func (p *Policy) NextDelay(err error, attempts int) time.Duration {
	if hint := types.GetRetryDelay(err); hint > 0 {
		return hint
	}
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff.NextDelay(attempts)
}

// String describes the policy for logs
func (p *Policy) String() string {
	return fmt.Sprintf("retry(max=%d, backoff=%T)", p.MaxRetries, p.Backoff)
}

// DefaultClassifier treats failures as transient unless they are marked
// permanent or can never succeed on another attempt
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	if retryable, marked := types.IsRetryable(err); marked {
		return retryable
	}

	switch {
	case errors.Is(err, types.ErrDeadlock),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrCancelled),
		errors.Is(err, types.ErrPoolClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	return true
}
