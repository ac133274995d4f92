// Package retry decides whether and when a failed task runs again.
//
// A Policy combines a retry budget with a BackoffStrategy and a Classifier:
//
//	policy := &retry.Policy{
//		MaxRetries: 3,
//		Backoff: retry.NewExponentialBackoff(50*time.Millisecond,
//			retry.WithMaxDelay(2*time.Second),
//			retry.WithJitter(0.2)),
//	}
//
// The n-th retry waits base * 2^(n-1) ± 20%, never more than the cap.
// DefaultClassifier retries every error except deadlocks, validation
// failures, cancellation, pool shutdown, context errors, and errors wrapped
// with types.Permanent. A types.RetryableError with RetryAfter set overrides
// the computed delay.
//
// The package only computes decisions. The worker pool applies them by
// requeueing the task after the delay, so no worker blocks while a task
// waits for its next attempt.
package retry
