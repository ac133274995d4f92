// Package fault turns task failures into retry decisions and guards
// application locks against wait-for cycles
package fault

import (
	"time"

	"github.com/jzx17/taskpool/pkg/retry"
	"github.com/jzx17/taskpool/pkg/types"
)

// Decision is the disposition of a failed attempt
type Decision struct {
	// Retry is true when the task should run again after Delay
	Retry bool
	Delay time.Duration

	// Err is the final error when Retry is false
	Err error
}

// Handler applies a retry policy to failed attempts
type Handler struct {
	policy *retry.Policy
}

// NewHandler creates a handler. A nil policy never retries.
func NewHandler(policy *retry.Policy) *Handler {
	if policy == nil {
		policy = retry.NoRetry()
	}
	return &Handler{policy: policy}
}

// Policy returns the policy in use
func (h *Handler) Policy() *retry.Policy {
	return h.policy
}

// Decide returns what to do with a task whose attempts-th execution failed
// with err. Once a retryable failure runs out of budget the final error is a
// RetriesExhaustedError wrapping err. Non-retryable errors are final as-is.
func (h *Handler) Decide(taskID string, attempts int, err error) Decision {
	if err == nil {
		return Decision{}
	}

	if h.policy.ShouldRetry(err, attempts) {
		return Decision{Retry: true, Delay: h.policy.NextDelay(err, attempts)}
	}

	if h.policy.MaxRetries > 0 && attempts > h.policy.MaxRetries && h.retryable(err) {
		return Decision{Err: &types.RetriesExhaustedError{TaskID: taskID, Attempts: attempts, Last: err}}
	}

	return Decision{Err: err}
}

func (h *Handler) retryable(err error) bool {
	if h.policy.Classifier != nil {
		return h.policy.Classifier(err)
	}
	return retry.DefaultClassifier(err)
}
