package worker

import (
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jzx17/taskpool/pkg/queue"
	"github.com/jzx17/taskpool/pkg/retry"
	"github.com/jzx17/taskpool/pkg/types"
)

// Config contains configuration for a worker pool
type Config struct {
	// MinWorkers is the minimum number of workers
	MinWorkers int

	// MaxWorkers is the maximum number of workers
	MaxWorkers int

	// QueueCapacity bounds the task queue; 0 means unbounded
	QueueCapacity int

	// Backpressure applies when the queue is full
	Backpressure queue.Policy

	// Strategy picks the worker for each task
	Strategy Strategy

	// HeartbeatInterval is how often workers report liveness. A worker silent
	// for twice the interval is declared crashed.
	HeartbeatInterval time.Duration

	// ScaleInterval is the autoscaler sampling period
	ScaleInterval time.Duration

	// ScaleUpThreshold is the queue length that counts as overload
	ScaleUpThreshold int

	// ScaleDownThreshold is the idle ratio that counts as underload
	ScaleDownThreshold float64

	// ScaleSamples is the number of consecutive samples needed to act
	ScaleSamples int

	// ScaleCooldown is the minimum time between scaling actions
	ScaleCooldown time.Duration

	// DeadlockCheckInterval runs the periodic lock cycle scan; 0 disables it
	DeadlockCheckInterval time.Duration

	// Retry decides retries of failed attempts; nil never retries
	Retry *retry.Policy

	// DefaultTimeout applies to tasks submitted without WithTimeout
	DefaultTimeout time.Duration

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Observer receives pool events (optional)
	Observer types.Observer

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// TracerProvider creates the per-attempt spans (optional, defaults to the global provider)
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	maxWorkers := runtime.NumCPU()
	if maxWorkers < 2 {
		maxWorkers = 2
	}
	return &Config{
		MinWorkers:            2,
		MaxWorkers:            maxWorkers,
		QueueCapacity:         1000,
		Backpressure:          queue.PolicyBlock,
		HeartbeatInterval:     time.Second,
		ScaleInterval:         500 * time.Millisecond,
		ScaleUpThreshold:      10,
		ScaleDownThreshold:    0.5,
		ScaleSamples:          3,
		ScaleCooldown:         2 * time.Second,
		DeadlockCheckInterval: time.Second,
		Retry:                 retry.DefaultPolicy(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validateBounds(c.MinWorkers, c.MaxWorkers); err != nil {
		return err
	}
	if c.QueueCapacity < 0 {
		return types.NewValidationError("queue_capacity", "must be non-negative, got %d", c.QueueCapacity)
	}
	if c.Backpressure != queue.PolicyBlock && c.Backpressure != queue.PolicyReject {
		return types.NewValidationError("backpressure", "unknown policy %d", int(c.Backpressure))
	}
	if c.HeartbeatInterval < 0 {
		return types.NewValidationError("heartbeat_interval", "must be non-negative, got %v", c.HeartbeatInterval)
	}
	if c.ScaleInterval < 0 {
		return types.NewValidationError("scale_interval", "must be non-negative, got %v", c.ScaleInterval)
	}
	if c.ScaleUpThreshold < 0 {
		return types.NewValidationError("scale_up_threshold", "must be non-negative, got %d", c.ScaleUpThreshold)
	}
	if c.ScaleDownThreshold < 0 || c.ScaleDownThreshold > 1 {
		return types.NewValidationError("scale_down_threshold", "must be within [0, 1], got %v", c.ScaleDownThreshold)
	}
	if c.ScaleSamples < 0 {
		return types.NewValidationError("scale_samples", "must be non-negative, got %d", c.ScaleSamples)
	}
	if c.ScaleCooldown < 0 || c.DeadlockCheckInterval < 0 || c.DefaultTimeout < 0 {
		return types.NewValidationError("duration", "cooldown, deadlock interval and timeout must be non-negative")
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateBounds(min, max int) error {
	if min < 0 {
		return types.NewValidationError("min_workers", "must be non-negative, got %d", min)
	}
	if max < 1 {
		return types.NewValidationError("max_workers", "must be at least 1, got %d", max)
	}
	if min > max {
		return types.NewValidationError("min_workers", "%d exceeds max_workers %d", min, max)
	}
	return nil
}

// withDefaults returns a copy with zero optional fields filled in
func (c *Config) withDefaults() *Config {
	out := *c
	def := DefaultConfig()

	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.ScaleInterval == 0 {
		out.ScaleInterval = def.ScaleInterval
	}
	if out.ScaleSamples == 0 {
		out.ScaleSamples = def.ScaleSamples
	}
	if out.Strategy == nil {
		out.Strategy = &RoundRobin{}
	}
	if out.Retry == nil {
		out.Retry = retry.NoRetry()
	}
	out.Clock = types.OrRealClock(out.Clock)
	if out.Observer == nil {
		out.Observer = types.NopObserver{}
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
