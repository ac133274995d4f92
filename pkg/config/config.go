// Package config loads process-level taskpool configuration from YAML with
// environment variable overrides
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jzx17/taskpool/pkg/queue"
	"github.com/jzx17/taskpool/pkg/retry"
	"github.com/jzx17/taskpool/pkg/types"
	"github.com/jzx17/taskpool/pkg/worker"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. TASKPOOL_POOL_MAX_WORKERS
const DefaultEnvPrefix = "TASKPOOL"

// Config is the file layout of a taskpool configuration
type Config struct {
	Pool    PoolConfig    `yaml:"pool"`
	Retry   RetryConfig   `yaml:"retry"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// PoolConfig mirrors worker.Config with names suitable for files
type PoolConfig struct {
	MinWorkers            int           `yaml:"min_workers"`
	MaxWorkers            int           `yaml:"max_workers"`
	QueueCapacity         int           `yaml:"queue_capacity"`
	Backpressure          string        `yaml:"backpressure"`
	Strategy              string        `yaml:"strategy"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	ScaleInterval         time.Duration `yaml:"scale_interval"`
	ScaleUpThreshold      int           `yaml:"scale_up_threshold"`
	ScaleDownThreshold    float64       `yaml:"scale_down_threshold"`
	ScaleSamples          int           `yaml:"scale_samples"`
	ScaleCooldown         time.Duration `yaml:"scale_cooldown"`
	DeadlockCheckInterval time.Duration `yaml:"deadlock_check_interval"`
	DefaultTimeout        time.Duration `yaml:"default_timeout"`
}

// RetryConfig describes an exponential backoff retry policy
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint; an empty Addr disables it
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Default returns the configuration matching worker.DefaultConfig
func Default() *Config {
	w := worker.DefaultConfig()
	return &Config{
		Pool: PoolConfig{
			MinWorkers:            w.MinWorkers,
			MaxWorkers:            w.MaxWorkers,
			QueueCapacity:         w.QueueCapacity,
			Backpressure:          w.Backpressure.String(),
			Strategy:              worker.StrategyRoundRobin,
			HeartbeatInterval:     w.HeartbeatInterval,
			ScaleInterval:         w.ScaleInterval,
			ScaleUpThreshold:      w.ScaleUpThreshold,
			ScaleDownThreshold:    w.ScaleDownThreshold,
			ScaleSamples:          w.ScaleSamples,
			ScaleCooldown:         w.ScaleCooldown,
			DeadlockCheckInterval: w.DeadlockCheckInterval,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  100 * time.Millisecond,
			MaxDelay:   10 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// LoadYAML decodes the YAML file at path over target
func LoadYAML(path string, target interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

// Load reads path over the defaults and validates the result. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv is Load with environment overrides applied before validation
func LoadWithEnv(path, prefix string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadYAML(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := ApplyEnvOverrides(prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration by building the pool and retry settings
func (c *Config) Validate() error {
	if _, err := c.WorkerConfig(); err != nil {
		return err
	}
	if c.Metrics.Addr != "" && c.Metrics.Path == "" {
		return types.NewValidationError("metrics.path", "required when metrics.addr is set")
	}
	return nil
}

// RetryPolicy builds the retry policy. MaxRetries 0 disables retries.
func (c *Config) RetryPolicy() (*retry.Policy, error) {
	r := c.Retry
	if r.MaxRetries < 0 {
		return nil, types.NewValidationError("retry.max_retries", "must be non-negative, got %d", r.MaxRetries)
	}
	if r.MaxRetries == 0 {
		return retry.NoRetry(), nil
	}
	if r.BaseDelay <= 0 {
		return nil, types.NewValidationError("retry.base_delay", "must be positive, got %v", r.BaseDelay)
	}
	if r.Multiplier != 0 && r.Multiplier < 1 {
		return nil, types.NewValidationError("retry.multiplier", "must be at least 1, got %v", r.Multiplier)
	}
	if r.MaxDelay < 0 {
		return nil, types.NewValidationError("retry.max_delay", "must be non-negative, got %v", r.MaxDelay)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return nil, types.NewValidationError("retry.jitter", "must be within [0, 1], got %v", r.Jitter)
	}

	opts := []retry.BackoffOption{retry.WithJitter(r.Jitter)}
	if r.Multiplier != 0 {
		opts = append(opts, retry.WithMultiplier(r.Multiplier))
	}
	if r.MaxDelay > 0 {
		opts = append(opts, retry.WithMaxDelay(r.MaxDelay))
	}

	return &retry.Policy{
		MaxRetries: r.MaxRetries,
		Backoff:    retry.NewExponentialBackoff(r.BaseDelay, opts...),
	}, nil
}

// WorkerConfig converts the pool section into a validated worker.Config.
// Clock, observer, logger and tracer provider are left for the caller.
func (c *Config) WorkerConfig() (*worker.Config, error) {
	policy, err := queue.ParsePolicy(c.Pool.Backpressure)
	if err != nil {
		return nil, err
	}
	strategy, err := worker.NewStrategy(c.Pool.Strategy)
	if err != nil {
		return nil, err
	}
	rp, err := c.RetryPolicy()
	if err != nil {
		return nil, err
	}

	wc := &worker.Config{
		MinWorkers:            c.Pool.MinWorkers,
		MaxWorkers:            c.Pool.MaxWorkers,
		QueueCapacity:         c.Pool.QueueCapacity,
		Backpressure:          policy,
		Strategy:              strategy,
		HeartbeatInterval:     c.Pool.HeartbeatInterval,
		ScaleInterval:         c.Pool.ScaleInterval,
		ScaleUpThreshold:      c.Pool.ScaleUpThreshold,
		ScaleDownThreshold:    c.Pool.ScaleDownThreshold,
		ScaleSamples:          c.Pool.ScaleSamples,
		ScaleCooldown:         c.Pool.ScaleCooldown,
		DeadlockCheckInterval: c.Pool.DeadlockCheckInterval,
		DefaultTimeout:        c.Pool.DefaultTimeout,
		Retry:                 rp,
	}
	if err := wc.Validate(); err != nil {
		return nil, err
	}
	return wc, nil
}

// LogValue implements slog.LogValuer for startup logging
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("min_workers", c.Pool.MinWorkers),
		slog.Int("max_workers", c.Pool.MaxWorkers),
		slog.Int("queue_capacity", c.Pool.QueueCapacity),
		slog.String("backpressure", c.Pool.Backpressure),
		slog.String("strategy", c.Pool.Strategy),
		slog.Int("max_retries", c.Retry.MaxRetries),
		slog.String("metrics_addr", c.Metrics.Addr),
	)
}
