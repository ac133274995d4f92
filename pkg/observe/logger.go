package observe

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jzx17/taskpool/pkg/types"
)

// ParseLevel converts a level name to a slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, types.NewValidationError("log_level", "unknown level %q", s)
	}
}

// NewLogger builds a slog logger writing JSON or text to w
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, types.NewValidationError("log_format", "unknown format %q", format)
	}
}

// LogObserver writes every pool event to a logger
type LogObserver struct {
	logger *slog.Logger
}

var _ types.Observer = (*LogObserver)(nil)

// NewLogObserver creates a LogObserver; nil uses slog.Default()
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// Observe implements types.Observer
func (o *LogObserver) Observe(e types.Event) {
	attrs := []any{"event", string(e.Kind)}
	if e.TaskID != "" {
		attrs = append(attrs, "task_id", e.TaskID)
	}
	if e.WorkerID != 0 {
		attrs = append(attrs, "worker_id", e.WorkerID)
	}

	switch e.Kind {
	case types.EventTaskCompleted:
		o.logger.Debug("task completed", append(attrs, "attempt", e.Attempt, "duration", e.Duration)...)
	case types.EventTaskRetried:
		o.logger.Info("task retried", append(attrs, "attempt", e.Attempt, "delay", e.Delay, "error", e.Err)...)
	case types.EventScaledUp, types.EventScaledDown:
		o.logger.Info("pool scaled", append(attrs, "workers", e.Workers)...)
	case types.EventWorkerReplaced:
		o.logger.Info("worker replaced", append(attrs, "replacement_id", e.ReplacementID)...)
	case types.EventTaskFailed:
		o.logger.Warn("task failed", append(attrs, "attempt", e.Attempt, "error", e.Err)...)
	case types.EventWorkerCrashed:
		o.logger.Warn("worker crashed", append(attrs, "error", e.Err)...)
	case types.EventDeadlockDetected:
		o.logger.Warn("deadlock detected", append(attrs, "error", e.Err)...)
	default:
		o.logger.Info(fmt.Sprintf("pool event %s", e.Kind), attrs...)
	}
}
