package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jzx17/taskpool/pkg/types"
)

const namespace = "taskpool"

// Metrics records pool events as Prometheus metrics
type Metrics struct {
	TasksTotal        *prometheus.CounterVec
	TaskRetriesTotal  prometheus.Counter
	TaskDuration      *prometheus.HistogramVec
	WorkerEventsTotal *prometheus.CounterVec
	ScaleEventsTotal  *prometheus.CounterVec
	DeadlocksTotal    prometheus.Counter
}

var _ types.Observer = (*Metrics)(nil)

// NewMetrics creates the event metrics on registerer. A nil registerer uses
// prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of finished tasks by outcome",
			},
			[]string{"outcome", "priority"},
		),
		TaskRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_retries_total",
				Help:      "Total number of task retries",
			},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Execution time of the final task attempt in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"priority"},
		),
		WorkerEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_events_total",
				Help:      "Total number of worker crashes and replacements",
			},
			[]string{"event"},
		),
		ScaleEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scale_events_total",
				Help:      "Total number of scaling actions by direction",
			},
			[]string{"direction"},
		),
		DeadlocksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deadlocks_total",
				Help:      "Total number of detected lock cycles",
			},
		),
	}
}

// Observe implements types.Observer
func (m *Metrics) Observe(e types.Event) {
	switch e.Kind {
	case types.EventTaskCompleted:
		m.TasksTotal.WithLabelValues("completed", e.Priority.String()).Inc()
		m.TaskDuration.WithLabelValues(e.Priority.String()).Observe(e.Duration.Seconds())
	case types.EventTaskFailed:
		m.TasksTotal.WithLabelValues("failed", e.Priority.String()).Inc()
		m.TaskDuration.WithLabelValues(e.Priority.String()).Observe(e.Duration.Seconds())
	case types.EventTaskRetried:
		m.TaskRetriesTotal.Inc()
	case types.EventWorkerCrashed:
		m.WorkerEventsTotal.WithLabelValues("crashed").Inc()
	case types.EventWorkerReplaced:
		m.WorkerEventsTotal.WithLabelValues("replaced").Inc()
	case types.EventScaledUp:
		m.ScaleEventsTotal.WithLabelValues("up").Inc()
	case types.EventScaledDown:
		m.ScaleEventsTotal.WithLabelValues("down").Inc()
	case types.EventDeadlockDetected:
		m.DeadlocksTotal.Inc()
	}
}

// RegisterStats exposes a live stats snapshot as gauges. stats is called on
// every scrape.
func (m *Metrics) RegisterStats(registerer prometheus.Registerer, stats func() types.PoolStats) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	gauge := func(name, help string, value func(types.PoolStats) int) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(stats()))
		})
	}

	gauge("queue_length", "Tasks waiting for a worker", func(s types.PoolStats) int { return s.QueueLength })
	gauge("workers", "Live workers", func(s types.PoolStats) int { return s.Workers })
	gauge("workers_active", "Workers running a task", func(s types.PoolStats) int { return s.ActiveWorkers })
	gauge("workers_idle", "Workers ready for a task", func(s types.PoolStats) int { return s.IdleWorkers })
	gauge("workers_min", "Lower worker bound", func(s types.PoolStats) int { return s.MinWorkers })
	gauge("workers_max", "Upper worker bound", func(s types.PoolStats) int { return s.MaxWorkers })
}
