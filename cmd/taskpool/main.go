// Command taskpool runs a synthetic CPU-bound workload on a worker pool
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/taskpool/pkg/config"
	"github.com/jzx17/taskpool/pkg/observe"
	"github.com/jzx17/taskpool/pkg/types"
	"github.com/jzx17/taskpool/pkg/worker"
)

var errTransient = errors.New("transient workload failure")

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file")
		tasks       = flag.Int("tasks", 1000, "number of tasks to run")
		rounds      = flag.Int("rounds", 20000, "sha256 rounds per task")
		failRate    = flag.Float64("fail-rate", 0.05, "probability that an attempt fails transiently")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	)
	flag.Parse()

	if err := run(*configPath, *tasks, *rounds, *failRate, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "taskpool:", err)
		os.Exit(1)
	}
}

func run(configPath string, tasks, rounds int, failRate float64, metricsAddr string) error {
	cfg, err := config.LoadWithEnv(configPath, config.DefaultEnvPrefix)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	logger, err := observe.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observe.NewMetrics(registry)

	wc, err := cfg.WorkerConfig()
	if err != nil {
		return err
	}
	wc.Logger = logger
	wc.Observer = observe.Multi(observe.NewLogObserver(logger), metrics)

	pool, err := worker.NewPool(wc)
	if err != nil {
		return err
	}
	metrics.RegisterStats(registry, pool.Stats)

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := pool.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	runErr := workload(ctx, pool, tasks, rounds, failRate, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx, true); err != nil {
		logger.Warn("graceful shutdown did not finish", "error", err)
	}

	stats := pool.Stats()
	logger.Info("workload finished",
		"elapsed", time.Since(start),
		"completed", stats.Completed,
		"failed", stats.Failed,
		"retried", stats.Retried,
		"crashed", stats.Crashed,
		"replaced", stats.Replaced)
	return runErr
}

// workload submits every task and waits for all results
func workload(ctx context.Context, pool *worker.Pool, tasks, rounds int, failRate float64, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(64)

	var failures int
	results := make(chan error, tasks)

	for i := 0; i < tasks; i++ {
		seed := fmt.Sprintf("task-%d", i)
		prio := types.Priority(i % types.NumPriorities)

		h, err := pool.SubmitContext(ctx, hashTask(seed, rounds, failRate), worker.WithPriority(prio))
		if err != nil {
			return fmt.Errorf("submit %s: %w", seed, err)
		}

		g.Go(func() error {
			digest, err := worker.Await[string](ctx, h)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				results <- err
				return nil
			}
			logger.Debug("task digest", "task_id", h.ID(), "priority", prio.String(), "digest", digest[:16])
			results <- nil
			return nil
		})
	}

	err := g.Wait()
	close(results)
	for r := range results {
		if r != nil {
			failures++
		}
	}
	if failures > 0 {
		logger.Warn("tasks failed", "count", failures, "total", tasks)
	}
	return err
}

// hashTask iterates sha256 over seed, checking ctx between chunks
func hashTask(seed string, rounds int, failRate float64) worker.TaskFunc {
	return func(ctx context.Context) (interface{}, error) {
		if rand.Float64() < failRate {
			return nil, errTransient
		}

		sum := sha256.Sum256([]byte(seed))
		for i := 1; i < rounds; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			sum = sha256.Sum256(sum[:])
		}
		return hex.EncodeToString(sum[:]), nil
	}
}

func serveMetrics(addr, path string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
