// Package observe turns pool events into logs and Prometheus metrics.
//
// Each collaborator implements types.Observer; Multi combines them:
//
//	metrics := observe.NewMetrics(registry)
//	cfg.Observer = observe.Multi(observe.NewLogObserver(logger), metrics)
//	pool, _ := worker.NewPool(cfg)
//	metrics.RegisterStats(registry, pool.Stats)
package observe
