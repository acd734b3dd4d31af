// Package metrics provides job execution metrics for worker pools.
//
// Metrics collects statistics about job run time, throughput and worker
// churn. It implements worker.Observer, so it can be plugged straight into
// a pool:
//
//	m := metrics.New()
//	pool, _ := worker.NewPoolWithConfig(worker.PoolConfig{
//	    NumWorkers: 4,
//	    Observer:   m,
//	})
//
//	// Get statistics
//	fmt.Printf("Done: %d, JPS: %.2f, P99: %v\n",
//	    m.CompletedJobs(), m.Throughput(), m.P99RunTime())
//
//	// Get a snapshot
//	snap := m.Snapshot()
//
// # Prometheus
//
// Collector exports a pool's Stats (and optionally a Metrics snapshot) as
// Prometheus metrics:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(pool, m))
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	config := metrics.Config{
//	    MaxRunTimeSamples: 5000, // More samples for P99 accuracy
//	}
//	m := metrics.NewWithConfig(config)
//
// # Thread Safety
//
// Counters are atomic; the run time sample buffer is guarded by a RWMutex.
package metrics
