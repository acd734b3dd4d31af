package metrics

import (
	"respool/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "respool"

// StatsSource はプールの状態を返すもの（*worker.Pool）
type StatsSource interface {
	Stats() worker.Stats
}

// Collector はプールの状態を Prometheus のメトリクスとして公開する
type Collector struct {
	source  StatsSource
	metrics *Metrics

	queued    *prometheus.Desc
	running   *prometheus.Desc
	target    *prometheus.Desc
	live      *prometheus.Desc
	submitted *prometheus.Desc
	completed *prometheus.Desc
	retired   *prometheus.Desc
	dropped   *prometheus.Desc
	avgRun    *prometheus.Desc
	p99Run    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector は Collector を作成する。m は nil でもよい
func NewCollector(source StatsSource, m *Metrics) *Collector {
	labels := []string{"pool"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &Collector{
		source:    source,
		metrics:   m,
		queued:    desc("jobs_queued", "Jobs accepted but not yet picked up by a worker."),
		running:   desc("jobs_running", "Jobs currently executing."),
		target:    desc("worker_target", "Requested number of active workers."),
		live:      desc("workers_live", "Worker goroutines that have not exited."),
		submitted: desc("jobs_submitted_total", "Jobs accepted by Submit."),
		completed: desc("jobs_completed_total", "Jobs that ran to completion."),
		retired:   desc("workers_retired_total", "Workers that exited after a shrink."),
		dropped:   desc("jobs_dropped_total", "Queued jobs discarded on stop."),
		avgRun:    desc("job_run_seconds_avg", "Average job run time."),
		p99Run:    desc("job_run_seconds_p99", "Sampled 99th percentile job run time."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queued
	ch <- c.running
	ch <- c.target
	ch <- c.live
	ch <- c.submitted
	ch <- c.completed
	ch <- c.retired
	ch <- c.dropped
	if c.metrics != nil {
		ch <- c.avgRun
		ch <- c.p99Run
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, s.Name)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), s.Name)
	}

	gauge(c.queued, float64(s.Queued))
	gauge(c.running, float64(s.Running))
	gauge(c.target, float64(s.Target))
	gauge(c.live, float64(s.LiveWorkers))
	counter(c.submitted, s.Submitted)
	counter(c.completed, s.Completed)
	counter(c.retired, s.Retired)
	counter(c.dropped, s.Dropped)

	if c.metrics != nil {
		gauge(c.avgRun, c.metrics.AverageRunTime().Seconds())
		gauge(c.p99Run, c.metrics.P99RunTime().Seconds())
	}
}
