// Package metrics exposes run statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"loadphase/internal/stats"
)

const namespace = "loadphase"

// Collector reads a fresh snapshot on every scrape, so the counters never
// drift from what the controller reports.
type Collector struct {
	source func() stats.Snapshot

	completed *prometheus.Desc
	errors    *prometheus.Desc
	running   *prometheus.Desc
	elapsed   *prometheus.Desc
	rps       *prometheus.Desc
	errorRate *prometheus.Desc
	intensity *prometheus.Desc
	workers   *prometheus.Desc
	active    *prometheus.Desc
	chunks    *prometheus.Desc
	latency   *prometheus.Desc
}

func NewCollector(source func() stats.Snapshot) *Collector {
	run := []string{"run_id"}
	return &Collector{
		source: source,
		completed: prometheus.NewDesc(namespace+"_requests_completed_total",
			"Requests that returned a 2xx response.", run, nil),
		errors: prometheus.NewDesc(namespace+"_requests_errors_total",
			"Requests that failed or returned a non-2xx status.", run, nil),
		running: prometheus.NewDesc(namespace+"_running",
			"1 while a run is active.", run, nil),
		elapsed: prometheus.NewDesc(namespace+"_elapsed_seconds",
			"Seconds since the run started, frozen once stopped.", run, nil),
		rps: prometheus.NewDesc(namespace+"_requests_per_second",
			"Observed request rate since start.", run, nil),
		errorRate: prometheus.NewDesc(namespace+"_error_rate_percent",
			"Errors as a percentage of completed requests.", run, nil),
		intensity: prometheus.NewDesc(namespace+"_phase_intensity_percent",
			"Target intensity of the current phase.", []string{"run_id", "phase"}, nil),
		workers: prometheus.NewDesc(namespace+"_workers",
			"Workers started for the run.", run, nil),
		active: prometheus.NewDesc(namespace+"_workers_active",
			"Workers that have not exited.", run, nil),
		chunks: prometheus.NewDesc(namespace+"_memory_chunks",
			"Memory chunks retained across all workers.", run, nil),
		latency: prometheus.NewDesc(namespace+"_request_latency_ms",
			"Request latency quantiles in milliseconds.", []string{"run_id", "quantile"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.completed
	ch <- c.errors
	ch <- c.running
	ch <- c.elapsed
	ch <- c.rps
	ch <- c.errorRate
	ch <- c.intensity
	ch <- c.workers
	ch <- c.active
	ch <- c.chunks
	ch <- c.latency
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source()
	if s.RunID == "" {
		return
	}

	running := 0.0
	if s.Running {
		running = 1
	}

	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(s.CompletedRequests), s.RunID)
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors), s.RunID)
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running, s.RunID)
	ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, s.ElapsedSeconds, s.RunID)
	ch <- prometheus.MustNewConstMetric(c.rps, prometheus.GaugeValue, s.RequestsPerSecondObserved, s.RunID)
	ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, s.ErrorRatePercent, s.RunID)
	ch <- prometheus.MustNewConstMetric(c.intensity, prometheus.GaugeValue, float64(s.IntensityPercent), s.RunID, s.Phase)
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(s.Workers), s.RunID)
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.ActiveWorkers), s.RunID)
	ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(s.BufferedChunks), s.RunID)

	for _, q := range []struct {
		label string
		v     float64
	}{
		{"0.5", s.LatencyP50Ms},
		{"0.9", s.LatencyP90Ms},
		{"0.99", s.LatencyP99Ms},
		{"1", s.LatencyMaxMs},
	} {
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, q.v, s.RunID, q.label)
	}
}

// NewRegistry returns a registry holding the run collector plus the Go
// runtime and process collectors.
func NewRegistry(source func() stats.Snapshot) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
