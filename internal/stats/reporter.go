package stats

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Second

// ProcessUsage is a resource sample of the generator process itself.
type ProcessUsage struct {
	RSSBytes   uint64
	CPUPercent float64
}

type ProcessSampler interface {
	Sample() (ProcessUsage, error)
}

// Sink receives snapshots from a Reporter.
type Sink interface {
	Publish(Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

func (f SinkFunc) Publish(s Snapshot) { f(s) }

// ChanSink forwards snapshots to a channel without blocking. Updates are
// dropped while the channel is full.
type ChanSink chan Snapshot

func (c ChanSink) Publish(s Snapshot) {
	select {
	case c <- s:
	default:
	}
}

// LogSink writes one structured log line per snapshot.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (l LogSink) Publish(s Snapshot) {
	l.Log.Infow("load stats",
		"run", s.RunID,
		"phase", s.Phase,
		"intensity", s.IntensityPercent,
		"elapsed_s", round2(s.ElapsedSeconds),
		"completed", s.CompletedRequests,
		"errors", s.Errors,
		"rps", round2(s.RequestsPerSecondObserved),
		"error_rate_pct", round2(s.ErrorRatePercent),
		"active_workers", s.ActiveWorkers,
		"buffered_chunks", s.BufferedChunks,
	)
}

// WriterSink renders a human readable block per snapshot.
type WriterSink struct {
	W io.Writer
}

func (w WriterSink) Publish(s Snapshot) {
	fmt.Fprint(w.W, Format(s))
}

// Format renders s the way the console reporter prints it.
func Format(s Snapshot) string {
	out := fmt.Sprintf(`
Load Test Statistics:
-------------------
Runtime: %.0fs
Phase: %s (%d%%)
Workers: %d/%d active, %d buffered chunks
Requests Completed: %d
Errors: %d
Requests/second: %.2f
Error rate: %.2f%%
`,
		s.ElapsedSeconds,
		s.Phase, s.IntensityPercent,
		s.ActiveWorkers, s.Workers, s.BufferedChunks,
		s.CompletedRequests,
		s.Errors,
		s.RequestsPerSecondObserved,
		s.ErrorRatePercent,
	)
	if s.CompletedRequests > 0 {
		out += fmt.Sprintf("Latency p50/p90/p99/max: %.2f/%.2f/%.2f/%.2f ms\n",
			s.LatencyP50Ms, s.LatencyP90Ms, s.LatencyP99Ms, s.LatencyMaxMs)
	}
	if s.ProcessRSSBytes > 0 {
		out += fmt.Sprintf("Generator: %.1f MiB RSS, %.1f%% CPU\n",
			float64(s.ProcessRSSBytes)/(1<<20), s.ProcessCPUPercent)
	}
	return out
}

// Reporter periodically publishes snapshots taken from Source.
type Reporter struct {
	Source   func() Snapshot
	Interval time.Duration
	Sampler  ProcessSampler
	Sinks    []Sink
	Log      *zap.SugaredLogger
}

// Snapshot takes one snapshot from Source and enriches it with a process
// sample when a Sampler is configured.
func (r *Reporter) Snapshot() Snapshot {
	s := r.Source()
	if r.Sampler != nil {
		u, err := r.Sampler.Sample()
		if err != nil {
			if r.Log != nil {
				r.Log.Debugw("process sample failed", "err", err)
			}
		} else {
			s.ProcessRSSBytes = u.RSSBytes
			s.ProcessCPUPercent = u.CPUPercent
		}
	}
	return s
}

func (r *Reporter) Publish(s Snapshot) {
	for _, sink := range r.Sinks {
		sink.Publish(s)
	}
}

// Run publishes a snapshot every Interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Publish(r.Snapshot())
		}
	}
}

// Start runs the reporter in a new goroutine.
func (r *Reporter) Start(ctx context.Context) {
	go r.Run(ctx)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
