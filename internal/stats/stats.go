package stats

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID   string `json:"runId"`
	Running bool   `json:"running"`

	ElapsedSeconds            float64 `json:"elapsedSeconds"`
	CompletedRequests         uint64  `json:"completedRequests"`
	Errors                    uint64  `json:"errors"`
	RequestsPerSecondObserved float64 `json:"requestsPerSecondObserved"`
	ErrorRatePercent          float64 `json:"errorRatePercent"`

	Phase            string `json:"phase"`
	IntensityPercent int    `json:"intensityPercent"`
	Workers          int    `json:"workers"`
	ActiveWorkers    int    `json:"activeWorkers"`
	BufferedChunks   int    `json:"bufferedChunks"`

	LatencyP50Ms float64 `json:"latencyP50Ms"`
	LatencyP90Ms float64 `json:"latencyP90Ms"`
	LatencyP99Ms float64 `json:"latencyP99Ms"`
	LatencyMaxMs float64 `json:"latencyMaxMs"`

	// Filled by a Reporter with a ProcessSampler.
	ProcessRSSBytes   uint64  `json:"processRssBytes,omitempty"`
	ProcessCPUPercent float64 `json:"processCpuPercent,omitempty"`
}

// Counters holds the shared request counters of one run. Writers only use
// atomic operations.
type Counters struct {
	completed atomic.Uint64
	errors    atomic.Uint64

	started time.Time
	stopped atomic.Pointer[time.Time] // nil while running

	Latency *SafeHistogram
}

func NewCounters(start time.Time) *Counters {
	return &Counters{
		started: start,
		Latency: NewSafeHistogram(),
	}
}

func (c *Counters) AddCompleted(latency time.Duration) {
	c.completed.Add(1)
	c.Latency.Record(latency)
}

func (c *Counters) AddError() {
	c.errors.Add(1)
}

func (c *Counters) Completed() uint64 { return c.completed.Load() }

func (c *Counters) Errors() uint64 { return c.errors.Load() }

func (c *Counters) Started() time.Time { return c.started }

// MarkStopped freezes the elapsed time. Only the first call has effect.
func (c *Counters) MarkStopped(t time.Time) {
	c.stopped.CompareAndSwap(nil, &t)
}

// Stopped reports the time passed to the first MarkStopped call.
func (c *Counters) Stopped() (time.Time, bool) {
	if t := c.stopped.Load(); t != nil {
		return *t, true
	}
	return time.Time{}, false
}

// Elapsed is the run time so far, or the total once stopped.
func (c *Counters) Elapsed(now time.Time) time.Duration {
	end := now
	if t := c.stopped.Load(); t != nil {
		end = *t
	}
	d := end.Sub(c.started)
	if d < 0 {
		return 0
	}
	return d
}

// Fill copies the counter derived fields into s.
func (c *Counters) Fill(s *Snapshot, now time.Time) {
	elapsed := c.Elapsed(now).Seconds()
	completed := c.Completed()
	errs := c.Errors()

	s.ElapsedSeconds = elapsed
	s.CompletedRequests = completed
	s.Errors = errs
	s.RequestsPerSecondObserved = Rate(completed, elapsed)
	s.ErrorRatePercent = ErrorRate(errs, completed)

	if c.Latency.TotalCount() > 0 {
		s.LatencyP50Ms = c.Latency.QuantileMs(50)
		s.LatencyP90Ms = c.Latency.QuantileMs(90)
		s.LatencyP99Ms = c.Latency.QuantileMs(99)
		s.LatencyMaxMs = c.Latency.MaxMs()
	}
}

// ErrorRate is errors per completed request as a percentage, 0 when
// nothing has completed.
func ErrorRate(errs, completed uint64) float64 {
	if completed == 0 {
		return 0
	}
	return float64(errs) / float64(completed) * 100
}

func Rate(n uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(n) / seconds
}
