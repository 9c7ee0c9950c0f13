package runner

import (
	"time"

	"loadphase/internal/phase"
)

// LoadProfile configures one run. It is not modified after Start.
// DurationMinutes <= 0 runs until Stop is called.
type LoadProfile struct {
	Concurrency       int           `json:"concurrency" mapstructure:"concurrency"`
	DurationMinutes   float64       `json:"durationMinutes" mapstructure:"duration"`
	RequestsPerSecond float64       `json:"requestsPerSecond,omitempty" mapstructure:"rps"`
	TargetURLs        []string      `json:"targetUrls,omitempty" mapstructure:"urls"`
	MemoryIntensive   bool          `json:"memoryIntensive" mapstructure:"memory"`
	CPUIntensive      bool          `json:"cpuIntensive" mapstructure:"cpu"`
	Phases            []phase.Phase `json:"phases" mapstructure:"phases"`
}

// Duration is the configured run length, 0 for unbounded.
func (p LoadProfile) Duration() time.Duration {
	if p.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(p.DurationMinutes * float64(time.Minute))
}

// NetworkEnabled reports whether workers issue HTTP requests.
func (p LoadProfile) NetworkEnabled() bool {
	return p.RequestsPerSecond > 0 && len(p.TargetURLs) > 0
}

// RequestInterval is the per-worker pacing target between requests.
func (p LoadProfile) RequestInterval() time.Duration {
	if p.RequestsPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / p.RequestsPerSecond)
}

func (p LoadProfile) clone() LoadProfile {
	c := p
	c.TargetURLs = append([]string(nil), p.TargetURLs...)
	c.Phases = append([]phase.Phase(nil), p.Phases...)
	return c
}

// State is the lifecycle of a worker or of the controller.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// WorkerStatus is posted by a worker after every cycle and on exit.
type WorkerStatus struct {
	ID               int
	State            State
	Phase            string
	IntensityPercent int
	BufferChunks     int
	Cycles           uint64
	Err              error
}
