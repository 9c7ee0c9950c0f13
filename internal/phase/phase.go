package phase

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoPhases       = errors.New("at least one phase is required")
	ErrZeroDuration   = errors.New("phase duration must be greater than zero")
	ErrIntensityRange = errors.New("phase intensity must be within 0..100")
	ErrCycleOverflow  = errors.New("total phase duration overflows the cycle length")
)

// Phase is a named window of the load cycle with a target intensity.
type Phase struct {
	Name             string `json:"name" mapstructure:"name"`
	DurationMs       uint64 `json:"durationMs" mapstructure:"duration_ms"`
	IntensityPercent int    `json:"intensityPercent" mapstructure:"intensity"`
}

func (p Phase) Duration() time.Duration {
	return time.Duration(p.DurationMs) * time.Millisecond
}

func (p Phase) String() string {
	return fmt.Sprintf("%s:%s:%d", p.Name, p.Duration(), p.IntensityPercent)
}

// DefaultPhases is a five minute low/high/low cycle.
func DefaultPhases() []Phase {
	return []Phase{
		{Name: "low-start", DurationMs: 60_000, IntensityPercent: 20},
		{Name: "high-load", DurationMs: 180_000, IntensityPercent: 75},
		{Name: "low-end", DurationMs: 60_000, IntensityPercent: 20},
	}
}

// Parse reads a phase written as name:duration:intensity, e.g. "warm:30s:40".
func Parse(s string) (Phase, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Phase{}, fmt.Errorf("phase %q: expected name:duration:intensity", s)
	}

	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Phase{}, fmt.Errorf("phase %q: empty name", s)
	}

	d, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return Phase{}, fmt.Errorf("phase %q: %w", s, err)
	}
	if d < time.Millisecond {
		return Phase{}, fmt.Errorf("phase %q: %w", s, ErrZeroDuration)
	}

	pct, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(parts[2]), "%"))
	if err != nil {
		return Phase{}, fmt.Errorf("phase %q: bad intensity: %w", s, err)
	}

	p := Phase{Name: name, DurationMs: uint64(d.Milliseconds()), IntensityPercent: pct}
	if err := p.validate(); err != nil {
		return Phase{}, fmt.Errorf("phase %q: %w", s, err)
	}
	return p, nil
}

func (p Phase) validate() error {
	if p.DurationMs == 0 {
		return ErrZeroDuration
	}
	if p.IntensityPercent < 0 || p.IntensityPercent > 100 {
		return ErrIntensityRange
	}
	return nil
}

// Scheduler maps elapsed run time onto the repeating phase cycle.
// It holds no mutable state and is safe for concurrent use.
type Scheduler struct {
	phases []Phase
	ends   []uint64 // cumulative end offset of each phase, exclusive
	cycle  uint64
}

func NewScheduler(phases []Phase) (*Scheduler, error) {
	if len(phases) == 0 {
		return nil, ErrNoPhases
	}

	s := &Scheduler{
		phases: make([]Phase, len(phases)),
		ends:   make([]uint64, len(phases)),
	}
	copy(s.phases, phases)

	for i, p := range s.phases {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("phase %d (%s): %w", i, p.Name, err)
		}
		if s.cycle+p.DurationMs < s.cycle {
			return nil, fmt.Errorf("phase %d (%s): %w", i, p.Name, ErrCycleOverflow)
		}
		s.cycle += p.DurationMs
		s.ends[i] = s.cycle
	}

	return s, nil
}

// CurrentTarget returns the phase covering elapsedMs. Intervals are
// half-open, so a boundary belongs to the phase that starts there.
func (s *Scheduler) CurrentTarget(elapsedMs uint64) (string, int) {
	offset := elapsedMs % s.cycle
	i := sort.Search(len(s.ends), func(i int) bool { return s.ends[i] > offset })
	p := s.phases[i]
	return p.Name, p.IntensityPercent
}

func (s *Scheduler) CycleLength() time.Duration {
	return time.Duration(s.cycle) * time.Millisecond
}

func (s *Scheduler) Phases() []Phase {
	out := make([]Phase, len(s.phases))
	copy(out, s.phases)
	return out
}
