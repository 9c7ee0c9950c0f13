package runner

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadphase/internal/phase"
	"loadphase/internal/stats"
	"loadphase/internal/workload"
)

func lowPhase() []phase.Phase {
	return []phase.Phase{{Name: "low", DurationMs: 500, IntensityPercent: 20}}
}

func waitDone(t *testing.T, c *Controller, timeout time.Duration) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(timeout):
		t.Fatalf("run did not stop within %s", timeout)
	}
}

func TestStartRejectsInvalidProfiles(t *testing.T) {
	tests := []struct {
		name    string
		profile LoadProfile
		field   string
	}{
		{"zero concurrency", LoadProfile{Concurrency: 0, Phases: lowPhase()}, "concurrency"},
		{"negative concurrency", LoadProfile{Concurrency: -3, Phases: lowPhase()}, "concurrency"},
		{"rps without urls", LoadProfile{Concurrency: 1, RequestsPerSecond: 10, Phases: lowPhase()}, "targetUrls"},
		{"negative rps", LoadProfile{Concurrency: 1, RequestsPerSecond: -1, Phases: lowPhase()}, "requestsPerSecond"},
		{"no phases", LoadProfile{Concurrency: 1}, "phases"},
		{"zero length phase", LoadProfile{Concurrency: 1, Phases: []phase.Phase{{Name: "x"}}}, "phases"},
		{"cycle overflow", LoadProfile{Concurrency: 1, Phases: []phase.Phase{
			{Name: "a", DurationMs: 1 << 63, IntensityPercent: 10},
			{Name: "b", DurationMs: 1 << 63, IntensityPercent: 10},
		}}, "phases"},
		{"bad url template", LoadProfile{
			Concurrency: 1, RequestsPerSecond: 1, TargetURLs: []string{"http://x/{{bogus}}"}, Phases: lowPhase(),
		}, "targetUrls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			err := c.Start(tt.profile)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.False(t, c.Running())
			assert.Equal(t, stats.Snapshot{}, c.Snapshot())
		})
	}
}

func TestNoPhasesWrapsSchedulerError(t *testing.T) {
	err := New().Start(LoadProfile{Concurrency: 1})
	assert.ErrorIs(t, err, phase.ErrNoPhases)
}

// A 0.01 minute run stops itself after ~600ms.
func TestDurationTimerStopsRun(t *testing.T) {
	c := New()
	require.NoError(t, c.Start(LoadProfile{
		Concurrency:     3,
		DurationMinutes: 0.01,
		CPUIntensive:    true,
		Phases:          lowPhase(),
	}))

	time.Sleep(time.Second)

	select {
	case <-c.Done():
	default:
		t.Fatal("run still active after its duration")
	}

	s := c.Snapshot()
	assert.False(t, s.Running)
	assert.InDelta(t, 0.6, s.ElapsedSeconds, 0.15)
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, 0, s.ActiveWorkers)
	assert.Equal(t, "low", s.Phase)
	assert.Equal(t, 20, s.IntensityPercent)
	assert.Equal(t, 0.0, s.ErrorRatePercent)
}

// An unreachable target only raises the error count.
func TestUnreachableTargetCountsErrors(t *testing.T) {
	c := New()
	require.NoError(t, c.Start(LoadProfile{
		Concurrency:       2,
		DurationMinutes:   2.0 / 60,
		RequestsPerSecond: 10,
		TargetURLs:        []string{"http://127.0.0.1:1"},
		Phases:            lowPhase(),
	}))

	waitDone(t, c, 10*time.Second)

	s := c.Snapshot()
	assert.Greater(t, s.Errors, uint64(0))
	assert.Equal(t, uint64(0), s.CompletedRequests)
	assert.Equal(t, 0.0, s.ErrorRatePercent)
	assert.Equal(t, 0, s.ActiveWorkers)
}

// Concurrency above the cap spawns exactly MaxPoolSize workers.
func TestPoolSizeIsCapped(t *testing.T) {
	c := New()
	require.Equal(t, DefaultMaxPoolSize, c.MaxPoolSize())
	require.NoError(t, c.Start(LoadProfile{Concurrency: 100, Phases: lowPhase()}))
	defer c.Stop()

	s := c.Snapshot()
	assert.Equal(t, 5, s.Workers)
	assert.Equal(t, 5, s.ActiveWorkers)
	assert.True(t, s.Running)

	c2 := New(WithMaxPoolSize(2))
	require.NoError(t, c2.Start(LoadProfile{Concurrency: 1, Phases: lowPhase()}))
	defer c2.Stop()
	assert.Equal(t, 1, c2.Snapshot().Workers)
}

func TestStopIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	c := New(WithStopHook(func(stats.Snapshot) { calls.Add(1) }))

	c.Stop() // nothing started yet
	require.NoError(t, c.Start(LoadProfile{Concurrency: 2, CPUIntensive: true, Phases: lowPhase()}))

	c.Stop()
	first := c.Snapshot()
	c.Stop()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.ElapsedSeconds, c.Snapshot().ElapsedSeconds)
	assert.False(t, c.Running())
}

func TestConcurrentStops(t *testing.T) {
	var calls atomic.Int32
	c := New(WithStopHook(func(stats.Snapshot) { calls.Add(1) }))
	require.NoError(t, c.Start(LoadProfile{Concurrency: 3, CPUIntensive: true, Phases: lowPhase()}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()
	waitDone(t, c, 5*time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStopTerminatesBusyWorkersQuickly(t *testing.T) {
	c := New()
	require.NoError(t, c.Start(LoadProfile{
		Concurrency:     5,
		CPUIntensive:    true,
		MemoryIntensive: true,
		Phases:          []phase.Phase{{Name: "max", DurationMs: 1000, IntensityPercent: 100}},
	}))
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	c.Stop()
	assert.Less(t, time.Since(start), 3*time.Second)

	s := c.Snapshot()
	assert.Equal(t, 0, s.ActiveWorkers)
	assert.Equal(t, 0, s.BufferedChunks)

	ws := c.Workers()
	require.Len(t, ws, 5)
	for i, w := range ws {
		assert.Equal(t, i+1, w.ID)
		assert.Equal(t, StateTerminated, w.State)
		assert.Equal(t, "max", w.Phase)
		assert.Greater(t, w.Cycles, uint64(0))
	}
}

func TestStartWhileRunning(t *testing.T) {
	c := New()
	p := LoadProfile{Concurrency: 1, Phases: lowPhase()}
	require.NoError(t, c.Start(p))
	defer c.Stop()

	assert.ErrorIs(t, c.Start(p), ErrAlreadyRunning)
}

func TestRequestsAgainstTarget(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New()
	require.NoError(t, c.Start(LoadProfile{
		Concurrency:       2,
		RequestsPerSecond: 50,
		TargetURLs:        []string{srv.URL + "/a", srv.URL + "/b?id={{uuid}}"},
		Phases:            lowPhase(),
	}))
	time.Sleep(500 * time.Millisecond)
	c.Stop()

	s := c.Snapshot()
	assert.Greater(t, s.CompletedRequests, uint64(5))
	assert.Equal(t, uint64(0), s.Errors)
	assert.GreaterOrEqual(t, uint64(hits.Load()), s.CompletedRequests)
	assert.Greater(t, s.RequestsPerSecondObserved, 0.0)
	assert.Greater(t, s.LatencyMaxMs, 0.0)

	// per-worker pacing: 2 workers at 50/s each for ~0.5s
	assert.Less(t, s.CompletedRequests, uint64(100))
}

func TestNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New()
	require.NoError(t, c.Start(LoadProfile{
		Concurrency:       1,
		RequestsPerSecond: 100,
		TargetURLs:        []string{srv.URL},
		Phases:            lowPhase(),
	}))
	time.Sleep(300 * time.Millisecond)
	c.Stop()

	s := c.Snapshot()
	assert.Greater(t, s.Errors, uint64(0))
	assert.Equal(t, uint64(0), s.CompletedRequests)
}

func TestRestartResetsCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := New()
	p := LoadProfile{Concurrency: 1, RequestsPerSecond: 100, TargetURLs: []string{srv.URL}, Phases: lowPhase()}

	require.NoError(t, c.Start(p))
	time.Sleep(200 * time.Millisecond)
	c.Stop()
	first := c.Snapshot()
	require.Greater(t, first.CompletedRequests, uint64(0))

	require.NoError(t, c.Start(p))
	second := c.Snapshot()
	c.Stop()

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Less(t, second.ElapsedSeconds, first.ElapsedSeconds)
	assert.LessOrEqual(t, second.CompletedRequests, uint64(2))
}

func TestAllocationFailureEndsOnlyWorkers(t *testing.T) {
	c := New(WithUnitOptions(workload.WithAllocator(func(int) ([]float64, error) {
		return nil, errors.New("no memory")
	})))
	require.NoError(t, c.Start(LoadProfile{Concurrency: 3, MemoryIntensive: true, Phases: lowPhase()}))

	require.Eventually(t, func() bool {
		return c.Snapshot().ActiveWorkers == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, c.Running(), "controller survives worker failures")
	c.Stop()
	waitDone(t, c, time.Second)
}

func TestMemoryBufferTracksPhase(t *testing.T) {
	c := New(WithUnitOptions(workload.WithCapacity(10), workload.WithChunkSize(64)))
	require.NoError(t, c.Start(LoadProfile{
		Concurrency:     2,
		MemoryIntensive: true,
		Phases:          []phase.Phase{{Name: "half", DurationMs: 10_000, IntensityPercent: 50}},
	}))

	require.Eventually(t, func() bool {
		return c.Snapshot().BufferedChunks >= 8
	}, 2*time.Second, 5*time.Millisecond)

	s := c.Snapshot()
	assert.LessOrEqual(t, s.BufferedChunks, 2*6)
	assert.Equal(t, "half", s.Phase)

	c.Stop()
	assert.Equal(t, 0, c.Snapshot().BufferedChunks)
}

func TestProfileIsCopied(t *testing.T) {
	c := New()
	p := LoadProfile{Concurrency: 1, Phases: lowPhase()}
	require.NoError(t, c.Start(p))
	defer c.Stop()

	p.Phases[0].Name = "changed"
	assert.Equal(t, "low", c.Profile().Phases[0].Name)
	assert.Equal(t, "low", c.Snapshot().Phase)
}

func TestLoadProfileHelpers(t *testing.T) {
	p := LoadProfile{DurationMinutes: 0.5, RequestsPerSecond: 4}
	assert.Equal(t, 30*time.Second, p.Duration())
	assert.Equal(t, 250*time.Millisecond, p.RequestInterval())
	assert.False(t, p.NetworkEnabled())

	p.TargetURLs = []string{"http://x"}
	assert.True(t, p.NetworkEnabled())

	assert.Equal(t, time.Duration(0), LoadProfile{}.Duration())
	assert.Equal(t, "stopping", StateStopping.String())
}
