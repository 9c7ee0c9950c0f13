package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadphase/internal/stats"
)

func TestCollectorExposesSnapshot(t *testing.T) {
	snap := stats.Snapshot{
		RunID:             "abc",
		Running:           true,
		CompletedRequests: 10,
		Errors:            2,
		ErrorRatePercent:  20,
		Phase:             "low-start",
		IntensityPercent:  20,
		Workers:           5,
		ActiveWorkers:     4,
		BufferedChunks:    7,
	}
	c := NewCollector(func() stats.Snapshot { return snap })

	expected := `
# HELP loadphase_requests_completed_total Requests that returned a 2xx response.
# TYPE loadphase_requests_completed_total counter
loadphase_requests_completed_total{run_id="abc"} 10
# HELP loadphase_requests_errors_total Requests that failed or returned a non-2xx status.
# TYPE loadphase_requests_errors_total counter
loadphase_requests_errors_total{run_id="abc"} 2
# HELP loadphase_phase_intensity_percent Target intensity of the current phase.
# TYPE loadphase_phase_intensity_percent gauge
loadphase_phase_intensity_percent{phase="low-start",run_id="abc"} 20
# HELP loadphase_workers_active Workers that have not exited.
# TYPE loadphase_workers_active gauge
loadphase_workers_active{run_id="abc"} 4
# HELP loadphase_running 1 while a run is active.
# TYPE loadphase_running gauge
loadphase_running{run_id="abc"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"loadphase_requests_completed_total",
		"loadphase_requests_errors_total",
		"loadphase_phase_intensity_percent",
		"loadphase_workers_active",
		"loadphase_running",
	)
	require.NoError(t, err)

	// ten single series plus four latency quantiles
	assert.Equal(t, 14, testutil.CollectAndCount(c))
}

func TestCollectorWithoutRun(t *testing.T) {
	c := NewCollector(func() stats.Snapshot { return stats.Snapshot{} })
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestRegistryGathers(t *testing.T) {
	reg := NewRegistry(func() stats.Snapshot { return stats.Snapshot{RunID: "r"} })

	n, err := testutil.GatherAndCount(reg, "loadphase_workers", "loadphase_memory_chunks")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
