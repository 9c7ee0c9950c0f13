package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadphase/internal/metrics"
	"loadphase/internal/phase"
	"loadphase/internal/runner"
	"loadphase/internal/stats"
)

type fakeController struct {
	mu       sync.Mutex
	startErr error
	started  []runner.LoadProfile
	stops    int
	snap     stats.Snapshot
	workers  []runner.WorkerStatus
}

func (f *fakeController) Start(p runner.LoadProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, p)
	f.snap = stats.Snapshot{RunID: "run-1", Running: true, Workers: min(p.Concurrency, 5)}
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.snap.Running = false
}

func (f *fakeController) Snapshot() stats.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Running() bool { return f.Snapshot().Running }

func (f *fakeController) Profile() runner.LoadProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.started) == 0 {
		return runner.LoadProfile{}
	}
	return f.started[len(f.started)-1]
}

func (f *fakeController) Workers() []runner.WorkerStatus { return f.workers }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunAccepted(t *testing.T) {
	fc := &fakeController{}
	h := New(fc, nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/v1/run",
		`{"concurrency": 10, "durationMinutes": 1, "cpuIntensive": true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 5, resp.Workers)

	require.Len(t, fc.started, 1)
	assert.Equal(t, 10, fc.started[0].Concurrency)
	assert.True(t, fc.started[0].CPUIntensive)
	assert.Equal(t, phase.DefaultPhases(), fc.started[0].Phases, "omitted phases use the default cycle")
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		field  string
	}{
		{"malformed json", nil, `{"concurrency":`, http.StatusBadRequest, ""},
		{"config error", &runner.ConfigError{Field: "concurrency", Reason: "must be greater than zero"},
			`{"concurrency": 0}`, http.StatusBadRequest, "concurrency"},
		{"already running", runner.ErrAlreadyRunning, `{"concurrency": 1}`, http.StatusConflict, ""},
		{"unexpected", errors.New("boom"), `{"concurrency": 1}`, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(&fakeController{startErr: tt.err}, nil, nil).Handler()
			rec := do(t, h, http.MethodPost, "/v1/run", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
}

func TestStopReturnsFinalSnapshot(t *testing.T) {
	fc := &fakeController{snap: stats.Snapshot{RunID: "r", Running: true, CompletedRequests: 9}}
	h := New(fc, nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/v1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var s stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.False(t, s.Running)
	assert.Equal(t, uint64(9), s.CompletedRequests)
	assert.Equal(t, 1, fc.stops)
}

func TestStatsAndHealth(t *testing.T) {
	fc := &fakeController{snap: stats.Snapshot{RunID: "r", Running: true, Phase: "high-load", IntensityPercent: 75}}
	h := New(fc, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var s stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, "high-load", s.Phase)
	assert.Equal(t, 75, s.IntensityPercent)

	rec = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","running":true}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h := New(&fakeController{}, nil, nil).Handler()
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/v1/run", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/v1/stats", "").Code)
}

func TestProfileAndWorkers(t *testing.T) {
	fc := &fakeController{}
	h := New(fc, nil, nil).Handler()

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/profile", "").Code)

	require.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/v1/run",
		`{"concurrency": 2, "phases": [{"name": "flat", "duration_ms": 1000, "intensity": 40}]}`).Code)

	rec := do(t, h, http.MethodGet, "/v1/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p runner.LoadProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, []phase.Phase{{Name: "flat", DurationMs: 1000, IntensityPercent: 40}}, p.Phases)

	fc.workers = []runner.WorkerStatus{
		{ID: 1, State: runner.StateRunning, Phase: "flat", IntensityPercent: 40, Cycles: 3},
		{ID: 2, State: runner.StateTerminated, Err: errors.New("allocation failed")},
	}
	rec = do(t, h, http.MethodGet, "/v1/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ws []WorkerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	require.Len(t, ws, 2)
	assert.Equal(t, "running", ws[0].State)
	assert.Equal(t, "terminated", ws[1].State)
	assert.Equal(t, "allocation failed", ws[1].Error)
}

func TestMetricsEndpoint(t *testing.T) {
	fc := &fakeController{snap: stats.Snapshot{RunID: "r1", CompletedRequests: 3}}
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(fc.Snapshot))
	h := New(fc, reg, nil).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `loadphase_requests_completed_total{run_id="r1"} 3`)

	noMetrics := New(fc, nil, nil).Handler()
	assert.Equal(t, http.StatusNotFound, do(t, noMetrics, http.MethodGet, "/metrics", "").Code)
}

func TestServeWithController(t *testing.T) {
	ctrl := runner.New()
	srv := New(ctrl, metrics.NewRegistry(ctrl.Snapshot), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	base := fmt.Sprintf("http://%s", srv.Addr())

	resp, err := http.Post(base+"/v1/run", "application/json",
		strings.NewReader(`{"concurrency": 2, "phases": [{"name": "low", "duration_ms": 500, "intensity": 20}]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(base+"/v1/run", "application/json", strings.NewReader(`{"concurrency": 2}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(base+"/v1/stop", "application/json", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	var s stats.Snapshot
	require.NoError(t, json.Unmarshal(body, &s))
	assert.False(t, s.Running)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, 0, s.ActiveWorkers)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
