package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"loadphase/internal/phase"
	"loadphase/internal/stats"
	"loadphase/internal/target"
	"loadphase/internal/workload"
)

// idleWait keeps a worker with nothing to do from spinning.
const idleWait = 10 * time.Millisecond

// workerEnv is the read-only environment shared by the workers of a run.
type workerEnv struct {
	profile  LoadProfile
	sched    *phase.Scheduler
	unit     *workload.Unit
	picker   *target.Picker // nil when network mode is off
	client   *http.Client
	counters *stats.Counters
	chunks   *atomic.Int64 // retained chunks across all workers
	start    time.Time
	status   chan<- WorkerStatus
	log      *zap.SugaredLogger
}

func (e *workerEnv) post(s WorkerStatus) {
	select {
	case e.status <- s:
	default:
	}
}

// worker owns its memory buffer; nothing else touches it.
type worker struct {
	id     int
	state  State
	buffer workload.Buffer
	cycles uint64
	phase  string
	pct    int

	reported int // chunks already added to workerEnv.chunks
}

func (w *worker) status() WorkerStatus {
	return WorkerStatus{
		ID:               w.id,
		State:            w.state,
		Phase:            w.phase,
		IntensityPercent: w.pct,
		BufferChunks:     w.buffer.Len(),
		Cycles:           w.cycles,
	}
}

// run loops until ctx is cancelled or an allocation fails.
func (w *worker) run(ctx context.Context, env *workerEnv) (err error) {
	w.state = StateRunning
	env.log.Debugw("worker started", "worker", w.id)

	defer func() {
		w.buffer.Release()
		w.reportChunks(env, 0)
		w.state = StateTerminated
		st := w.status()
		st.Err = err
		env.post(st)
		env.log.Debugw("worker terminated", "worker", w.id, "cycles", w.cycles)
	}()

	for {
		if ctx.Err() != nil {
			w.state = StateStopping
			return nil
		}

		elapsed := time.Since(env.start)
		w.phase, w.pct = env.sched.CurrentTarget(uint64(elapsed.Milliseconds()))

		res, err := env.unit.RunCycle(w.pct, env.profile.CPUIntensive, env.profile.MemoryIntensive, &w.buffer)
		w.cycles++
		w.reportChunks(env, res.BufferChunks)
		if err != nil {
			env.log.Errorw("worker failed, continuing with reduced concurrency",
				"worker", w.id, "phase", w.phase, "err", err)
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		if env.picker != nil {
			w.request(ctx, env)
		} else if !res.CPUWorkDone && !env.profile.MemoryIntensive {
			sleepCtx(ctx, idleWait)
		}

		env.post(w.status())
	}
}

func (w *worker) reportChunks(env *workerEnv, n int) {
	if n != w.reported {
		env.chunks.Add(int64(n - w.reported))
		w.reported = n
	}
}

// request sends one GET and paces the worker to the configured rate.
func (w *worker) request(ctx context.Context, env *workerEnv) {
	took, err := doRequest(ctx, env)
	switch {
	case err == nil:
		env.counters.AddCompleted(took)
	case ctx.Err() != nil:
		// aborted by Stop
		return
	default:
		env.counters.AddError()
		env.log.Debugw("request failed", "worker", w.id, "err", err)
	}

	sleepCtx(ctx, env.profile.RequestInterval()-took)
}

func doRequest(ctx context.Context, env *workerEnv) (time.Duration, error) {
	url, err := env.picker.Pick()
	if err != nil {
		return 0, &RequestError{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &RequestError{URL: url, Err: err}
	}

	start := time.Now()
	resp, err := env.client.Do(req)
	if err != nil {
		return time.Since(start), &RequestError{URL: url, Err: err}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	took := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return took, &RequestError{URL: url, StatusCode: resp.StatusCode}
	}
	return took, nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
