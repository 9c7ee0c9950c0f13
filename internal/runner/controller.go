package runner

import (
	"context"
	"crypto/tls"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loadphase/internal/phase"
	"loadphase/internal/stats"
	"loadphase/internal/target"
	"loadphase/internal/workload"
)

const (
	DefaultMaxPoolSize    = 5
	DefaultRequestTimeout = 5 * time.Second
	DefaultStopTimeout    = 10 * time.Second

	statusBuffer = 256
)

type Option func(*Controller)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMaxPoolSize caps the number of workers regardless of concurrency.
func WithMaxPoolSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxPoolSize = n
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) { c.client = hc }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for workers to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stopTimeout = d
		}
	}
}

// WithStopHook registers fn to receive the final snapshot of every run.
func WithStopHook(fn func(stats.Snapshot)) Option {
	return func(c *Controller) { c.stopHooks = append(c.stopHooks, fn) }
}

func WithUnitOptions(opts ...workload.Option) Option {
	return func(c *Controller) { c.unitOpts = append(c.unitOpts, opts...) }
}

// Controller owns the lifecycle of load runs. One run is active at a time;
// each Start begins with fresh counters.
type Controller struct {
	log            *zap.SugaredLogger
	client         *http.Client
	maxPoolSize    int
	requestTimeout time.Duration
	stopTimeout    time.Duration
	unitOpts       []workload.Option
	stopHooks      []func(stats.Snapshot)

	mu  sync.Mutex
	run *run
}

func New(opts ...Option) *Controller {
	c := &Controller{
		log:            zap.NewNop().Sugar(),
		maxPoolSize:    DefaultMaxPoolSize,
		requestTimeout: DefaultRequestTimeout,
		stopTimeout:    DefaultStopTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.client == nil {
		c.client = newHTTPClient(c.requestTimeout)
	}
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 100
	t.MaxIdleConnsPerHost = 100
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &http.Client{
		Timeout:   timeout,
		Transport: t,
	}
}

// MaxPoolSize is the worker cap applied to every run.
func (c *Controller) MaxPoolSize() int { return c.maxPoolSize }

// run is the state of one Start..Stop cycle.
type run struct {
	id       string
	profile  LoadProfile
	sched    *phase.Scheduler
	counters *stats.Counters
	pool     *Pool
	cancel   context.CancelFunc
	timer    *time.Timer
	state    State // guarded by Controller.mu
	done     chan struct{}
	quit     chan struct{}
	chunks   atomic.Int64

	statusCh chan WorkerStatus
	statusMu sync.RWMutex
	statuses map[int]WorkerStatus
}

// aggregate is the single reader of worker status messages.
func (r *run) aggregate() {
	for {
		select {
		case st := <-r.statusCh:
			r.record(st)
		case <-r.quit:
			for {
				select {
				case st := <-r.statusCh:
					r.record(st)
				default:
					return
				}
			}
		}
	}
}

func (r *run) record(st WorkerStatus) {
	r.statusMu.Lock()
	r.statuses[st.ID] = st
	r.statusMu.Unlock()
}

func (r *run) workers() []WorkerStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()

	out := make([]WorkerStatus, 0, len(r.statuses))
	for _, st := range r.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *run) snapshot(running bool, now time.Time) stats.Snapshot {
	s := stats.Snapshot{
		RunID:          r.id,
		Running:        running,
		Workers:        r.pool.Size(),
		ActiveWorkers:  r.pool.Active(),
		BufferedChunks: int(r.chunks.Load()),
	}
	r.counters.Fill(&s, now)
	s.Phase, s.IntensityPercent = r.sched.CurrentTarget(uint64(r.counters.Elapsed(now).Milliseconds()))
	return s
}

// validate turns a profile into the scheduler and picker a run needs.
func validate(p LoadProfile) (*phase.Scheduler, *target.Picker, error) {
	if p.Concurrency <= 0 {
		return nil, nil, &ConfigError{Field: "concurrency", Reason: "must be greater than zero"}
	}
	if p.RequestsPerSecond < 0 {
		return nil, nil, &ConfigError{Field: "requestsPerSecond", Reason: "must not be negative"}
	}
	if p.RequestsPerSecond > 0 && len(p.TargetURLs) == 0 {
		return nil, nil, &ConfigError{Field: "targetUrls", Reason: "required when requestsPerSecond is set"}
	}

	sched, err := phase.NewScheduler(p.Phases)
	if err != nil {
		return nil, nil, &ConfigError{Field: "phases", Reason: "invalid phase cycle", Err: err}
	}

	var picker *target.Picker
	if p.NetworkEnabled() {
		picker, err = target.NewPicker(p.TargetURLs)
		if err != nil {
			return nil, nil, &ConfigError{Field: "targetUrls", Reason: "invalid url", Err: err}
		}
	}
	return sched, picker, nil
}

// Start validates profile and launches min(Concurrency, MaxPoolSize)
// workers. It returns a *ConfigError for an invalid profile and
// ErrAlreadyRunning while another run is active.
func (c *Controller) Start(profile LoadProfile) error {
	profile = profile.clone()
	sched, picker, err := validate(profile)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil && c.run.state != StateTerminated {
		return ErrAlreadyRunning
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       uuid.New().String(),
		profile:  profile,
		sched:    sched,
		counters: stats.NewCounters(now),
		pool:     NewPool(min(profile.Concurrency, c.maxPoolSize)),
		cancel:   cancel,
		state:    StateRunning,
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
		statusCh: make(chan WorkerStatus, statusBuffer),
		statuses: make(map[int]WorkerStatus),
	}

	env := &workerEnv{
		profile:  profile,
		sched:    sched,
		unit:     workload.NewUnit(c.unitOpts...),
		picker:   picker,
		client:   c.client,
		counters: r.counters,
		chunks:   &r.chunks,
		start:    now,
		status:   r.statusCh,
		log:      c.log.With("run", r.id),
	}

	go r.aggregate()
	r.pool.Start(ctx, func(ctx context.Context, id int) error {
		w := &worker{id: id}
		return w.run(ctx, env)
	})

	if d := profile.Duration(); d > 0 {
		r.timer = time.AfterFunc(d, func() { c.stopRun(r) })
	}
	c.run = r

	c.log.Infow("load run started",
		"run", r.id,
		"workers", r.pool.Size(),
		"requested_concurrency", profile.Concurrency,
		"duration", profile.Duration(),
		"cycle", sched.CycleLength(),
		"cpu", profile.CPUIntensive,
		"memory", profile.MemoryIntensive,
		"rps", profile.RequestsPerSecond,
		"targets", len(profile.TargetURLs),
	)
	return nil
}

// Stop ends the current run and waits, bounded by the stop timeout, for
// its workers to exit. Stopping an idle or stopped controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r != nil {
		c.stopRun(r)
	}
}

func (c *Controller) stopRun(r *run) {
	c.mu.Lock()
	if r.state != StateRunning {
		c.mu.Unlock()
		return
	}
	r.state = StateStopping
	if r.timer != nil {
		r.timer.Stop()
	}
	c.mu.Unlock()

	r.counters.MarkStopped(time.Now())
	r.cancel()

	if !r.pool.Wait(c.stopTimeout) {
		c.log.Warnw("workers did not exit in time", "run", r.id,
			"active", r.pool.Active(), "timeout", c.stopTimeout)
	} else if err := r.pool.Err(); err != nil {
		c.log.Warnw("run had failed workers", "run", r.id, "err", err)
	}
	close(r.quit)

	c.mu.Lock()
	r.state = StateTerminated
	c.mu.Unlock()

	final := r.snapshot(false, time.Now())
	c.log.Infow("load run stopped",
		"run", r.id,
		"elapsed_s", final.ElapsedSeconds,
		"completed", final.CompletedRequests,
		"errors", final.Errors,
	)
	for _, h := range c.stopHooks {
		h(final)
	}
	close(r.done)
}

// Snapshot reads the counters of the current or most recent run.
func (c *Controller) Snapshot() stats.Snapshot {
	c.mu.Lock()
	r := c.run
	running := r != nil && r.state == StateRunning
	c.mu.Unlock()

	if r == nil {
		return stats.Snapshot{}
	}
	return r.snapshot(running, time.Now())
}

// Done is closed once the current run has fully stopped.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.run.done
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run != nil && c.run.state == StateRunning
}

// Profile returns the profile of the current or most recent run.
func (c *Controller) Profile() LoadProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return LoadProfile{}
	}
	return c.run.profile.clone()
}

// Workers returns the last status posted by each worker of the current or
// most recent run, ordered by id.
func (c *Controller) Workers() []WorkerStatus {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.workers()
}
