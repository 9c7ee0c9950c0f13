// Package control serves an HTTP API for starting, stopping and watching
// load runs on a long-lived generator.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"loadphase/internal/phase"
	"loadphase/internal/runner"
	"loadphase/internal/stats"
)

const maxBodyBytes = 1 << 20

// Controller is the part of runner.Controller the API drives.
type Controller interface {
	Start(runner.LoadProfile) error
	Stop()
	Snapshot() stats.Snapshot
	Running() bool
	Profile() runner.LoadProfile
	Workers() []runner.WorkerStatus
}

type Server struct {
	ctrl     Controller
	gatherer prometheus.Gatherer
	log      *zap.SugaredLogger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New returns a server for ctrl. A nil gatherer leaves /metrics unmounted.
func New(ctrl Controller, gatherer prometheus.Gatherer, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{ctrl: ctrl, gatherer: gatherer, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("POST /v1/stop", s.handleStop)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/profile", s.handleProfile)
	mux.HandleFunc("GET /v1/workers", s.handleWorkers)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Infow("control server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Addr is the bound listener address once Serve has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type RunResponse struct {
	RunID   string             `json:"runId"`
	Workers int                `json:"workers"`
	Profile runner.LoadProfile `json:"profile"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type WorkerView struct {
	ID               int    `json:"id"`
	State            string `json:"state"`
	Phase            string `json:"phase"`
	IntensityPercent int    `json:"intensity"`
	BufferChunks     int    `json:"bufferChunks"`
	Cycles           uint64 `json:"cycles"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})
		return
	}

	var p runner.LoadProfile
	if err := json.Unmarshal(body, &p); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: "decode profile: " + err.Error()})
		return
	}
	if p.Phases == nil {
		p.Phases = phase.DefaultPhases()
	}

	if err := s.ctrl.Start(p); err != nil {
		var cfgErr *runner.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			s.writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: cfgErr.Field})
		case errors.Is(err, runner.ErrAlreadyRunning):
			s.writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
		default:
			s.log.Errorw("start run failed", "err", err)
			s.writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		}
		return
	}

	snap := s.ctrl.Snapshot()
	s.log.Infow("run started via api", "run", snap.RunID, "remote", r.RemoteAddr)
	s.writeJSON(w, http.StatusAccepted, RunResponse{
		RunID:   snap.RunID,
		Workers: snap.Workers,
		Profile: s.ctrl.Profile(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if s.ctrl.Snapshot().RunID == "" {
		s.writeError(w, http.StatusNotFound, ErrorResponse{Error: "no run has been started"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Profile())
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	statuses := s.ctrl.Workers()
	out := make([]WorkerView, 0, len(statuses))
	for _, st := range statuses {
		v := WorkerView{
			ID:               st.ID,
			State:            st.State.String(),
			Phase:            st.Phase,
			IntensityPercent: st.IntensityPercent,
			BufferChunks:     st.BufferChunks,
			Cycles:           st.Cycles,
		}
		if st.Err != nil {
			v.Error = st.Err.Error()
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.ctrl.Running()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debugw("write response failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	s.writeJSON(w, status, resp)
}
