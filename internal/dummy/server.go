// Package dummy is a sample target service with predictable latency and
// failure profiles, handy for trying out network mode locally.
package dummy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type ServerConfig struct {
	Port  int
	// Sleep replaces time.Sleep in handlers; tests use it to skip the latency.
	Sleep func(context.Context, time.Duration)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func jitter(base, spread int) time.Duration {
	return time.Duration(rand.Intn(spread)+base) * time.Millisecond
}

// Handler serves the sample endpoints.
func Handler(cfg ServerConfig) http.Handler {
	wait := cfg.Sleep
	if wait == nil {
		wait = sleep
	}
	reply := func(w http.ResponseWriter, code int, body string) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}

	mux := http.NewServeMux()

	// 10-50ms
	mux.HandleFunc("GET /fast", func(w http.ResponseWriter, r *http.Request) {
		wait(r.Context(), jitter(10, 40))
		reply(w, http.StatusOK, "Fast response")
	})

	// 100-300ms
	mux.HandleFunc("GET /medium", func(w http.ResponseWriter, r *http.Request) {
		wait(r.Context(), jitter(100, 200))
		reply(w, http.StatusOK, "Medium response")
	})

	// 1-2s, long enough to exercise request timeouts
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		wait(r.Context(), jitter(1000, 1000))
		reply(w, http.StatusOK, "Slow response")
	})

	// Usually fast, 5% of requests take 2s. P50 stays low while P99 explodes.
	mux.HandleFunc("GET /spike", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float32() < 0.05 {
			wait(r.Context(), 2*time.Second)
		} else {
			wait(r.Context(), 20*time.Millisecond)
		}
		reply(w, http.StatusOK, "Spikey response")
	})

	// 20% 500, 20% 429, rest OK
	mux.HandleFunc("GET /error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		switch {
		case rnd < 0.2:
			reply(w, http.StatusInternalServerError, "500 Internal Server Error")
		case rnd < 0.4:
			reply(w, http.StatusTooManyRequests, "429 Too Many Requests")
		default:
			reply(w, http.StatusOK, "OK")
		}
	})

	mux.HandleFunc("GET /status/{code}", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.PathValue("code"))
		if err != nil || code < 100 || code > 599 {
			reply(w, http.StatusBadRequest, "invalid status code")
			return
		}
		reply(w, code, http.StatusText(code))
	})

	return mux
}

// Start serves Handler on cfg.Port until ctx is cancelled.
func Start(ctx context.Context, cfg ServerConfig, log *zap.SugaredLogger) error {
	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infow("dummy server running",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/fast", "/medium", "/slow", "/spike", "/error", "/status/{code}"},
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
