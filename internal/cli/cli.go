// Package cli runs a load profile without a terminal UI, printing periodic
// statistics blocks and a final summary.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"loadphase/internal/runner"
	"loadphase/internal/stats"
)

const rule = "======================================================================"

// Controller is what a headless run needs from runner.Controller.
type Controller interface {
	Start(runner.LoadProfile) error
	Stop()
	Snapshot() stats.Snapshot
	Done() <-chan struct{}
	MaxPoolSize() int
}

type Options struct {
	Out      io.Writer
	Interval time.Duration
	Sampler  stats.ProcessSampler
	Log      *zap.SugaredLogger
	// Sinks receive every periodic snapshot in addition to Out.
	Sinks    []stats.Sink
}

// Run starts profile on ctrl and blocks until the run ends by itself or ctx
// is cancelled, in which case the run is stopped. It returns the final
// snapshot.
func Run(ctx context.Context, ctrl Controller, profile runner.LoadProfile, opts Options) (stats.Snapshot, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	printHeader(opts.Out, profile, ctrl.MaxPoolSize())

	if err := ctrl.Start(profile); err != nil {
		return stats.Snapshot{}, err
	}

	reporter := &stats.Reporter{
		Source:   ctrl.Snapshot,
		Interval: opts.Interval,
		Sampler:  opts.Sampler,
		Sinks:    append([]stats.Sink{stats.WriterSink{W: opts.Out}, stats.LogSink{Log: opts.Log}}, opts.Sinks...),
		Log:      opts.Log,
	}
	repCtx, cancel := context.WithCancel(ctx)
	reporter.Start(repCtx)

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		opts.Log.Infow("interrupted, stopping run")
		ctrl.Stop()
	}
	cancel()

	final := reporter.Snapshot()
	printSummary(opts.Out, final)
	return final, nil
}

func printHeader(w io.Writer, p runner.LoadProfile, maxWorkers int) {
	duration := "until stopped"
	if d := p.Duration(); d > 0 {
		duration = d.String()
	}
	names := make([]string, 0, len(p.Phases))
	for _, ph := range p.Phases {
		names = append(names, ph.String())
	}

	fmt.Fprintf(w, "\n🚀 STARTING LOADPHASE RUN\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Workers    : %d (requested %d, cap %d)\n", min(p.Concurrency, maxWorkers), p.Concurrency, maxWorkers)
	fmt.Fprintf(w, "Duration   : %s\n", duration)
	fmt.Fprintf(w, "CPU / Mem  : %t / %t\n", p.CPUIntensive, p.MemoryIntensive)
	if p.NetworkEnabled() {
		fmt.Fprintf(w, "Network    : %.1f req/s per worker across %d url(s)\n", p.RequestsPerSecond, len(p.TargetURLs))
	} else {
		fmt.Fprintf(w, "Network    : off\n")
	}
	fmt.Fprintf(w, "Phases     : %s\n", strings.Join(names, " -> "))
	fmt.Fprintln(w, rule)
}

func printSummary(w io.Writer, s stats.Snapshot) {
	fmt.Fprintf(w, "\n\n📊 LOAD RUN RESULTS\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Run ID         : %s\n", s.RunID)
	fmt.Fprintf(w, "Total Duration : %s\n", (time.Duration(s.ElapsedSeconds * float64(time.Second))).Round(time.Millisecond))
	fmt.Fprintf(w, "Last Phase     : %s (%d%%)\n", s.Phase, s.IntensityPercent)
	fmt.Fprintf(w, "Completed      : %d\n", s.CompletedRequests)
	fmt.Fprintf(w, "Errors         : %d\n", s.Errors)
	fmt.Fprintf(w, "Actual RPS     : %.2f\n", s.RequestsPerSecondObserved)
	fmt.Fprintf(w, "Error Rate     : %.2f%%\n", s.ErrorRatePercent)
	if s.CompletedRequests > 0 {
		fmt.Fprintf(w, "\n⏱️  RESPONSE TIMES (ms)\n")
		fmt.Fprintf(w, "   P50 : %.2f\n", s.LatencyP50Ms)
		fmt.Fprintf(w, "   P90 : %.2f\n", s.LatencyP90Ms)
		fmt.Fprintf(w, "   P99 : %.2f\n", s.LatencyP99Ms)
		fmt.Fprintf(w, "   Max : %.2f\n", s.LatencyMaxMs)
	}
	if s.Workers > 0 && s.ActiveWorkers == 0 && s.Running {
		fmt.Fprintf(w, "\n❌ all %d workers exited early\n", s.Workers)
	}
	fmt.Fprintln(w, rule)
}
