package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loadphase/internal/control"
	"loadphase/internal/metrics"
	"loadphase/internal/runner"
	"loadphase/internal/telemetry"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API and Prometheus metrics",
		Long: `Runs loadphase as a long lived service. Runs are started with
POST /v1/run (a JSON load profile) and stopped with POST /v1/stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(v, false)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl := newController(v, log)
			defer ctrl.Stop()

			tel, err := startTelemetry(ctx, v, ctrl.Snapshot)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			srv := control.New(ctrl, metrics.NewRegistry(ctrl.Snapshot), log)
			return srv.Serve(ctx, v.GetString("listen"))
		},
	}

	f := cmd.Flags()
	f.String("listen", ":9090", "Address of the control API")
	f.Int("max-workers", runner.DefaultMaxPoolSize, "Worker cap regardless of requested concurrency")
	f.Duration("request-timeout", runner.DefaultRequestTimeout, "Per request timeout")
	f.String("otel-exporter", string(telemetry.ExporterNone), "Push metrics exporter (none, stdout, otlp-grpc, otlp-http)")
	f.String("otel-endpoint", "", "OTLP collector endpoint")
	f.Bool("otel-insecure", false, "Disable TLS for the OTLP exporter")
	return cmd
}
