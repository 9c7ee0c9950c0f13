package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"loadphase/internal/banner"
	"loadphase/internal/cli"
	"loadphase/internal/logging"
	"loadphase/internal/runner"
	"loadphase/internal/stats"
	"loadphase/internal/sysmon"
	"loadphase/internal/telemetry"
	"loadphase/internal/tui"
)

const (
	envPrefix       = "LOADPHASE"
	dashboardTick   = 500 * time.Millisecond
	dashboardBuffer = 16
)

// NewRootCmd builds the command tree around its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "loadphase",
		Short: "loadphase - phased synthetic load generator",
		Long: `
loadphase drives CPU, memory and optional HTTP load through a repeating
cycle of phases (by default low-start 1m at 20%, high-load 3m at 75%,
low-end 1m at 20%).

Interactive terminals get a live dashboard; otherwise statistics are
printed every --stats-interval.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(cmd, v)
		},
	}

	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), banner.GetString())
		_ = cmd.Usage()
	})

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.loadphase.yaml)")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	root.PersistentFlags().String("log-file", "", "Log destination; the dashboard only logs when this is set")

	f := root.Flags()
	f.IntP("concurrency", "c", 1, "Requested workers (capped by --max-workers)")
	f.Float64P("duration", "d", 0, "Run length in minutes, 0 runs until interrupted")
	f.Float64P("rps", "r", 0, "Target requests per second per worker")
	f.StringArrayP("url", "u", nil, "Target URL, repeatable; templates like {{uuid}} are rendered per request")
	f.Bool("cpu", false, "Enable CPU (matrix multiplication) load")
	f.Bool("memory", false, "Enable memory (retained buffer) load")
	f.StringArrayP("phase", "p", nil, `Phase as name:duration:intensity, repeatable (e.g. "warm:30s:40")`)
	f.Int("max-workers", runner.DefaultMaxPoolSize, "Worker cap regardless of concurrency")
	f.Duration("stats-interval", stats.DefaultInterval, "Headless statistics interval")
	f.Duration("request-timeout", runner.DefaultRequestTimeout, "Per request timeout")
	f.Bool("headless", false, "Print statistics instead of the dashboard")
	f.String("otel-exporter", string(telemetry.ExporterNone), "Push metrics exporter (none, stdout, otlp-grpc, otlp-http)")
	f.String("otel-endpoint", "", "OTLP collector endpoint, e.g. localhost:4317")
	f.Bool("otel-insecure", false, "Disable TLS for the OTLP exporter")

	root.AddCommand(newServeCmd(v), newDummyCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".loadphase")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger(v *viper.Viper, dashboard bool) (*zap.SugaredLogger, error) {
	path := v.GetString("log-file")
	if dashboard && path == "" {
		return logging.Nop(), nil
	}
	return logging.New(v.GetString("log-level"), v.GetString("log-format"), path)
}

func newController(v *viper.Viper, log *zap.SugaredLogger) *runner.Controller {
	return runner.New(
		runner.WithLogger(log),
		runner.WithMaxPoolSize(v.GetInt("max-workers")),
		runner.WithRequestTimeout(v.GetDuration("request-timeout")),
	)
}

func startTelemetry(ctx context.Context, v *viper.Viper, source telemetry.Source) (*telemetry.Metrics, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ExporterType = telemetry.ExporterType(v.GetString("otel-exporter"))
	cfg.Endpoint = v.GetString("otel-endpoint")
	cfg.Insecure = v.GetBool("otel-insecure")
	return telemetry.New(ctx, cfg, source)
}

func runProfile(cmd *cobra.Command, v *viper.Viper) error {
	profile, err := profileFromConfig(v)
	if err != nil {
		return err
	}

	headless := v.GetBool("headless") || !isatty.IsTerminal(os.Stdout.Fd())
	log, err := newLogger(v, !headless)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := newController(v, log)

	tel, err := startTelemetry(ctx, v, ctrl.Snapshot)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warnw("telemetry shutdown failed", "err", err)
		}
	}()

	sampler, err := sysmon.NewSampler()
	if err != nil {
		log.Warnw("process sampling unavailable", "err", err)
	}
	var ps stats.ProcessSampler
	if sampler != nil {
		ps = sampler
	}

	if headless {
		_, err := cli.Run(ctx, ctrl, profile, cli.Options{
			Out:      cmd.OutOrStdout(),
			Interval: v.GetDuration("stats-interval"),
			Sampler:  ps,
			Log:      log,
		})
		return err
	}
	return runDashboard(ctx, cmd, ctrl, profile, ps, log)
}

func runDashboard(ctx context.Context, cmd *cobra.Command, ctrl *runner.Controller, profile runner.LoadProfile,
	sampler stats.ProcessSampler, log *zap.SugaredLogger) error {
	if err := ctrl.Start(profile); err != nil {
		return err
	}

	updates := make(stats.ChanSink, dashboardBuffer)
	reporter := &stats.Reporter{
		Source:   ctrl.Snapshot,
		Interval: dashboardTick,
		Sampler:  sampler,
		Sinks:    []stats.Sink{updates},
		Log:      log,
	}
	repCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	reporter.Start(repCtx)

	// SIGTERM while the dashboard owns the terminal
	go func() {
		select {
		case <-ctx.Done():
			ctrl.Stop()
		case <-ctrl.Done():
		}
	}()

	final, err := tui.Run(ctrl, updates)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), stats.Format(final))
	return nil
}
