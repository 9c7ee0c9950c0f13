// Package telemetry pushes run statistics through OpenTelemetry metrics.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"loadphase/internal/stats"
)

type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

const meterName = "loadphase"

type Config struct {
	ServiceName    string
	ServiceVersion string
	ExporterType   ExporterType
	// Endpoint is the collector address for the OTLP exporters, e.g. "localhost:4317".
	Endpoint       string
	Insecure       bool
}

func DefaultConfig() Config {
	return Config{
		ServiceName:  "loadphase",
		ExporterType: ExporterNone,
	}
}

// Source returns the statistics observed at collection time.
type Source func() stats.Snapshot

// Metrics exposes a run's snapshot as observable instruments. Values are
// read from the source on every collection; nothing is recorded eagerly.
type Metrics struct {
	cfg      Config
	provider *sdkmetric.MeterProvider
	reg      metric.Registration
}

// New builds the exporter selected by cfg. ExporterNone yields a provider
// without readers, so callbacks never run.
func New(ctx context.Context, cfg Config, source Source) (*Metrics, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}
	if cfg.ExporterType == "" || cfg.ExporterType == ExporterNone {
		return newMetrics(cfg, nil, source)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics exporter: %w", err)
	}
	return newMetrics(cfg, sdkmetric.NewPeriodicReader(exporter), source)
}

func newExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		var opts []otlpmetricgrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		var opts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
}

func newMetrics(cfg Config, reader sdkmetric.Reader, source Source) (*Metrics, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	m := &Metrics{cfg: cfg, provider: sdkmetric.NewMeterProvider(opts...)}

	if err := m.register(source); err != nil {
		_ = m.provider.Shutdown(context.Background())
		return nil, fmt.Errorf("register instruments: %w", err)
	}
	return m, nil
}

func (m *Metrics) register(source Source) error {
	meter := m.provider.Meter(meterName)

	completed, err := meter.Int64ObservableCounter("loadphase.requests.completed",
		metric.WithDescription("Requests that returned a 2xx response"))
	if err != nil {
		return err
	}
	errs, err := meter.Int64ObservableCounter("loadphase.requests.errors",
		metric.WithDescription("Requests that failed or returned a non-2xx status"))
	if err != nil {
		return err
	}
	rps, err := meter.Float64ObservableGauge("loadphase.requests.rate",
		metric.WithDescription("Observed requests per second since start"),
		metric.WithUnit("{request}/s"))
	if err != nil {
		return err
	}
	latency, err := meter.Float64ObservableGauge("loadphase.requests.latency.p99",
		metric.WithDescription("99th percentile request latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	intensity, err := meter.Int64ObservableGauge("loadphase.phase.intensity",
		metric.WithDescription("Target intensity of the current phase"),
		metric.WithUnit("%"))
	if err != nil {
		return err
	}
	active, err := meter.Int64ObservableGauge("loadphase.workers.active",
		metric.WithDescription("Workers that have not exited"))
	if err != nil {
		return err
	}
	chunks, err := meter.Int64ObservableGauge("loadphase.memory.chunks",
		metric.WithDescription("Memory chunks retained across all workers"))
	if err != nil {
		return err
	}

	m.reg, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := source()
		if s.RunID == "" {
			return nil
		}
		run := metric.WithAttributes(attribute.String("run.id", s.RunID))
		o.ObserveInt64(completed, int64(s.CompletedRequests), run)
		o.ObserveInt64(errs, int64(s.Errors), run)
		o.ObserveFloat64(rps, s.RequestsPerSecondObserved, run)
		o.ObserveFloat64(latency, s.LatencyP99Ms, run)
		o.ObserveInt64(intensity, int64(s.IntensityPercent), metric.WithAttributes(
			attribute.String("run.id", s.RunID),
			attribute.String("phase", s.Phase),
		))
		o.ObserveInt64(active, int64(s.ActiveWorkers), run)
		o.ObserveInt64(chunks, int64(s.BufferedChunks), run)
		return nil
	}, completed, errs, rps, latency, intensity, active, chunks)
	return err
}

func (m *Metrics) Enabled() bool {
	return m.cfg.ExporterType != "" && m.cfg.ExporterType != ExporterNone
}

// Shutdown flushes pending data and stops the exporter.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.reg != nil {
		if err := m.reg.Unregister(); err != nil {
			return fmt.Errorf("unregister callback: %w", err)
		}
	}
	return m.provider.Shutdown(ctx)
}
