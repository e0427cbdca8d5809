package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// scopeName identifies this instrumentation scope on every span and metric.
const scopeName = "halyard.provisioning"

// metricExportInterval is how often the periodic reader pushes metrics.
const metricExportInterval = 15 * time.Second

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC endpoint, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // plaintext OTLP, dev only
}

// DefaultConfig samples everything and assumes a local collector.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "halyard",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// instruments bundles the RED metrics: request rate, errors, duration, plus
// an in-flight gauge.
type instruments struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

// Provider owns the process-wide trace and metric pipelines. A disabled
// provider is fully functional: every method degrades to a no-op, so callers
// never branch on whether telemetry is on.
type Provider struct {
	cfg     *Config
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer
	meter   metric.Meter
	logger  *slog.Logger
	inst    instruments
}

// New wires OTLP exporters for traces and metrics and registers them as the
// global OpenTelemetry providers. With cfg.Enabled false it returns a no-op
// provider without touching the globals.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Provider{
		cfg:    cfg,
		logger: slog.Default().With("component", "observability"),
	}

	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("halyard.component", "provisioning"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if p.traces, err = newTraceProvider(ctx, cfg, res); err != nil {
		return nil, err
	}
	if p.metrics, err = newMeterProvider(ctx, cfg, res); err != nil {
		return nil, err
	}

	otel.SetTracerProvider(p.traces)
	otel.SetMeterProvider(p.metrics)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	p.tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(scopeName, metric.WithInstrumentationVersion(cfg.ServiceVersion))

	if err := p.buildInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
		"insecure", cfg.Insecure,
	)

	return p, nil
}

func newTraceProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(metricExportInterval),
		)),
	), nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (p *Provider) buildInstruments() error {
	var err error

	if p.inst.requests, err = p.meter.Int64Counter("halyard.requests.total",
		metric.WithDescription("Total number of operations processed"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if p.inst.errors, err = p.meter.Int64Counter("halyard.errors.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}

	if p.inst.duration, err = p.meter.Float64Histogram("halyard.operation.duration",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	); err != nil {
		return err
	}

	p.inst.active, err = p.meter.Int64UpDownCounter("halyard.operations.active",
		metric.WithDescription("Number of currently active operations"),
		metric.WithUnit("{operation}"),
	)
	return err
}

// Shutdown flushes and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		if err := p.traces.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider: %w", err))
		}
	}
	if p.metrics != nil {
		if err := p.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the provider's tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// Meter returns the provider's meter, or the global one when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(scopeName)
	}
	return p.meter
}

// StartSpan opens a span named name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordRequest counts one processed operation.
func (p *Provider) RecordRequest(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.inst.requests != nil {
		p.inst.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordError counts one error, tagged with the error's Go type.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if p.inst.errors != nil {
		attrs = append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))
		p.inst.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDuration records one operation latency.
func (p *Provider) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	if p.inst.duration != nil {
		p.inst.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackOperation opens a span and counts the operation as in flight. The
// returned func settles the span; pass it the operation's error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	if p.inst.active != nil {
		p.inst.active.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	p.RecordRequest(ctx, attrs...)

	return ctx, func(err error) {
		if p.inst.active != nil {
			p.inst.active.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordDuration(ctx, time.Since(start), attrs...)

		SetSpanStatus(ctx, err)
		if err != nil {
			p.RecordError(ctx, err, attrs...)
		}
		span.End()
	}
}
