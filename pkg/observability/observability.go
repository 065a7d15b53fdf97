// Package observability exports traces and metrics for the registration
// and call-session core over OTLP/gRPC.
//
// Every Provider carries a full set of instruments. A Provider without an
// endpoint binds them to the global meter, which is a no-op unless the
// host installed one, so callers never branch on whether export is on.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/gp-webrtc/gp-webrtc-ios"

// Config selects where telemetry goes. An empty Endpoint disables export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string // OTLP gRPC host:port
	Insecure       bool
	SampleRatio    float64
	ExportInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "gpw-core",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		Insecure:       true,
		SampleRatio:    1.0,
		ExportInterval: 15 * time.Second,
	}
}

// Enabled reports whether the config exports anywhere.
func (c *Config) Enabled() bool { return c != nil && c.Endpoint != "" }

// Provider owns the SDK providers, when exporting, and the instruments.
type Provider struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	tracer  trace.Tracer
	meter   metric.Meter
	logger  *slog.Logger

	ops           metric.Int64Counter
	failures      metric.Int64Counter
	latency       metric.Float64Histogram
	inflight      metric.Int64UpDownCounter
	regActions    metric.Int64Counter
	callOutcomes  metric.Int64Counter
	decryptErrors metric.Int64Counter
}

// New starts exporting to cfg.Endpoint, or returns a provider bound to the
// global tracer and meter when cfg is nil or has no endpoint.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	logger := slog.Default().With("component", "observability")
	if !cfg.Enabled() {
		logger.DebugContext(ctx, "telemetry export disabled")
		return bind(otel.GetTracerProvider(), otel.GetMeterProvider(), logger, "")
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRatio))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	p, err := bind(tp, mp, logger, cfg.ServiceVersion)
	if err != nil {
		logger.WarnContext(ctx, "instruments degraded", "error", err)
	}
	p.traces, p.metrics = tp, mp
	logger.InfoContext(ctx, "telemetry export enabled", "endpoint", cfg.Endpoint, "service", cfg.ServiceName)
	return p, nil
}

// Nop returns a provider bound to the global tracer and meter.
func Nop() *Provider {
	logger := slog.Default().With("component", "observability")
	p, err := bind(otel.GetTracerProvider(), otel.GetMeterProvider(), logger, "")
	if err != nil {
		logger.Warn("instruments degraded", "error", err)
	}
	return p
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// bind creates the instruments on mp. An instrument the meter rejects is
// replaced by a no-op one and reported in the returned error.
func bind(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger, version string) (*Provider, error) {
	p := &Provider{
		tracer: tp.Tracer(scope, trace.WithInstrumentationVersion(version)),
		meter:  mp.Meter(scope, metric.WithInstrumentationVersion(version)),
		logger: logger,
	}
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := p.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			errs = append(errs, err)
			c, _ = noop.Meter{}.Int64Counter(name)
		}
		return c
	}

	p.ops = counter("gpw.operations", "Operations started", "{operation}")
	p.failures = counter("gpw.operation.failures", "Operations that returned an error", "{operation}")
	p.regActions = counter("gpw.registration.actions", "Reconciliation passes by resulting action", "{pass}")
	p.callOutcomes = counter("gpw.call.outcomes", "VoIP pushes by resulting call state", "{push}")
	p.decryptErrors = counter("gpw.notification.decrypt_failures", "Envelopes that could not be decoded", "{envelope}")

	// Buckets bracket the two-second VoIP reporting deadline.
	latency, err := p.meter.Float64Histogram("gpw.operation.duration",
		metric.WithDescription("Operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 15),
	)
	if err != nil {
		errs = append(errs, err)
		latency, _ = noop.Meter{}.Float64Histogram("gpw.operation.duration")
	}
	p.latency = latency

	inflight, err := p.meter.Int64UpDownCounter("gpw.operations.inflight",
		metric.WithDescription("Operations in progress"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		errs = append(errs, err)
		inflight, _ = noop.Meter{}.Int64UpDownCounter("gpw.operations.inflight")
	}
	p.inflight = inflight

	if err := errors.Join(errs...); err != nil {
		return p, fmt.Errorf("observability: instruments: %w", err)
	}
	return p, nil
}

// Shutdown flushes pending telemetry. It is a no-op for providers that do
// not export.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.traces != nil {
		errs = append(errs, p.traces.Shutdown(ctx))
	}
	if p.metrics != nil {
		errs = append(errs, p.metrics.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.ErrorContext(ctx, "telemetry shutdown", "error", err)
		return err
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }
func (p *Provider) Meter() metric.Meter   { return p.meter }

// TrackOperation opens a span named name and counts the operation. The
// returned func closes both and must be called once with the outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	// Span attributes carry ids; metrics only the operation name.
	op := AttrOperation.String(name)
	set := metric.WithAttributes(op)
	p.ops.Add(ctx, 1, set)
	p.inflight.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.inflight.Add(ctx, -1, set)
		p.latency.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.failures.Add(ctx, 1, metric.WithAttributes(op, attribute.String("error.type", fmt.Sprintf("%T", err))))
		}
		span.End()
	}
}

// CountRegistrationAction records the action a reconciliation pass chose.
func (p *Provider) CountRegistrationAction(ctx context.Context, action string) {
	p.regActions.Add(ctx, 1, metric.WithAttributes(AttrRegistrationAction.String(action)))
}

// CountCallOutcome records how a VoIP push ended up.
func (p *Provider) CountCallOutcome(ctx context.Context, state string, synthetic bool) {
	p.callOutcomes.Add(ctx, 1, metric.WithAttributes(AttrCallState.String(state), AttrCallSynthetic.Bool(synthetic)))
}

// CountDecryptFailure records an envelope rejected with kind.
func (p *Provider) CountDecryptFailure(ctx context.Context, kind string) {
	p.decryptErrors.Add(ctx, 1, metric.WithAttributes(AttrDecryptError.String(kind)))
}
