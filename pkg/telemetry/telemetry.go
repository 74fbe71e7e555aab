// Package telemetry wires the gate and validation engine to
// OpenTelemetry: one span per Attempt/Egress check, plus RED-style
// metrics (rate, errors, duration) broken down by validator domain and
// decision.
package telemetry

import (
	"context"
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

	"github.com/failcore/core/pkg/contracts"
)

// Config configures the telemetry Provider.
type Config struct {
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	SampleRate   float64
	BatchTimeout time.Duration
	Enabled      bool
	Insecure     bool
}

// DefaultConfig returns safe development defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:  "failcore",
		Environment:  "development",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      true,
		Insecure:     true,
	}
}

// Provider holds the tracer/meter and the fixed set of gate metrics.
type Provider struct {
	cfg            Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	attempts      metric.Int64Counter
	blocked       metric.Int64Counter
	checkDuration metric.Float64Histogram
	costSpent     metric.Float64Counter
}

// New builds and starts a telemetry Provider. When cfg.Enabled is
// false, the returned Provider is a safe no-op — every Record*/Track
// call becomes a cheap nil check.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{cfg: cfg, logger: slog.Default().With("component", "telemetry")}
	if !cfg.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("failcore.component", "gate"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("telemetry: init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("failcore.gate")
	p.meter = otel.Meter("failcore.gate")
	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("telemetry: init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized", "endpoint", cfg.OTLPEndpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	var sampler sdktrace.Sampler
	switch {
	case p.cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.cfg.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.cfg.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.cfg.OTLPEndpoint)}
	if p.cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error
	if p.attempts, err = p.meter.Int64Counter("failcore.attempts.total",
		metric.WithDescription("Total number of gate checks evaluated"),
		metric.WithUnit("{check}")); err != nil {
		return err
	}
	if p.blocked, err = p.meter.Int64Counter("failcore.decisions.blocked",
		metric.WithDescription("Total number of BLOCK decisions surfaced"),
		metric.WithUnit("{decision}")); err != nil {
		return err
	}
	if p.checkDuration, err = p.meter.Float64Histogram("failcore.check.duration",
		metric.WithDescription("Gate check duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0)); err != nil {
		return err
	}
	if p.costSpent, err = p.meter.Float64Counter("failcore.cost.spent_usd",
		metric.WithDescription("Cumulative estimated USD spend reserved by the cost guardian"),
		metric.WithUnit("{usd}")); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// TrackCheck wraps a single Attempt/Egress check with a span and
// records the RED metrics once fn returns. phase is "preflight" or
// "egress".
func (p *Provider) TrackCheck(ctx context.Context, phase, tool string, fn func(context.Context) (contracts.Decision, error)) (contracts.Decision, error) {
	if p == nil || p.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "failcore.gate."+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("failcore.tool", tool)),
	)
	defer span.End()

	decision, err := fn(ctx)
	duration := time.Since(start)

	attrs := []attribute.KeyValue{
		attribute.String("failcore.tool", tool),
		attribute.String("failcore.phase", phase),
		attribute.String("failcore.decision", string(decision)),
	}
	if p.attempts != nil {
		p.attempts.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if decision == contracts.DecisionBlock && p.blocked != nil {
		p.blocked.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if p.checkDuration != nil {
		p.checkDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil {
		span.RecordError(err)
	}
	return decision, err
}

// RecordSpend adds usd to the cumulative cost-guardian spend metric.
func (p *Provider) RecordSpend(ctx context.Context, runID string, usd float64) {
	if p == nil || p.costSpent == nil {
		return
	}
	p.costSpent.Add(ctx, usd, metric.WithAttributes(attribute.String("failcore.run_id", runID)))
}
