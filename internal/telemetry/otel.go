package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles the tracer and the metric instruments the engine emits:
// pipeline phase duration, change-engine apply latency, event bus queue
// depth, and idempotency cache hit/miss counts. Constructed once per process
// and passed by reference, never reached through a package-level global.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	applyLatency    metric.Float64Histogram
	phaseLatency    metric.Float64Histogram
	queueDepth      metric.Int64UpDownCounter
	idempotencyHits metric.Int64Counter
	idempotencyMiss metric.Int64Counter

	tp           *sdktrace.TracerProvider
	shutdownOnce sync.Once
}

// NewProvider wires an OTel SDK trace provider with a stdout exporter
// (suitable for local/dev; cmd/server may swap in an OTLP exporter) and
// registers the metric instruments this engine emits.
func NewProvider(serviceName string) (*Provider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	meter := otel.GetMeterProvider().Meter(serviceName)

	p := &Provider{tracer: tp.Tracer(serviceName), meter: meter, tp: tp}

	p.applyLatency, err = meter.Float64Histogram("change_engine.apply.duration_ms")
	if err != nil {
		return nil, err
	}
	p.phaseLatency, err = meter.Float64Histogram("pipeline.phase.duration_ms")
	if err != nil {
		return nil, err
	}
	p.queueDepth, err = meter.Int64UpDownCounter("eventbus.subscriber.queue_depth")
	if err != nil {
		return nil, err
	}
	p.idempotencyHits, err = meter.Int64Counter("changeengine.idempotency.hits")
	if err != nil {
		return nil, err
	}
	p.idempotencyMiss, err = meter.Int64Counter("changeengine.idempotency.misses")
	if err != nil {
		return nil, err
	}
	return p, nil
}

// StartSpan begins a span named for the given component operation.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (p *Provider) RecordApplyLatency(ctx context.Context, itineraryID string, d time.Duration) {
	p.applyLatency.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attribute.String("itinerary_id", itineraryID)))
}

func (p *Provider) RecordPhaseLatency(ctx context.Context, phase string, d time.Duration) {
	p.phaseLatency.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attribute.String("phase", phase)))
}

func (p *Provider) AdjustQueueDepth(ctx context.Context, delta int64) {
	p.queueDepth.Add(ctx, delta)
}

func (p *Provider) RecordIdempotencyHit(ctx context.Context) {
	p.idempotencyHits.Add(ctx, 1)
}

func (p *Provider) RecordIdempotencyMiss(ctx context.Context) {
	p.idempotencyMiss.Add(ctx, 1)
}

// Shutdown flushes pending spans. Safe to call multiple times.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		err = p.tp.Shutdown(ctx)
	})
	return err
}
