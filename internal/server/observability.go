package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	ScanCounter   metric.Int64Counter
	ScanDuration  metric.Int64Histogram
	OverrideHits  metric.Int64Counter
	QuotaBlocked  metric.Int64Counter
	ProbeCounter  metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "trustscan-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	scanCounter, _ := meter.Int64Counter("trustscan_scan_total")
	scanDuration, _ := meter.Int64Histogram("trustscan_scan_duration_ms")
	overrideHits, _ := meter.Int64Counter("trustscan_override_total")
	quotaBlocked, _ := meter.Int64Counter("trustscan_quota_block_total")
	probeCounter, _ := meter.Int64Counter("trustscan_probe_session_total")
	return &Observability{
		Tracer:        tracer,
		Meter:         meter,
		traceProvider: tp,
		ScanCounter:   scanCounter,
		ScanDuration:  scanDuration,
		OverrideHits:  overrideHits,
		QuotaBlocked:  quotaBlocked,
		ProbeCounter:  probeCounter,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkScan(ctx context.Context, verdict string, durationMS int64) {
	if o == nil {
		return
	}
	o.ScanCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
	))
	if durationMS > 0 {
		o.ScanDuration.Record(ctx, durationMS, metric.WithAttributes(
			attribute.String("verdict", verdict),
		))
	}
}

func (o *Observability) MarkOverride(ctx context.Context, rule string) {
	if o == nil {
		return
	}
	o.OverrideHits.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

func (o *Observability) MarkQuotaBlocked(ctx context.Context, reason string) {
	if o == nil {
		return
	}
	o.QuotaBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (o *Observability) MarkProbeSession(ctx context.Context, verdict string) {
	if o == nil {
		return
	}
	o.ProbeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("verdict", verdict),
	))
}
