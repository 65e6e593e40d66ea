// Package telemetry provides OpenTelemetry-based observability for
// shiftlog's fetch/segment/consolidate/summarize pipeline, trimmed from the
// teacher's more general agent-framework observer package down to what a
// single digest run needs.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/shiftlog/internal/telemetry"

// Instruments holds every OTEL instrument shiftlog's pipeline emits.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	TokenUsage    metric.Int64Counter
	CostTotal     metric.Float64Counter
	LLMRequests   metric.Int64Counter
	EmbedRequests metric.Int64Counter

	LLMDuration   metric.Float64Histogram
	EmbedDuration metric.Float64Histogram
	StageDuration metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters,
// configured from the standard OTEL_EXPORTER_OTLP_* env vars. Returns a
// shutdown function that must be called on application exit. Unlike the
// teacher's observer.Init, this does not wire a log exporter: shiftlog logs
// through log/slog to stderr (see internal/config and cmd/shiftlog), and a
// second OTLP log pipeline would duplicate that for no consumer in scope.
func Init(ctx context.Context, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("shiftlog")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return inst, shutdown, nil
}

func newInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)

	tokenUsage, err := meter.Int64Counter("llm.token.usage",
		metric.WithDescription("Total tokens consumed"), metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	costTotal, err := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"), metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}
	llmRequests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM request count"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	embedRequests, err := meter.Int64Counter("embedding.requests",
		metric.WithDescription("Embedding request count"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("llm.duration",
		metric.WithDescription("LLM call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	embedDuration, err := meter.Float64Histogram("embedding.duration",
		metric.WithDescription("Embedding call duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("pipeline.stage.duration",
		metric.WithDescription("Duration of one pipeline stage for one channel"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:        tracer,
		Meter:         meter,
		TokenUsage:    tokenUsage,
		CostTotal:     costTotal,
		LLMRequests:   llmRequests,
		EmbedRequests: embedRequests,
		LLMDuration:   llmDuration,
		EmbedDuration: embedDuration,
		StageDuration: stageDuration,
		Cost:          NewCostCalculator(pricing),
	}, nil
}

// RecordStage emits one pipeline.stage.duration sample tagged by stage and
// channel, for the fetch/segment/consolidate/summarize phases.
func (i *Instruments) RecordStage(ctx context.Context, stage, channelID string, durationMs float64) {
	if i == nil {
		return
	}
	i.StageDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrStage.String(stage),
		AttrChannel.String(channelID),
	))
}
