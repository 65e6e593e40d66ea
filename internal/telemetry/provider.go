package telemetry

import (
	"context"
	"time"

	"github.com/nevindra/shiftlog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a shiftlog.LLMProvider with OTEL instrumentation,
// grounded on the teacher's observer.ObservedProvider.
type ObservedProvider struct {
	inner shiftlog.LLMProvider
	inst  *Instruments
}

// WrapProvider returns an instrumented provider that emits traces and metrics.
func WrapProvider(inner shiftlog.LLMProvider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) CreateMessage(ctx context.Context, model string, maxTokens int, messages []shiftlog.LLMMessage) (shiftlog.LLMContent, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.create_message", trace.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.CreateMessage(ctx, model, maxTokens, messages)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	cost := o.inst.Cost.Calculate(model, resp.InputTokens, resp.OutputTokens)
	span.SetAttributes(
		AttrTokensInput.Int(resp.InputTokens),
		AttrTokensOutput.Int(resp.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	labels := metric.WithAttributes(AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()))
	o.inst.TokenUsage.Add(ctx, int64(resp.InputTokens), metric.WithAttributes(
		AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()), attribute.String("direction", "input")))
	o.inst.TokenUsage.Add(ctx, int64(resp.OutputTokens), metric.WithAttributes(
		AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()), attribute.String("direction", "output")))
	o.inst.CostTotal.Add(ctx, cost, labels)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model), AttrLLMProvider.String(o.inner.Name()), attribute.String("status", status)))
	o.inst.LLMDuration.Record(ctx, durationMs, labels)

	return resp, err
}

// ObservedEmbedding wraps a shiftlog.EmbeddingProvider with OTEL instrumentation.
type ObservedEmbedding struct {
	inner shiftlog.EmbeddingProvider
	inst  *Instruments
}

// WrapEmbedding returns an instrumented embedding provider.
func WrapEmbedding(inner shiftlog.EmbeddingProvider, inst *Instruments) *ObservedEmbedding {
	return &ObservedEmbedding{inner: inner, inst: inst}
}

func (o *ObservedEmbedding) Name() string   { return o.inner.Name() }
func (o *ObservedEmbedding) Dimensions() int { return o.inner.Dimensions() }

func (o *ObservedEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.embed", trace.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		AttrEmbedTextCount.Int(len(texts)),
		AttrEmbedDimensions.Int(o.inner.Dimensions()),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Embed(ctx, texts)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	labels := metric.WithAttributes(AttrLLMProvider.String(o.inner.Name()))
	o.inst.EmbedRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()), attribute.String("status", status)))
	o.inst.EmbedDuration.Record(ctx, durationMs, labels)

	return result, err
}
