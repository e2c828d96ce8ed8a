package search

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/zen-systems/thinkgate/pkg/search"

func startRun(ctx context.Context, tracer trace.Tracer, req Request, depthLimit int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "search.Run",
		trace.WithAttributes(
			attribute.String("search.mode", string(req.Decision.Mode)),
			attribute.String("search.tier", string(req.Budget.Tier)),
			attribute.Int("search.depth_limit", depthLimit),
			attribute.Int("search.reasoning_tokens", req.Budget.ReasoningTokens),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func endRun(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.String("search.outcome", res.Outcome.String()),
		attribute.Int("search.steps", res.Chain.Len()),
		attribute.Int("search.tokens_used", res.TokensUsed),
		attribute.Int("search.failures", res.Failures),
		attribute.Bool("search.degraded", res.Degraded),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

func startExpand(ctx context.Context, tracer trace.Tracer, parent, attempt int, hint string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "search.expand",
		trace.WithAttributes(
			attribute.Int("search.parent_index", parent),
			attribute.Int("search.attempt", attempt),
			attribute.String("search.strategy_hint", hint),
		),
	)
}

func endExpand(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
