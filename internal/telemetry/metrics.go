package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"StreamChat/internal/session"
	"StreamChat/internal/stream"
)

// TurnMetrics records per-turn measurements on an OTel meter
type TurnMetrics struct {
	duration   metric.Float64Histogram
	prompt     metric.Int64Counter
	completion metric.Int64Counter
	failures   metric.Int64Counter
}

// NewTurnMetrics creates the turn instruments on meter.
func NewTurnMetrics(meter metric.Meter) (*TurnMetrics, error) {
	duration, err := meter.Float64Histogram(
		"chat.turn.duration",
		metric.WithDescription("Wall-clock duration of a streamed turn"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	prompt, err := meter.Int64Counter(
		"chat.tokens.prompt",
		metric.WithDescription("Prompt tokens sent, reported or estimated"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt counter: %w", err)
	}

	completion, err := meter.Int64Counter(
		"chat.tokens.completion",
		metric.WithDescription("Completion tokens received, reported or estimated"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion counter: %w", err)
	}

	failures, err := meter.Int64Counter(
		"chat.turn.failures",
		metric.WithDescription("Turns that ended without a response"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}

	return &TurnMetrics{
		duration:   duration,
		prompt:     prompt,
		completion: completion,
		failures:   failures,
	}, nil
}

// RecordTurn records a completed turn.
func (m *TurnMetrics) RecordTurn(ctx context.Context, model string, resp session.ChatResponse) {
	attrs := metric.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Bool("estimated", resp.Estimated),
	)
	m.duration.Record(ctx, resp.ElapsedSeconds, attrs)
	m.prompt.Add(ctx, int64(resp.PromptTokens), attrs)
	m.completion.Add(ctx, int64(resp.CompletionTokens), attrs)
}

// RecordFailure records a failed turn, distinguishing user interrupts.
func (m *TurnMetrics) RecordFailure(ctx context.Context, model string, err error) {
	reason := "transport"
	switch {
	case stream.Canceled(err):
		reason = "canceled"
	default:
		if _, ok := stream.Interrupted(err); ok {
			reason = "interrupted"
		}
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("llm.model", model),
		attribute.String("reason", reason),
	))
}
