package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"StreamChat/internal/backend"
	"StreamChat/internal/session"
)

// Consumer drives one streaming completion and produces a ChatResponse
type Consumer struct {
	estimate Estimator
	tracer   trace.Tracer
	logger   *slog.Logger

	// Now is the clock used for elapsed time.
	Now func() time.Time
}

// NewConsumer creates a consumer. A nil estimator falls back to RatioEstimator(DefaultCharsPerToken).
func NewConsumer(estimate Estimator, tracer trace.Tracer, logger *slog.Logger) *Consumer {
	if estimate == nil {
		estimate = RatioEstimator(DefaultCharsPerToken)
	}
	return &Consumer{
		estimate: estimate,
		tracer:   tracer,
		logger:   logger,
		Now:      time.Now,
	}
}

// Consume issues req on transport and reads the stream to the end. Every text
// delta is handed to onDelta before the next fragment is read. On failure no
// ChatResponse is produced; a *StreamInterruptedError carries the partial text.
func (c *Consumer) Consume(ctx context.Context, transport backend.Transport, req backend.Request, onDelta func(string)) (session.ChatResponse, error) {
	ctx, span := c.tracer.Start(ctx, "chat.stream", trace.WithAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	))
	defer span.End()

	start := c.Now()

	fs, err := transport.Stream(ctx, req)
	if err != nil {
		terr := &TransportError{Op: "open", Status: backend.StatusCode(err), Err: cause(ctx, err)}
		span.RecordError(terr)
		span.SetStatus(codes.Error, "open failed")
		return session.ChatResponse{}, terr
	}
	defer fs.Close()

	var (
		buf   strings.Builder
		usage *backend.Usage
	)

recv:
	for {
		if ctx.Err() != nil {
			return session.ChatResponse{}, c.interrupted(span, buf.String(), ctx.Err())
		}

		frag, err := fs.Recv()
		if errors.Is(err, io.EOF) {
			break recv
		}
		if err != nil {
			return session.ChatResponse{}, c.interrupted(span, buf.String(), cause(ctx, err))
		}

		switch frag.Kind {
		case backend.FragmentDelta:
			if frag.Text == "" {
				continue
			}
			buf.WriteString(frag.Text)
			if onDelta != nil {
				onDelta(frag.Text)
			}
		case backend.FragmentUsage:
			u := frag.Usage
			usage = &u
		case backend.FragmentEnd:
			break recv
		}
	}

	elapsed := c.Now().Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	content := buf.String()
	resp := session.ChatResponse{
		Content:        content,
		TotalChars:     utf8.RuneCountInString(content),
		ElapsedSeconds: elapsed,
	}
	if usage != nil {
		resp.PromptTokens = usage.PromptTokens
		resp.CompletionTokens = usage.CompletionTokens
	} else {
		resp.PromptTokens = c.estimate(PromptText(req.Messages))
		resp.CompletionTokens = c.estimate(content)
		resp.Estimated = true
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", resp.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.CompletionTokens),
		attribute.Bool("llm.usage.estimated", resp.Estimated),
		attribute.Int("llm.response.chars", resp.TotalChars),
	)
	c.logger.Debug("stream consumed",
		"model", req.Model,
		"chars", resp.TotalChars,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"estimated", resp.Estimated,
		"elapsed_seconds", resp.ElapsedSeconds,
	)

	return resp, nil
}

func (c *Consumer) interrupted(span trace.Span, partial string, err error) error {
	ierr := &StreamInterruptedError{
		TransportError: TransportError{Op: "recv", Status: backend.StatusCode(err), Err: err},
		Partial:        partial,
	}
	span.RecordError(ierr)
	span.SetStatus(codes.Error, "stream interrupted")
	c.logger.Warn("stream interrupted", "partial_chars", utf8.RuneCountInString(partial), "error", err)
	return ierr
}

// cause prefers the context error when the turn was cancelled, so callers can
// tell a user interrupt from a network failure.
func cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
