// Package chat owns the conversation of a single run: the growing message
// list, the per-turn pipeline through the stream consumer and the cumulative
// statistics, and hands the finished transcript to the history on close.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"StreamChat/internal/backend"
	"StreamChat/internal/session"
	"StreamChat/internal/stream"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("chat session is closed")
	// ErrEmptyInput is returned by Submit for blank text; nothing is recorded.
	ErrEmptyInput = errors.New("empty message")
)

// TurnError is a failed turn. The user message stays in the history; no
// assistant message is added and the stats are unchanged.
type TurnError struct {
	Turn int
	Err  error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %d failed: %v", e.Turn, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// Saver persists a finished session
type Saver interface {
	Save(ctx context.Context, entry session.HistoryEntry) error
}

// Recorder receives per-turn measurements
type Recorder interface {
	RecordTurn(ctx context.Context, model string, resp session.ChatResponse)
	RecordFailure(ctx context.Context, model string, err error)
}

// Options configures a Session
type Options struct {
	Transport    backend.Transport
	Consumer     *stream.Consumer
	Saver        Saver
	Recorder     Recorder // optional
	Logger       *slog.Logger
	Model        string
	SystemPrompt string
	Temperature  float32
	TopP         float32
	MaxTokens    int

	Now   func() time.Time // optional, defaults to time.Now
	NewID func() string    // optional, defaults to a random UUID
}

// Session is one conversation from start to close. It is not safe for
// concurrent use; one turn is in flight at a time.
type Session struct {
	opts      Options
	id        string
	startedAt time.Time
	messages  []session.Message
	stats     session.SessionStats
	closed    bool
}

// New starts a session, seeding the system prompt when one is configured.
func New(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	s := &Session{
		opts:      opts,
		id:        opts.NewID(),
		startedAt: opts.Now(),
		messages:  []session.Message{},
	}
	if opts.SystemPrompt != "" {
		s.messages = append(s.messages, session.Message{Role: session.RoleSystem, Content: opts.SystemPrompt})
	}

	opts.Logger.Info("created new session", "session_id", s.id, "model", opts.Model)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Stats returns the cumulative counters.
func (s *Session) Stats() session.SessionStats { return s.stats }

// Messages returns a copy of the conversation so far.
func (s *Session) Messages() []session.Message { return session.CloneMessages(s.messages) }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed }

func (s *Session) userTurns() int {
	n := 0
	for _, msg := range s.messages {
		if msg.Role == session.RoleUser {
			n++
		}
	}
	return n
}

// Submit sends text as the next user turn with the whole conversation as
// context. Deltas are passed to onDelta as they arrive.
func (s *Session) Submit(ctx context.Context, text string, onDelta func(string)) (session.ChatResponse, error) {
	if s.closed {
		return session.ChatResponse{}, ErrClosed
	}
	if strings.TrimSpace(text) == "" {
		return session.ChatResponse{}, ErrEmptyInput
	}

	s.messages = append(s.messages, session.Message{Role: session.RoleUser, Content: text})
	turn := s.userTurns()

	req := backend.Request{
		Model:       s.opts.Model,
		Messages:    session.CloneMessages(s.messages),
		Temperature: s.opts.Temperature,
		TopP:        s.opts.TopP,
		MaxTokens:   s.opts.MaxTokens,
	}

	resp, err := s.opts.Consumer.Consume(ctx, s.opts.Transport, req, onDelta)
	if err != nil {
		if s.opts.Recorder != nil {
			s.opts.Recorder.RecordFailure(ctx, s.opts.Model, err)
		}
		s.opts.Logger.Error("turn failed", "session_id", s.id, "turn", turn, "canceled", stream.Canceled(err), "error", err)
		return session.ChatResponse{}, &TurnError{Turn: turn, Err: err}
	}

	s.messages = append(s.messages, session.Message{Role: session.RoleAssistant, Content: resp.Content})
	s.stats.Add(resp)
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordTurn(ctx, s.opts.Model, resp)
	}

	s.opts.Logger.Info("turn completed",
		"session_id", s.id,
		"turn", turn,
		"prompt_tokens", resp.PromptTokens,
		"completion_tokens", resp.CompletionTokens,
		"estimated", resp.Estimated,
		"elapsed_seconds", resp.ElapsedSeconds,
	)
	return resp, nil
}

// Entry snapshots the session as a history entry.
func (s *Session) Entry() session.HistoryEntry {
	return session.HistoryEntry{
		SessionID: s.id,
		StartedAt: s.startedAt,
		Model:     s.opts.Model,
		Messages:  session.CloneMessages(s.messages),
		Stats:     s.stats,
	}
}

// Close finalizes the session and saves it. Only the first call does
// anything; later calls return (false, nil). A session without any user
// message is not saved.
func (s *Session) Close(ctx context.Context) (bool, error) {
	if s.closed {
		return false, nil
	}
	s.closed = true

	if s.userTurns() == 0 {
		s.opts.Logger.Info("session closed without turns, not saved", "session_id", s.id)
		return false, nil
	}

	if err := s.opts.Saver.Save(ctx, s.Entry()); err != nil {
		s.opts.Logger.Error("failed to save session", "session_id", s.id, "error", err)
		return false, fmt.Errorf("failed to save session: %w", err)
	}
	s.opts.Logger.Info("session closed", "session_id", s.id, "turns", s.stats.Turns)
	return true, nil
}
