package backend

import (
	"context"
	"io"

	"StreamChat/internal/session"
)

// FragmentKind tags what a Fragment carries
type FragmentKind int

const (
	// FragmentDelta carries an incremental piece of response text.
	FragmentDelta FragmentKind = iota
	// FragmentUsage carries the service's token accounting for the turn.
	FragmentUsage
	// FragmentEnd marks the end of the stream.
	FragmentEnd
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentDelta:
		return "delta"
	case FragmentUsage:
		return "usage"
	case FragmentEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Usage is the token accounting reported by the inference service
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Fragment is one incremental unit of a streaming response
type Fragment struct {
	Kind  FragmentKind
	Text  string
	Usage Usage
}

// Delta returns a text fragment.
func Delta(text string) Fragment { return Fragment{Kind: FragmentDelta, Text: text} }

// UsageFragment returns a usage fragment.
func UsageFragment(prompt, completion int) Fragment {
	return Fragment{Kind: FragmentUsage, Usage: Usage{PromptTokens: prompt, CompletionTokens: completion}}
}

// End returns the end-of-stream fragment.
func End() Fragment { return Fragment{Kind: FragmentEnd} }

// Request is one chat completion call
type Request struct {
	Model       string
	Messages    []session.Message
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// FragmentStream is a lazy sequence of fragments. Recv returns io.EOF once the
// stream is exhausted. Close releases the underlying connection and is safe to
// call more than once.
type FragmentStream interface {
	Recv() (Fragment, error)
	Close() error
}

// Completion is the result of a non-streaming call
type Completion struct {
	Content string
	Usage   *Usage
}

// Transport is the inference service boundary
type Transport interface {
	// Stream starts a streaming completion.
	Stream(ctx context.Context, req Request) (FragmentStream, error)
	// Complete performs a single synchronous completion.
	Complete(ctx context.Context, req Request) (Completion, error)
}

// SliceStream replays a fixed list of fragments. Err, when set, is returned
// after the fragments are exhausted instead of io.EOF.
type SliceStream struct {
	Fragments []Fragment
	Err       error
	Closed    bool
	pos       int
}

func (s *SliceStream) Recv() (Fragment, error) {
	if s.Closed {
		return Fragment{}, io.ErrClosedPipe
	}
	if s.pos < len(s.Fragments) {
		f := s.Fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.Err != nil {
		return Fragment{}, s.Err
	}
	return Fragment{}, io.EOF
}

func (s *SliceStream) Close() error {
	s.Closed = true
	return nil
}

// CompletionStream presents a synchronous completion as a stream: one delta,
// then usage when the service reported it, then end.
func CompletionStream(c Completion) *SliceStream {
	frags := []Fragment{}
	if c.Content != "" {
		frags = append(frags, Delta(c.Content))
	}
	if c.Usage != nil {
		frags = append(frags, UsageFragment(c.Usage.PromptTokens, c.Usage.CompletionTokens))
	}
	frags = append(frags, End())
	return &SliceStream{Fragments: frags}
}

// NonStreaming adapts a Transport so that Stream issues a synchronous
// completion and replays it with CompletionStream.
type NonStreaming struct {
	Transport
}

func (n NonStreaming) Stream(ctx context.Context, req Request) (FragmentStream, error) {
	c, err := n.Transport.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return CompletionStream(c), nil
}
