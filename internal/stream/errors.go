package stream

import (
	"context"
	"errors"
	"fmt"
)

// TransportError is a failure reported by the inference transport during a
// turn: connection failure, rejected credentials, exhausted quota, malformed
// stream. The session stays usable after it.
type TransportError struct {
	Op     string // "open" or "recv"
	Status int    // HTTP status when known, else 0
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport error during %s (HTTP %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamInterruptedError is the TransportError case where the stream broke off
// after it was opened. Partial holds the text that arrived before the break.
type StreamInterruptedError struct {
	TransportError
	Partial string
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("response interrupted after %d characters: %v", len([]rune(e.Partial)), e.Err)
}

// Unwrap exposes the TransportError so errors.As finds either type.
func (e *StreamInterruptedError) Unwrap() error { return &e.TransportError }

// Interrupted reports whether err is a mid-stream interruption and returns the
// partial text that was received.
func Interrupted(err error) (string, bool) {
	var ie *StreamInterruptedError
	if errors.As(err, &ie) {
		return ie.Partial, true
	}
	return "", false
}

// Canceled reports whether err was caused by the caller cancelling the turn.
func Canceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
