package stream

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"StreamChat/internal/session"
)

// DefaultCharsPerToken is the fallback ratio used when the service reports no usage.
const DefaultCharsPerToken = 4

// Estimator turns text into an approximate token count.
type Estimator func(text string) int

// RatioEstimator counts one token per charsPerToken characters, rounding down.
func RatioEstimator(charsPerToken int) Estimator {
	if charsPerToken < 1 {
		charsPerToken = DefaultCharsPerToken
	}
	return func(text string) int {
		return utf8.RuneCountInString(text) / charsPerToken
	}
}

// TiktokenEstimator counts tokens with the cl100k_base encoding.
func TiktokenEstimator() (Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	fallback := RatioEstimator(DefaultCharsPerToken)
	return func(text string) int {
		ids, _, err := codec.Encode(text)
		if err != nil {
			return fallback(text)
		}
		return len(ids)
	}, nil
}

// PromptText is the text the prompt estimate is computed over: every message
// content joined by newlines.
func PromptText(msgs []session.Message) string {
	parts := make([]string, len(msgs))
	for i, msg := range msgs {
		parts[i] = msg.Content
	}
	return strings.Join(parts, "\n")
}
