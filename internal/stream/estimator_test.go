package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/session"
)

func TestDefaultCharsPerToken(t *testing.T) {
	assert.Equal(t, 4, DefaultCharsPerToken)
}

func TestRatioEstimator(t *testing.T) {
	tests := []struct {
		ratio int
		text  string
		want  int
	}{
		{4, "", 0},
		{4, "abc", 0},
		{4, "abcd", 1},
		{4, "abcdefghi", 2},
		{4, "你好世界", 1},
		{2, "abcdef", 3},
		{0, "abcdefgh", 2}, // invalid ratio falls back to the default
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RatioEstimator(tt.ratio)(tt.text), "ratio=%d text=%q", tt.ratio, tt.text)
	}
}

func TestTiktokenEstimator(t *testing.T) {
	est, err := TiktokenEstimator()
	require.NoError(t, err)
	assert.Equal(t, 2, est("hello world"))
	assert.Equal(t, 0, est(""))
}

func TestPromptText(t *testing.T) {
	msgs := []session.Message{
		{Role: session.RoleSystem, Content: "sys"},
		{Role: session.RoleUser, Content: "question"},
	}
	assert.Equal(t, "sys\nquestion", PromptText(msgs))
	assert.Equal(t, "", PromptText(nil))
}
