package session

// ChatResponse is the finalized record of one completed turn.
//
// When Estimated is true the token counts come from a local heuristic because
// the service never reported usage for the turn.
type ChatResponse struct {
	Content          string  `json:"content"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Estimated        bool    `json:"estimated"`
	TotalChars       int     `json:"total_chars"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// TotalTokens returns prompt plus completion tokens.
func (r ChatResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// CharsPerSecond returns the output rate in characters per second. The second
// result is false when the rate is undefined (no elapsed time).
func (r ChatResponse) CharsPerSecond() (float64, bool) {
	return rate(float64(r.TotalChars), r.ElapsedSeconds)
}

// TokensPerSecond returns completion tokens per second, false when undefined.
func (r ChatResponse) TokensPerSecond() (float64, bool) {
	return rate(float64(r.CompletionTokens), r.ElapsedSeconds)
}

func rate(n, seconds float64) (float64, bool) {
	if seconds <= 0 {
		return 0, false
	}
	return n / seconds, true
}

// SessionStats holds cumulative counters over a session
type SessionStats struct {
	Turns                 int     `json:"turns"`
	EstimatedTurns        int     `json:"estimated_turns"`
	TotalElapsedSeconds   float64 `json:"total_elapsed_seconds"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalChars            int     `json:"total_chars"`
}

// Add folds one completed turn into the counters.
func (s *SessionStats) Add(r ChatResponse) {
	s.Turns++
	if r.Estimated {
		s.EstimatedTurns++
	}
	s.TotalElapsedSeconds += r.ElapsedSeconds
	s.TotalPromptTokens += r.PromptTokens
	s.TotalCompletionTokens += r.CompletionTokens
	s.TotalChars += r.TotalChars
}

// TotalTokens returns the cumulative prompt plus completion tokens.
func (s SessionStats) TotalTokens() int {
	return s.TotalPromptTokens + s.TotalCompletionTokens
}
