package session

import "time"

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryEntry is the persisted record of one completed session
type HistoryEntry struct {
	SessionID string       `json:"session_id"`
	StartedAt time.Time    `json:"started_at"`
	Model     string       `json:"model,omitempty"`
	Messages  []Message    `json:"messages"`
	Stats     SessionStats `json:"stats"`
}

// FirstUserMessage returns the content of the first user message, or "" if there is none.
func (e HistoryEntry) FirstUserMessage() string {
	for _, msg := range e.Messages {
		if msg.Role == RoleUser {
			return msg.Content
		}
	}
	return ""
}

// CloneMessages returns a copy of msgs that shares no backing array with it.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
