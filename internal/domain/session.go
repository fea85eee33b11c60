package domain

import (
	"time"
)

// SessionIdentity is a durable learning session id and its creation time.
// It is never mutated after creation.
type SessionIdentity struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one chat turn sent to the backend as history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HistoryMessage is a persisted message as returned by the backend.
type HistoryMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Task      string `json:"task"`
	Timestamp string `json:"timestamp"`
}

// AsMessage drops the task and timestamp.
func (m HistoryMessage) AsMessage() Message {
	return Message{Role: m.Role, Content: m.Content}
}

// AnalysisSummary is the most recent weak-area analysis for a session.
type AnalysisSummary struct {
	Summary   string `json:"summary"`
	Timestamp string `json:"timestamp,omitempty"`
}
