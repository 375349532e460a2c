package memory

import (
	"encoding/json"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageType distinguishes plain text turns from turns carrying a
// visualization payload and system-generated notices.
type MessageType string

const (
	TypeText          MessageType = "text"
	TypeVisualization MessageType = "visualization"
	TypeSystem        MessageType = "system"
)

// Session represents one continuous conversation with a user.
type Session struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Name          string            `json:"name"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActivity  time.Time         `json:"last_activity"`
	IsActive      bool              `json:"is_active"`
	TotalMessages int               `json:"total_messages"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Message is a single turn in a session. Messages are immutable once
// written; the (SessionID, Index) pair is unique and gapless per session.
type Message struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Index         int             `json:"message_index"`
	Sender        Sender          `json:"sender"`
	Content       string          `json:"content"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          MessageType     `json:"message_type"`
	Visualization json.RawMessage `json:"visualization_data,omitempty"`
	ContextUsed   string          `json:"context_used,omitempty"`
	ResponseTime  float64         `json:"response_time,omitempty"`
	TokensUsed    int             `json:"tokens_used,omitempty"`
}

// Topic is a named conversation thread tracked to bias future context
// assembly. Re-adding an existing (session, topic) pair bumps the reference
// count instead of creating a duplicate row.
type Topic struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Topic          string    `json:"topic"`
	Summary        string    `json:"summary"`
	Importance     float64   `json:"importance_score"`
	CreatedAt      time.Time `json:"created_at"`
	LastReferenced time.Time `json:"last_referenced"`
	ReferenceCount int       `json:"reference_count"`
}

// TopicSummary is the compact topic view returned by SessionInfo.
type TopicSummary struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
}

// SessionInfo is the session introspection result.
type SessionInfo struct {
	SessionID     string         `json:"session_id"`
	Name          string         `json:"session_name"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
	TotalMessages int            `json:"total_messages"`
	ActiveTopics  []TopicSummary `json:"active_topics"`
}
