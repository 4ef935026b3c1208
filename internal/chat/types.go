// Package chat provides conversation persistence and orchestration.
//
// Responsibilities: store sessions and messages in PostgreSQL, and drive
// the request/response cycle between the HTTP layer and the agent.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// TitleMaxLength is the number of characters taken from the first user
// message when deriving a session title.
const TitleMaxLength = 50

// DefaultTitle is assigned to sessions created without an explicit title.
const DefaultTitle = "New conversation"

// Message listing bounds.
const (
	DefaultMessageLimit int32 = 50
	MaxMessageLimit     int32 = 1000
)

// Session represents a conversation session.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active"`
}

// ToolCall records a single tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResults maps tool call identifiers to their string outputs.
type ToolResults map[string]string

// Message represents a single conversation message.
// ToolCalls and ToolResults are stored as JSONB and are nil for
// messages without tool activity.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	SessionID   uuid.UUID   `json:"session_id"`
	Role        string      `json:"role"`
	Content     string      `json:"content"`
	ToolCalls   []ToolCall  `json:"tool_calls,omitempty"`
	ToolResults ToolResults `json:"tool_results,omitempty"`
	Tokens      *int32      `json:"tokens,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// DeriveTitle builds a session title from the first user message.
// Content longer than TitleMaxLength characters is truncated with an
// ellipsis. Empty content falls back to DefaultTitle.
func DeriveTitle(content string) string {
	if content == "" {
		return DefaultTitle
	}
	runes := []rune(content)
	if len(runes) <= TitleMaxLength {
		return content
	}
	return string(runes[:TitleMaxLength]) + "..."
}

// NormalizeMessageLimit normalizes a message listing limit.
// Zero or negative values get DefaultMessageLimit; values above
// MaxMessageLimit are clamped.
func NormalizeMessageLimit(limit int32) int32 {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}
