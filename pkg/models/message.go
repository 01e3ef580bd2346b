package models

import "time"

// MessageRole identifies who produced a message.
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleSystem     MessageRole = "system"
	RoleToolResult MessageRole = "tool_result"
)

// Metadata keys written by the runner.
const (
	MetadataPartial = "partial" // true when an assistant message was cut short
	MetadataError   = "error"   // machine-readable error code for failed turns
)

// Message is one persisted entry in a conversation. Seq is assigned by the
// store and is strictly increasing within a conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	AgentID        string         `json:"agent_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AppendMessageRequest contains fields for appending a message to a conversation.
type AppendMessageRequest struct {
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	AgentID        string         `json:"agent_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
