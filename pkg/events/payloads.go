package events

import "encoding/json"

// Typed payloads for every outbound event. Field names follow the wire
// protocol (camelCase), not the persisted models.

// ConversationStartedPayload answers start_conversation.
type ConversationStartedPayload struct {
	ConversationID string `json:"conversationId"`
	DomainID       string `json:"domainId"`
	Title          string `json:"title,omitempty"`
}

// MessageChunkPayload is one fragment of a streaming assistant reply.
type MessageChunkPayload struct {
	Chunk   string `json:"chunk"`
	AgentID string `json:"agentId,omitempty"`
}

// MessageCompletePayload terminates a streamed assistant reply.
type MessageCompletePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	AgentID   string `json:"agentId,omitempty"`
}

// ToolApprovalRequiredPayload asks a human to decide on a pending tool run.
type ToolApprovalRequiredPayload struct {
	RequestID  string          `json:"requestId"`
	ToolID     string          `json:"toolId"`
	ToolName   string          `json:"toolName"`
	AgentID    string          `json:"agentId,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ToolDecisionPayload carries tool_approved / tool_rejected.
type ToolDecisionPayload struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	DecidedBy string `json:"decidedBy,omitempty"`
}

// ToolExecutedPayload reports the outcome of an executed tool run.
type ToolExecutedPayload struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AgentSelectedPayload reports the router's decision for a turn.
type AgentSelectedPayload struct {
	AgentID    string  `json:"agentId"`
	AgentName  string  `json:"agentName,omitempty"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// WorkflowHandoffPayload reports a mid-turn agent switch.
type WorkflowHandoffPayload struct {
	FromAgentID string `json:"fromAgentId"`
	ToAgentID   string `json:"toAgentId"`
	Reason      string `json:"reason,omitempty"`
}

// WorkflowThoughtPayload surfaces out-of-band model reasoning. Advisory;
// outside the per-turn ordering contract.
type WorkflowThoughtPayload struct {
	AgentName string `json:"agentName"`
	Reason    string `json:"reason"`
}

// ErrorPayload is the machine-readable error surfaced on the session.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error event bound to a conversation ("" for
// session-level errors such as malformed envelopes).
func NewError(conversationID, code, message string) Event {
	return Event{
		Type:           EventError,
		ConversationID: conversationID,
		Payload:        ErrorPayload{Code: code, Message: message},
	}
}
