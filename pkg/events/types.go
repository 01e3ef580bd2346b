// Package events is the session hub: it owns WebSocket sessions, fans out
// runner events to every session subscribed to a conversation, and applies
// the outbound backpressure policy (chunks are droppable, everything else is
// delivered or the connection dies).
package events

import "encoding/json"

// Client → server message types.
const (
	InboundPing              = "PING"
	InboundStartConversation = "start_conversation"
	InboundSendMessage       = "send_message"
	InboundCancelStream      = "cancel_stream"
	InboundApproveTool       = "approve_tool"
)

// Server → client event types.
const (
	EventPong                 = "PONG"
	EventConversationStarted  = "conversation_started"
	EventMessageChunk         = "message_chunk"
	EventMessageComplete      = "message_complete"
	EventToolApprovalRequired = "tool_approval_required"
	EventToolApproved         = "tool_approved"
	EventToolRejected         = "tool_rejected"
	EventToolExecuted         = "tool_executed"
	EventAgentSelected        = "agent_selected"
	EventWorkflowHandoff      = "workflow_handoff"
	EventWorkflowThought      = "workflow_thought"
	EventError                = "error"
)

// ClientMessage is the envelope for every client → server WebSocket message.
// Unknown types produce an error{bad_request} — never silently ignored.
type ClientMessage struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	RequestID      string          `json:"requestId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// StartConversationPayload is the payload of a start_conversation message.
type StartConversationPayload struct {
	DomainID string `json:"domainId"`
	Title    string `json:"title,omitempty"`
}

// SendMessagePayload is the payload of a send_message message.
type SendMessagePayload struct {
	Content         string `json:"content"`
	EnableThinking  bool   `json:"enableThinking,omitempty"`
	TestingOverride bool   `json:"testingOverride,omitempty"`
}

// ApproveToolPayload is the payload of an approve_tool message.
type ApproveToolPayload struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Event is the envelope for every server → client message.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

// Droppable reports whether the backpressure policy may evict this event.
// Completion, tool lifecycle, and error events are never dropped; only
// high-frequency advisory traffic is.
func (e Event) Droppable() bool {
	switch e.Type {
	case EventMessageChunk, EventWorkflowThought, EventPong:
		return true
	default:
		return false
	}
}
