package models

import "time"

// WorkflowLog is one audit record. Every tool-run status transition and every
// notable turn event (routing decision, handoff, turn failure) writes one row.
type WorkflowLog struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	Event          string    `json:"event"`
	Actor          string    `json:"actor"`
	FromStatus     string    `json:"from_status,omitempty"`
	ToStatus       string    `json:"to_status,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Audit event names.
const (
	AuditToolRunTransition = "tool_run.transition"
	AuditRouterDecision    = "router.decision"
	AuditWorkflowHandoff   = "workflow.handoff"
	AuditTurnFailed        = "turn.failed"
)

// AppendWorkflowLogRequest contains fields for writing an audit record.
type AppendWorkflowLogRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	RunID          string `json:"run_id,omitempty"`
	Event          string `json:"event"`
	Actor          string `json:"actor"`
	FromStatus     string `json:"from_status,omitempty"`
	ToStatus       string `json:"to_status,omitempty"`
	Reason         string `json:"reason,omitempty"`
}
