package models

import (
	"encoding/json"
	"time"
)

// ToolRunStatus represents the approval/execution state of a tool run.
// The uppercase strings below are canonical: they are what the store persists
// and what the wire protocol emits.
type ToolRunStatus string

const (
	ToolRunPending   ToolRunStatus = "PENDING"
	ToolRunApproved  ToolRunStatus = "APPROVED"
	ToolRunRejected  ToolRunStatus = "REJECTED"
	ToolRunExecuting ToolRunStatus = "EXECUTING"
	ToolRunExecuted  ToolRunStatus = "EXECUTED"
	ToolRunFailed    ToolRunStatus = "FAILED"
)

// toolRunTransitions is the allowed status DAG. No transition leaves a
// terminal state (REJECTED, EXECUTED, FAILED).
var toolRunTransitions = map[ToolRunStatus][]ToolRunStatus{
	ToolRunPending:   {ToolRunApproved, ToolRunRejected},
	ToolRunApproved:  {ToolRunExecuting},
	ToolRunExecuting: {ToolRunExecuted, ToolRunFailed},
}

// ValidToolRunTransition reports whether from → to is an allowed edge.
func ValidToolRunTransition(from, to ToolRunStatus) bool {
	for _, next := range toolRunTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func (s ToolRunStatus) Terminal() bool {
	return len(toolRunTransitions[s]) == 0
}

// IsValid checks if the status is one of the closed set.
func (s ToolRunStatus) IsValid() bool {
	switch s {
	case ToolRunPending, ToolRunApproved, ToolRunRejected, ToolRunExecuting, ToolRunExecuted, ToolRunFailed:
		return true
	default:
		return false
	}
}

// ToolRun is the persisted record of one attempted tool invocation, including
// approval outcome and result. Tool runs are never deleted.
type ToolRun struct {
	ID                 string          `json:"id"`
	ConversationID     string          `json:"conversation_id"`
	TurnID             string          `json:"turn_id"`
	ToolID             string          `json:"tool_id"`
	RequestedByAgentID string          `json:"requested_by_agent_id"`
	Parameters         json.RawMessage `json:"parameters"`
	Status             ToolRunStatus   `json:"status"`
	Result             string          `json:"result,omitempty"`
	Error              string          `json:"error,omitempty"`
	ApprovedBySub      string          `json:"approved_by_sub,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	RequestedAt        time.Time       `json:"requested_at"`
	DecidedAt          *time.Time      `json:"decided_at,omitempty"`
	ExecutedAt         *time.Time      `json:"executed_at,omitempty"`
}

// CreateToolRunRequest contains fields for creating a tool run. The store
// always persists it with status PENDING.
type CreateToolRunRequest struct {
	ConversationID     string          `json:"conversation_id"`
	TurnID             string          `json:"turn_id"`
	ToolID             string          `json:"tool_id"`
	RequestedByAgentID string          `json:"requested_by_agent_id"`
	Parameters         json.RawMessage `json:"parameters"`
}

// ToolRunPatch carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type ToolRunPatch struct {
	Result          *string    `json:"result,omitempty"`
	Error           *string    `json:"error,omitempty"`
	ApprovedBySub   *string    `json:"approved_by_sub,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	ExecutedAt      *time.Time `json:"executed_at,omitempty"`
}

// ToolRunFilters contains filtering options for listing tool runs.
type ToolRunFilters struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Status         ToolRunStatus `json:"status,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	Offset         int           `json:"offset,omitempty"`
}
