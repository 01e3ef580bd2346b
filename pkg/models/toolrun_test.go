package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidToolRunTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  ToolRunStatus
		to    ToolRunStatus
		valid bool
	}{
		{"pending to approved", ToolRunPending, ToolRunApproved, true},
		{"pending to rejected", ToolRunPending, ToolRunRejected, true},
		{"approved to executing", ToolRunApproved, ToolRunExecuting, true},
		{"executing to executed", ToolRunExecuting, ToolRunExecuted, true},
		{"executing to failed", ToolRunExecuting, ToolRunFailed, true},
		{"pending to executing skips approval", ToolRunPending, ToolRunExecuting, false},
		{"pending to executed", ToolRunPending, ToolRunExecuted, false},
		{"approved to rejected", ToolRunApproved, ToolRunRejected, false},
		{"rejected is terminal", ToolRunRejected, ToolRunApproved, false},
		{"executed is terminal", ToolRunExecuted, ToolRunFailed, false},
		{"failed is terminal", ToolRunFailed, ToolRunExecuting, false},
		{"no self loop", ToolRunPending, ToolRunPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidToolRunTransition(tt.from, tt.to))
		})
	}
}

func TestToolRunStatus_Terminal(t *testing.T) {
	assert.False(t, ToolRunPending.Terminal())
	assert.False(t, ToolRunApproved.Terminal())
	assert.False(t, ToolRunExecuting.Terminal())
	assert.True(t, ToolRunRejected.Terminal())
	assert.True(t, ToolRunExecuted.Terminal())
	assert.True(t, ToolRunFailed.Terminal())
}
