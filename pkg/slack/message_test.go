package slack

import (
	"encoding/json"
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

func sampleRun() *models.ToolRun {
	return &models.ToolRun{
		ID:             "run-123",
		ConversationID: "conv-9",
		ToolID:         "restart_service",
		Parameters:     json.RawMessage(`{"service":"billing"}`),
	}
}

func TestBuildApprovalRequiredMessage(t *testing.T) {
	blocks := BuildApprovalRequiredMessage(sampleRun(), "Restart Service", "Triage", "https://console.example.com")

	require.Len(t, blocks, 2)

	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":raised_hand:")
	assert.Contains(t, section.Text.Text, "Restart Service")
	assert.Contains(t, section.Text.Text, "Triage")
	assert.Contains(t, section.Text.Text, "run-123")
	assert.Contains(t, section.Text.Text, `"service":"billing"`)

	action, ok := blocks[1].(*goslack.ActionBlock)
	require.True(t, ok)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "Review in Console", btn.Text.Text)
	assert.Equal(t, "https://console.example.com/conversations/conv-9", btn.URL)
}

func TestBuildApprovalRequiredMessageWithoutConsole(t *testing.T) {
	blocks := BuildApprovalRequiredMessage(sampleRun(), "", "Triage", "")

	// No console URL means no button, and the tool id stands in for the name.
	require.Len(t, blocks, 1)
	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, "restart_service")
}

func TestBuildToolRunFailedMessage(t *testing.T) {
	blocks := BuildToolRunFailedMessage(sampleRun(), "Restart Service", "connection refused", "https://console.example.com")

	require.Len(t, blocks, 2)
	section := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, section.Text.Text, ":x:")
	assert.Contains(t, section.Text.Text, "Restart Service")
	assert.Contains(t, section.Text.Text, "connection refused")

	action := blocks[1].(*goslack.ActionBlock)
	btn := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	assert.Equal(t, "View Details", btn.Text.Text)
}

func TestTruncateForSlack(t *testing.T) {
	short := "brief error"
	assert.Equal(t, short, truncateForSlack(short))

	long := strings.Repeat("x", maxBlockTextLength+100)
	truncated := truncateForSlack(long)
	assert.Contains(t, truncated, "truncated")
	assert.Less(t, len(truncated), len(long))
}
