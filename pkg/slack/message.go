package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/parleyhq/parley/pkg/models"
)

const maxBlockTextLength = 2900

func conversationURL(baseURL, conversationID string) string {
	return fmt.Sprintf("%s/conversations/%s", baseURL, conversationID)
}

// BuildApprovalRequiredMessage creates Block Kit blocks asking a human to
// decide on a pending tool run.
func BuildApprovalRequiredMessage(run *models.ToolRun, toolName, agentName, consoleURL string) []goslack.Block {
	if toolName == "" {
		toolName = run.ToolID
	}
	text := fmt.Sprintf(":raised_hand: *Tool approval required*\nAgent *%s* wants to run *%s*.\nRun `%s` is waiting for a decision.",
		agentName, toolName, run.ID)
	if len(run.Parameters) > 0 && string(run.Parameters) != "{}" {
		text += fmt.Sprintf("\n*Arguments:*\n```%s```", truncateForSlack(string(run.Parameters)))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if consoleURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "Review in Console", false, false))
		btn.URL = conversationURL(consoleURL, run.ConversationID)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

// BuildToolRunFailedMessage creates Block Kit blocks reporting a failed run.
func BuildToolRunFailedMessage(run *models.ToolRun, toolName, errMsg, consoleURL string) []goslack.Block {
	if toolName == "" {
		toolName = run.ToolID
	}
	text := fmt.Sprintf(":x: *Tool run failed*\nTool *%s*, run `%s`.", toolName, run.ID)
	if errMsg != "" {
		text += fmt.Sprintf("\n*Error:*\n%s", truncateForSlack(errMsg))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if consoleURL != "" {
		btn := goslack.NewButtonBlockElement("", "",
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Details", false, false))
		btn.URL = conversationURL(consoleURL, run.ConversationID)
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
