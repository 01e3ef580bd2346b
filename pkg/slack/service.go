package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

const defaultDedupWindow = 15 * time.Minute

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string

	// ConsoleBaseURL makes notifications link to the conversation. Optional.
	ConsoleBaseURL string

	// DedupWindow suppresses repeat notifications with the same fingerprint.
	// Zero means the 15 minute default.
	DedupWindow time.Duration
}

// Service posts approval notifications to Slack. Implements the runner's
// notifier contract. Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client     *Client
	consoleURL string
	dedup      *deduper
	logger     *slog.Logger
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return newService(NewClient(cfg.Token, cfg.Channel), cfg)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, cfg ServiceConfig) *Service {
	return newService(client, cfg)
}

func newService(client *Client, cfg ServiceConfig) *Service {
	window := cfg.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &Service{
		client:     client,
		consoleURL: cfg.ConsoleBaseURL,
		dedup:      newDeduper(window),
		logger:     slog.Default().With("component", "slack-service"),
	}
}

// NotifyApprovalRequired posts a notification for a tool run waiting on a
// human decision. Fail-open: errors are logged, never returned.
func (s *Service) NotifyApprovalRequired(ctx context.Context, run *models.ToolRun, toolName, agentName string) {
	if s == nil {
		return
	}
	fingerprint := fmt.Sprintf("approval %s %s %s", run.ConversationID, run.ToolID, string(run.Parameters))
	if s.dedup.suppress(fingerprint) {
		return
	}

	blocks := BuildApprovalRequiredMessage(run, toolName, agentName, s.consoleURL)
	if err := s.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack approval notification",
			"run_id", run.ID,
			"tool_id", run.ToolID,
			"error", err)
	}
}

// NotifyToolRunFailed posts a notification for a failed tool run.
// Fail-open: errors are logged, never returned.
func (s *Service) NotifyToolRunFailed(ctx context.Context, run *models.ToolRun, errMsg string) {
	if s == nil {
		return
	}
	fingerprint := fmt.Sprintf("failed %s %s %s", run.ConversationID, run.ToolID, errMsg)
	if s.dedup.suppress(fingerprint) {
		return
	}

	blocks := BuildToolRunFailedMessage(run, run.ToolID, errMsg, s.consoleURL)
	if err := s.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack failure notification",
			"run_id", run.ID,
			"tool_id", run.ToolID,
			"error", err)
	}
}
