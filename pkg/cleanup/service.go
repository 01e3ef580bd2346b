// Package cleanup enforces data retention in the background.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/services"
)

// Service periodically enforces retention policies:
//   - Deletes closed conversations past the conversation window
//     (messages cascade)
//   - Deletes workflow log rows past the log window
//
// Tool runs are never deleted: they are the approval audit trail.
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	registry      *config.Registry
	conversations *services.ConversationService
	audit         *services.AuditService
	now           func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. Retention windows come from the
// live config snapshot, so a reload takes effect on the next run.
func NewService(
	registry *config.Registry,
	conversations *services.ConversationService,
	audit *services.AuditService,
) *Service {
	return &Service{
		registry:      registry,
		conversations: conversations,
		audit:         audit,
		now:           time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	retention := s.retention()
	go s.run(ctx, time.Duration(retention.IntervalHours)*time.Hour)

	slog.Info("Cleanup service started",
		"conversation_days", retention.ConversationDays,
		"log_days", retention.LogDays,
		"interval_hours", retention.IntervalHours)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one retention pass against the current config snapshot.
func (s *Service) RunOnce(ctx context.Context) {
	retention := s.retention()
	s.deleteOldConversations(ctx, retention.ConversationDays)
	s.deleteOldLogs(ctx, retention.LogDays)
}

func (s *Service) retention() config.RetentionConfig {
	return s.registry.Snapshot().System.Retention
}

// deleteOldConversations removes closed conversations older than the window.
// Zero days means keep forever.
func (s *Service) deleteOldConversations(ctx context.Context, days int) {
	if days <= 0 {
		return
	}
	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	count, err := s.conversations.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: conversation cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted closed conversations", "count", count, "cutoff", cutoff)
	}
}

func (s *Service) deleteOldLogs(ctx context.Context, days int) {
	if days <= 0 {
		return
	}
	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	count, err := s.audit.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: workflow log cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted workflow logs", "count", count, "cutoff", cutoff)
	}
}
