package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
)

// AuditService writes workflow log rows. Audit writes are best-effort: a
// failed insert is logged but never propagated, so a broken audit path cannot
// take a turn down with it.
type AuditService struct {
	db     *sql.DB
	driver string
	clock  *ids.Clock
}

// NewAuditService creates an AuditService.
func NewAuditService(client *database.Client, clock *ids.Clock) *AuditService {
	return &AuditService{db: client.DB(), driver: client.DriverName(), clock: clock}
}

func (s *AuditService) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Record writes one audit row. Errors are logged, not returned.
func (s *AuditService) Record(ctx context.Context, req models.AppendWorkflowLogRequest) {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO workflow_logs (id, conversation_id, run_id, event, actor, from_status, to_status, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ids.New(), req.ConversationID, req.RunID, req.Event, req.Actor,
		req.FromStatus, req.ToStatus, req.Reason, s.clock.Now())
	if err != nil {
		slog.Warn("Failed to write workflow log",
			"event", req.Event, "run_id", req.RunID, "error", err)
	}
}

// ListForRun returns the audit trail for one tool run, oldest first.
func (s *AuditService) ListForRun(ctx context.Context, runID string) ([]*models.WorkflowLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, conversation_id, run_id, event, actor, from_status, to_status, reason, created_at
		FROM workflow_logs WHERE run_id = ? ORDER BY created_at ASC`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow logs: %w", err)
	}
	defer rows.Close()
	return collectWorkflowLogs(rows)
}

// ListForConversation returns the audit trail for one conversation, oldest first.
func (s *AuditService) ListForConversation(ctx context.Context, conversationID string) ([]*models.WorkflowLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, conversation_id, run_id, event, actor, from_status, to_status, reason, created_at
		FROM workflow_logs WHERE conversation_id = ? ORDER BY created_at ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow logs: %w", err)
	}
	defer rows.Close()
	return collectWorkflowLogs(rows)
}

// DeleteOlderThan removes audit rows past the retention window.
func (s *AuditService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM workflow_logs WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete workflow logs: %w", err)
	}
	return res.RowsAffected()
}

func collectWorkflowLogs(rows *sql.Rows) ([]*models.WorkflowLog, error) {
	logs := make([]*models.WorkflowLog, 0)
	for rows.Next() {
		var l models.WorkflowLog
		var convID, runID, fromStatus, toStatus, reason sql.NullString
		if err := rows.Scan(&l.ID, &convID, &runID, &l.Event, &l.Actor, &fromStatus, &toStatus, &reason, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow log: %w", err)
		}
		l.ConversationID = convID.String
		l.RunID = runID.String
		l.FromStatus = fromStatus.String
		l.ToStatus = toStatus.String
		l.Reason = reason.String
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflow logs: %w", err)
	}
	return logs, nil
}
