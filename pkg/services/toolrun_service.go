package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
)

// ToolRunService persists tool-run records. Status transitions are
// compare-and-set: the UPDATE carries the expected current status so two
// concurrent deciders (approval coordinator timeout vs an admin click)
// cannot both win.
type ToolRunService struct {
	db     *sql.DB
	driver string
	clock  *ids.Clock
	audit  *AuditService
}

// NewToolRunService creates a ToolRunService. The audit service records one
// workflow log row per transition; pass nil to skip auditing (tests).
func NewToolRunService(client *database.Client, clock *ids.Clock, audit *AuditService) *ToolRunService {
	return &ToolRunService{db: client.DB(), driver: client.DriverName(), clock: clock, audit: audit}
}

func (s *ToolRunService) rebind(query string) string {
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

// CreateToolRun persists a new run with status PENDING.
func (s *ToolRunService) CreateToolRun(httpCtx context.Context, req models.CreateToolRunRequest) (*models.ToolRun, error) {
	if req.ConversationID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}
	if req.ToolID == "" {
		return nil, NewValidationError("tool_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	params := req.Parameters
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	run := &models.ToolRun{
		ID:                 ids.New(),
		ConversationID:     req.ConversationID,
		TurnID:             req.TurnID,
		ToolID:             req.ToolID,
		RequestedByAgentID: req.RequestedByAgentID,
		Parameters:         params,
		Status:             models.ToolRunPending,
		RequestedAt:        s.clock.Now(),
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tool_runs (id, conversation_id, turn_id, tool_id, requested_by_agent_id, parameters, status, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.ConversationID, run.TurnID, run.ToolID, run.RequestedByAgentID,
		string(run.Parameters), string(run.Status), run.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool run: %w", err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, models.AppendWorkflowLogRequest{
			ConversationID: run.ConversationID,
			RunID:          run.ID,
			Event:          models.AuditToolRunTransition,
			Actor:          run.RequestedByAgentID,
			ToStatus:       string(models.ToolRunPending),
		})
	}
	return run, nil
}

// GetToolRun retrieves a run by id.
func (s *ToolRunService) GetToolRun(ctx context.Context, id string) (*models.ToolRun, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, conversation_id, turn_id, tool_id, requested_by_agent_id, parameters, status,
		       result, error, approved_by_sub, rejection_reason, requested_at, decided_at, executed_at
		FROM tool_runs WHERE id = ?`), id)
	return scanToolRun(row)
}

// TransitionToolRun moves a run from → to along the status DAG, applying the
// patch fields in the same statement. Fails with ErrIllegalTransition when
// the edge is not in the DAG or the run is no longer in the from status.
func (s *ToolRunService) TransitionToolRun(httpCtx context.Context, id string, from, to models.ToolRunStatus, patch models.ToolRunPatch, actor string) (*models.ToolRun, error) {
	if !models.ValidToolRunTransition(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	set := []string{"status = ?"}
	args := []any{string(to)}
	if patch.Result != nil {
		set = append(set, "result = ?")
		args = append(args, *patch.Result)
	}
	if patch.Error != nil {
		set = append(set, "error = ?")
		args = append(args, *patch.Error)
	}
	if patch.ApprovedBySub != nil {
		set = append(set, "approved_by_sub = ?")
		args = append(args, *patch.ApprovedBySub)
	}
	if patch.RejectionReason != nil {
		set = append(set, "rejection_reason = ?")
		args = append(args, *patch.RejectionReason)
	}
	if patch.DecidedAt != nil {
		set = append(set, "decided_at = ?")
		args = append(args, *patch.DecidedAt)
	}
	if patch.ExecutedAt != nil {
		set = append(set, "executed_at = ?")
		args = append(args, *patch.ExecutedAt)
	}
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE tool_runs SET "+strings.Join(set, ", ")+" WHERE id = ? AND status = ?"), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition tool run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish "unknown run" from "CAS lost".
		if _, getErr := s.GetToolRun(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: run %s is not %s", ErrIllegalTransition, id, from)
	}

	run, err := s.GetToolRun(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		reason := ""
		if patch.RejectionReason != nil {
			reason = *patch.RejectionReason
		} else if patch.Error != nil {
			reason = *patch.Error
		}
		s.audit.Record(ctx, models.AppendWorkflowLogRequest{
			ConversationID: run.ConversationID,
			RunID:          run.ID,
			Event:          models.AuditToolRunTransition,
			Actor:          actor,
			FromStatus:     string(from),
			ToStatus:       string(to),
			Reason:         reason,
		})
	}
	return run, nil
}

// ListToolRuns returns runs matching the filters, newest first.
func (s *ToolRunService) ListToolRuns(ctx context.Context, filters models.ToolRunFilters) ([]*models.ToolRun, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filters.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, filters.ConversationID)
	}
	if filters.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filters.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, conversation_id, turn_id, tool_id, requested_by_agent_id, parameters, status,
		       result, error, approved_by_sub, rejection_reason, requested_at, decided_at, executed_at
		FROM tool_runs`+clause+` ORDER BY requested_at DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.ToolRun, 0)
	for rows.Next() {
		run, err := scanToolRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tool runs: %w", err)
	}
	return runs, nil
}

// SweepOrphanedExecuting transitions every EXECUTING run to FAILED. Called
// once at startup: a run still EXECUTING at boot belonged to a process that
// died mid-execution.
func (s *ToolRunService) SweepOrphanedExecuting(ctx context.Context, reason string) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id FROM tool_runs WHERE status = ?`), string(models.ToolRunExecuting))
	if err != nil {
		return 0, fmt.Errorf("failed to query executing tool runs: %w", err)
	}
	idsToSweep := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan tool run id: %w", err)
		}
		idsToSweep = append(idsToSweep, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate tool run ids: %w", err)
	}

	swept := 0
	now := s.clock.Now()
	for _, id := range idsToSweep {
		_, err := s.TransitionToolRun(ctx, id, models.ToolRunExecuting, models.ToolRunFailed,
			models.ToolRunPatch{Error: &reason, ExecutedAt: &now}, "system")
		if err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func scanToolRun(row rowScanner) (*models.ToolRun, error) {
	var (
		run        models.ToolRun
		params     string
		status     string
		result     sql.NullString
		errMsg     sql.NullString
		approvedBy sql.NullString
		rejection  sql.NullString
		decidedAt  sql.NullTime
		executedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.ConversationID, &run.TurnID, &run.ToolID, &run.RequestedByAgentID,
		&params, &status, &result, &errMsg, &approvedBy, &rejection, &run.RequestedAt, &decidedAt, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool run: %w", err)
	}
	run.Parameters = json.RawMessage(params)
	run.Status = models.ToolRunStatus(status)
	run.Result = result.String
	run.Error = errMsg.String
	run.ApprovedBySub = approvedBy.String
	run.RejectionReason = rejection.String
	if decidedAt.Valid {
		t := decidedAt.Time
		run.DecidedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		run.ExecutedAt = &t
	}
	return &run, nil
}
