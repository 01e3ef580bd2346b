package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
	testdb "github.com/parleyhq/parley/test/database"
)

func newToolRunService(t *testing.T) (*ToolRunService, *AuditService) {
	t.Helper()
	client := testdb.NewTestClient(t)
	clock := ids.NewClock()
	audit := NewAuditService(client, clock)
	return NewToolRunService(client, clock, audit), audit
}

func createRun(t *testing.T, svc *ToolRunService) *models.ToolRun {
	t.Helper()
	run, err := svc.CreateToolRun(context.Background(), models.CreateToolRunRequest{
		ConversationID:     ids.New(),
		TurnID:             ids.New(),
		ToolID:             "restart_service",
		RequestedByAgentID: "triage",
		Parameters:         json.RawMessage(`{"service":"billing"}`),
	})
	require.NoError(t, err)
	return run
}

func TestCreateToolRun(t *testing.T) {
	svc, _ := newToolRunService(t)
	run := createRun(t, svc)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.ToolRunPending, run.Status)
	assert.False(t, run.RequestedAt.IsZero())

	got, err := svc.GetToolRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "restart_service", got.ToolID)
	assert.JSONEq(t, `{"service":"billing"}`, string(got.Parameters))
}

func TestCreateToolRunDefaultsEmptyParameters(t *testing.T) {
	svc, _ := newToolRunService(t)

	run, err := svc.CreateToolRun(context.Background(), models.CreateToolRunRequest{
		ConversationID: ids.New(),
		ToolID:         "echo",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(run.Parameters))
}

func TestCreateToolRunValidation(t *testing.T) {
	svc, _ := newToolRunService(t)

	_, err := svc.CreateToolRun(context.Background(), models.CreateToolRunRequest{ToolID: "echo"})
	assert.True(t, IsValidationError(err))

	_, err = svc.CreateToolRun(context.Background(), models.CreateToolRunRequest{ConversationID: "c1"})
	assert.True(t, IsValidationError(err))
}

func TestTransitionToolRun(t *testing.T) {
	svc, _ := newToolRunService(t)
	run := createRun(t, svc)

	approver := "op"
	updated, err := svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunApproved,
		models.ToolRunPatch{ApprovedBySub: &approver}, approver)
	require.NoError(t, err)
	assert.Equal(t, models.ToolRunApproved, updated.Status)
	assert.Equal(t, "op", updated.ApprovedBySub)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	svc, _ := newToolRunService(t)
	run := createRun(t, svc)

	// PENDING → EXECUTED skips the approval edge entirely.
	_, err := svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunExecuted, models.ToolRunPatch{}, "system")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionCASLoss(t *testing.T) {
	svc, _ := newToolRunService(t)
	run := createRun(t, svc)

	reason := "rejected"
	_, err := svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunRejected,
		models.ToolRunPatch{RejectionReason: &reason}, "op")
	require.NoError(t, err)

	// A second decision finds the run no longer PENDING.
	approver := "op"
	_, err = svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunApproved,
		models.ToolRunPatch{ApprovedBySub: &approver}, "op")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	got, err := svc.GetToolRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ToolRunRejected, got.Status)
	assert.Equal(t, "rejected", got.RejectionReason)
}

func TestTransitionUnknownRun(t *testing.T) {
	svc, _ := newToolRunService(t)

	_, err := svc.TransitionToolRun(context.Background(), "missing",
		models.ToolRunPending, models.ToolRunApproved, models.ToolRunPatch{}, "op")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListToolRunsFilters(t *testing.T) {
	svc, _ := newToolRunService(t)
	run := createRun(t, svc)
	createRun(t, svc)

	byConversation, err := svc.ListToolRuns(context.Background(),
		models.ToolRunFilters{ConversationID: run.ConversationID})
	require.NoError(t, err)
	require.Len(t, byConversation, 1)
	assert.Equal(t, run.ID, byConversation[0].ID)

	pending, err := svc.ListToolRuns(context.Background(),
		models.ToolRunFilters{Status: models.ToolRunPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSweepOrphanedExecuting(t *testing.T) {
	svc, _ := newToolRunService(t)
	run := createRun(t, svc)

	approver := "op"
	_, err := svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunApproved,
		models.ToolRunPatch{ApprovedBySub: &approver}, "op")
	require.NoError(t, err)
	_, err = svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunApproved, models.ToolRunExecuting, models.ToolRunPatch{}, "system")
	require.NoError(t, err)

	// A run left PENDING is untouched by the sweep.
	createRun(t, svc)

	count, err := svc.SweepOrphanedExecuting(context.Background(), "orphaned by restart")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := svc.GetToolRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ToolRunFailed, got.Status)
	assert.Equal(t, "orphaned by restart", got.Error)
}

func TestTransitionsAreAudited(t *testing.T) {
	svc, audit := newToolRunService(t)
	run := createRun(t, svc)

	reason := "too risky"
	_, err := svc.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunRejected,
		models.ToolRunPatch{RejectionReason: &reason}, "op")
	require.NoError(t, err)

	logs, err := audit.ListForRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2, "creation and rejection are both recorded")

	assert.Equal(t, "", logs[0].FromStatus)
	assert.Equal(t, string(models.ToolRunPending), logs[0].ToStatus)

	assert.Equal(t, "op", logs[1].Actor)
	assert.Equal(t, string(models.ToolRunPending), logs[1].FromStatus)
	assert.Equal(t, string(models.ToolRunRejected), logs[1].ToStatus)
	assert.Equal(t, "too risky", logs[1].Reason)
}
