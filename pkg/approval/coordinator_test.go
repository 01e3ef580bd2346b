package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/services"
	testdb "github.com/parleyhq/parley/test/database"
)

func setupCoordinator(t *testing.T) (*Coordinator, *services.ToolRunService) {
	t.Helper()
	client := testdb.NewTestClient(t)
	runs := services.NewToolRunService(client, ids.NewClock(), nil)
	return NewCoordinator(runs), runs
}

func createPendingRun(t *testing.T, runs *services.ToolRunService) *models.ToolRun {
	t.Helper()
	run, err := runs.CreateToolRun(context.Background(), models.CreateToolRunRequest{
		ConversationID:     "conv-1",
		TurnID:             "turn-1",
		ToolID:             "file_write",
		RequestedByAgentID: "agent-1",
	})
	require.NoError(t, err)
	return run
}

func TestAwaitThenSubmitApproval(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	type result struct {
		d   Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := c.AwaitDecision(context.Background(), run.ID, time.Minute)
		done <- result{d, err}
	}()

	// Wait until the waiter registers, then decide.
	require.Eventually(t, func() bool { return c.PendingWaiters() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SubmitDecision(context.Background(), run.ID, Decision{
		Approved:  true,
		DecidedBy: "alice",
	}))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.d.Approved)
		assert.Equal(t, "alice", res.d.DecidedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("decision was not delivered")
	}

	// The transition was recorded durably.
	stored, err := runs.GetToolRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ToolRunApproved, stored.Status)
	assert.Equal(t, "alice", stored.ApprovedBySub)
	assert.NotNil(t, stored.DecidedAt)
}

func TestSubmitBeforeAwaitIsBuffered(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	require.NoError(t, c.SubmitDecision(context.Background(), run.ID, Decision{
		Approved: false,
		Reason:   "not today",
	}))

	// The decision landed before the waiter; AwaitDecision picks it up
	// from the grace buffer without blocking.
	d, err := c.AwaitDecision(context.Background(), run.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "not today", d.Reason)

	stored, err := runs.GetToolRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ToolRunRejected, stored.Status)
	assert.Equal(t, "not today", stored.RejectionReason)
}

func TestDuplicateWaiterRejected(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	go func() {
		_, _ = c.AwaitDecision(context.Background(), run.ID, time.Minute)
	}()
	require.Eventually(t, func() bool { return c.PendingWaiters() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, err := c.AwaitDecision(context.Background(), run.ID, time.Minute)
	assert.ErrorIs(t, err, ErrDuplicateWaiter)

	// Unblock the first waiter.
	require.NoError(t, c.SubmitDecision(context.Background(), run.ID, Decision{Approved: true, DecidedBy: "x"}))
}

func TestTimeoutRejectsRun(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	_, err := c.AwaitDecision(context.Background(), run.ID, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrDecisionTimeout)

	stored, getErr := runs.GetToolRun(context.Background(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ToolRunRejected, stored.Status)
	assert.Equal(t, "timeout", stored.RejectionReason)

	// A late decision finds the run already rejected.
	err = c.SubmitDecision(context.Background(), run.ID, Decision{Approved: true, DecidedBy: "late"})
	assert.ErrorIs(t, err, ErrIllegalDecision)
}

func TestDecisionForUnknownRun(t *testing.T) {
	c, _ := setupCoordinator(t)

	err := c.SubmitDecision(context.Background(), "no-such-run", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrIllegalDecision)
}

func TestDecisionForNonPendingRun(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	decider := "alice"
	now := time.Now().UTC()
	_, err := runs.TransitionToolRun(context.Background(), run.ID,
		models.ToolRunPending, models.ToolRunApproved,
		models.ToolRunPatch{ApprovedBySub: &decider, DecidedAt: &now}, decider)
	require.NoError(t, err)

	err = c.SubmitDecision(context.Background(), run.ID, Decision{Approved: false, Reason: "too late"})
	assert.ErrorIs(t, err, ErrIllegalDecision)
}

func TestAwaitHonorsContextCancel(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.AwaitDecision(ctx, run.ID, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	// Cancellation leaves the run PENDING; resolving it is the caller's job.
	stored, getErr := runs.GetToolRun(context.Background(), run.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ToolRunPending, stored.Status)
	assert.Equal(t, 0, c.PendingWaiters())
}

func TestWaiterFreedAfterDelivery(t *testing.T) {
	c, runs := setupCoordinator(t)
	run := createPendingRun(t, runs)

	go func() {
		_, _ = c.AwaitDecision(context.Background(), run.ID, time.Minute)
	}()
	require.Eventually(t, func() bool { return c.PendingWaiters() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.SubmitDecision(context.Background(), run.ID, Decision{Approved: true, DecidedBy: "x"}))
	require.Eventually(t, func() bool { return c.PendingWaiters() == 0 },
		2*time.Second, 10*time.Millisecond)
}
