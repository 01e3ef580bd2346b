// Package approval correlates human approval decisions with tool runs
// suspended mid-turn. The coordinator is process-wide: decisions arrive from
// any transport (WebSocket, REST, Slack) and rendezvous with the single
// runner goroutine awaiting them.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/services"
)

var (
	// ErrDuplicateWaiter means a waiter is already registered for the run.
	ErrDuplicateWaiter = errors.New("a waiter is already registered for this tool run")

	// ErrIllegalDecision means the run is unknown or no longer PENDING.
	ErrIllegalDecision = errors.New("tool run is not awaiting a decision")

	// ErrDecisionTimeout means no decision arrived within the approval window.
	ErrDecisionTimeout = errors.New("approval decision timed out")
)

// graceWindow is how long an early decision (submitted before the runner
// registers its waiter) stays buffered.
const graceWindow = 30 * time.Second

// Decision is a resolved approval.
type Decision struct {
	Approved  bool
	Reason    string
	DecidedBy string
}

// Coordinator pairs decisions with waiting tool runs. One per process.
type Coordinator struct {
	runs *services.ToolRunService

	mu       sync.Mutex
	waiters  map[string]chan Decision
	buffered map[string]Decision
}

// NewCoordinator creates a coordinator backed by the tool run store.
func NewCoordinator(runs *services.ToolRunService) *Coordinator {
	return &Coordinator{
		runs:     runs,
		waiters:  make(map[string]chan Decision),
		buffered: make(map[string]Decision),
	}
}

// SubmitDecision records a decision for a PENDING run and delivers it to the
// waiting runner. The status transition happens here, so a decision submitted
// after a crash (no waiter alive) is still durably recorded. Rejections carry
// the reason; approvals carry the decider.
func (c *Coordinator) SubmitDecision(ctx context.Context, runID string, d Decision) error {
	now := time.Now().UTC()
	var err error
	if d.Approved {
		_, err = c.runs.TransitionToolRun(ctx, runID, models.ToolRunPending, models.ToolRunApproved,
			models.ToolRunPatch{ApprovedBySub: &d.DecidedBy, DecidedAt: &now}, d.DecidedBy)
	} else {
		reason := d.Reason
		if reason == "" {
			reason = "rejected"
		}
		_, err = c.runs.TransitionToolRun(ctx, runID, models.ToolRunPending, models.ToolRunRejected,
			models.ToolRunPatch{RejectionReason: &reason, DecidedAt: &now}, d.DecidedBy)
	}
	if err != nil {
		if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrIllegalTransition) {
			return fmt.Errorf("%w: %s", ErrIllegalDecision, runID)
		}
		return err
	}

	c.deliver(runID, d)
	return nil
}

// AwaitDecision blocks until a decision arrives for the run, the timeout
// elapses, or ctx is cancelled. On timeout the run is transitioned
// PENDING→REJECTED with reason "timeout" and ErrDecisionTimeout is returned.
// On ctx cancellation the run is left PENDING for the caller to resolve.
func (c *Coordinator) AwaitDecision(ctx context.Context, runID string, timeout time.Duration) (Decision, error) {
	ch, early, err := c.register(runID)
	if err != nil {
		return Decision{}, err
	}
	if early != nil {
		return *early, nil
	}
	defer c.unregister(runID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	case <-timer.C:
		return c.resolveTimeout(runID, ch)
	}
}

// resolveTimeout rejects the run with reason "timeout". When the CAS loses to
// a decision that landed at the same moment, the recorded decision wins and is
// returned instead.
func (c *Coordinator) resolveTimeout(runID string, ch chan Decision) (Decision, error) {
	reason := "timeout"
	now := time.Now().UTC()
	_, err := c.runs.TransitionToolRun(context.Background(), runID, models.ToolRunPending, models.ToolRunRejected,
		models.ToolRunPatch{RejectionReason: &reason, DecidedAt: &now}, "system")
	if err == nil {
		return Decision{}, ErrDecisionTimeout
	}
	if !errors.Is(err, services.ErrIllegalTransition) {
		slog.Error("Failed to reject tool run on approval timeout", "run_id", runID, "error", err)
		return Decision{}, ErrDecisionTimeout
	}

	// CAS lost: someone decided concurrently. Their delivery may already be
	// in the channel, otherwise read the outcome back from the store.
	select {
	case d := <-ch:
		return d, nil
	default:
	}
	run, getErr := c.runs.GetToolRun(context.Background(), runID)
	if getErr != nil {
		return Decision{}, ErrDecisionTimeout
	}
	switch run.Status {
	case models.ToolRunApproved:
		return Decision{Approved: true, DecidedBy: run.ApprovedBySub}, nil
	case models.ToolRunRejected:
		return Decision{Approved: false, Reason: run.RejectionReason}, nil
	default:
		return Decision{}, ErrDecisionTimeout
	}
}

// register installs a waiter for the run. When a buffered early decision
// exists it is consumed and returned instead.
func (c *Coordinator) register(runID string) (chan Decision, *Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.buffered[runID]; ok {
		delete(c.buffered, runID)
		return nil, &d, nil
	}
	if _, ok := c.waiters[runID]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateWaiter, runID)
	}
	ch := make(chan Decision, 1)
	c.waiters[runID] = ch
	return ch, nil, nil
}

func (c *Coordinator) unregister(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, runID)
}

// deliver hands the decision to the registered waiter, or buffers it for the
// grace window when the waiter has not registered yet.
func (c *Coordinator) deliver(runID string, d Decision) {
	c.mu.Lock()
	if ch, ok := c.waiters[runID]; ok {
		c.mu.Unlock()
		// Buffered size 1; a second delivery for the same run cannot happen
		// because the status CAS admits exactly one decision.
		ch <- d
		return
	}
	c.buffered[runID] = d
	c.mu.Unlock()

	time.AfterFunc(graceWindow, func() {
		c.mu.Lock()
		delete(c.buffered, runID)
		c.mu.Unlock()
	})
}

// PendingWaiters returns the number of runs currently awaiting a decision.
func (c *Coordinator) PendingWaiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
