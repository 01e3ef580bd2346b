package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/router"
	"github.com/parleyhq/parley/pkg/services"
)

const (
	// maxStreamRetries bounds restarts after retryable stream errors.
	maxStreamRetries = 2

	// streamRetryBackoff is the base backoff, doubled per attempt.
	streamRetryBackoff = 500 * time.Millisecond
)

// Metadata keys written onto tool_result messages.
const (
	metadataToolRunID = "tool_run_id"
	metadataToolID    = "tool_id"
)

// turnRun carries the mutable state of one executing turn.
type turnRun struct {
	m     *Manager
	turn  *Turn
	in    StartTurnInput
	snap  *config.Snapshot
	start time.Time

	domain  *config.DomainConfig
	agent   *config.AgentConfig
	logger  *slog.Logger
	history []llm.Message

	// text accumulated across stream segments; becomes the final assistant
	// message content.
	text strings.Builder

	firstChunkSeen bool
	handoffs       int
}

// run executes a full turn. All terminal paths emit exactly one of
// message_complete or error on the conversation.
func (m *Manager) run(ctx context.Context, turn *Turn, in StartTurnInput, userMsg *models.Message) {
	r := &turnRun{
		m:     m,
		turn:  turn,
		in:    in,
		snap:  m.registry.Snapshot(),
		start: time.Now(),
		logger: slog.With(
			"conversation_id", in.Conversation.ID,
			"turn_id", turn.ID,
		),
	}

	defer func() {
		// Releases every resource tied to the turn context (upstream
		// streams, recv goroutines) even when the turn completes normally.
		turn.cancel()
		m.unregister(in.Conversation.ID)
		m.wg.Done()
		if m.metrics != nil {
			m.metrics.ActiveTurns.Dec()
		}
		m.metrics.ObserveTurn(r.start)
	}()

	r.logger.Info("Turn started", "domain_id", in.Conversation.DomainID)

	domain, err := r.snap.GetDomain(in.Conversation.DomainID)
	if err != nil {
		r.fail(events.CodeNotConfigured, fmt.Sprintf("domain %s is not configured", in.Conversation.DomainID))
		return
	}
	r.domain = domain

	if err := r.buildHistory(ctx); err != nil {
		r.fail(events.CodeStreamError, "failed to load conversation history")
		return
	}
	if err := r.route(ctx, userMsg); err != nil {
		return
	}
	r.stream(ctx)
}

// route picks the agent for this turn and emits agent_selected.
func (r *turnRun) route(ctx context.Context, userMsg *models.Message) error {
	userCount, err := r.m.conversations.CountUserMessages(ctx, r.in.Conversation.ID)
	if err != nil {
		r.fail(events.CodeStreamError, "failed to read conversation state")
		return err
	}
	lastAgent, err := r.m.conversations.LastAssistantAgentID(ctx, r.in.Conversation.ID)
	if err != nil {
		r.fail(events.CodeStreamError, "failed to read conversation state")
		return err
	}

	// History already ends with the current user message; the router appends
	// the user message itself.
	prior := r.history
	if n := len(prior); n > 0 && prior[n-1].Role == "user" && prior[n-1].Content == userMsg.Content {
		prior = prior[:n-1]
	}

	decision, err := r.m.router.Route(ctx, router.Input{
		Domain:               r.domain,
		UserMessage:          userMsg.Content,
		History:              prior,
		LastAssistantAgentID: lastAgent,
		TurnIndex:            userCount - 1, // the current user message is already persisted
		RequesterRole:        r.in.RequesterRole,
		TestingOverride:      r.in.TestingOverride,
	})
	if err != nil {
		if errors.Is(err, router.ErrNoEligibleAgent) {
			r.fail(events.CodeForbidden, "no eligible agent for this request")
		} else {
			r.fail(events.CodeNotConfigured, "routing failed: "+err.Error())
		}
		return err
	}

	agent, err := r.snap.GetAgent(decision.AgentID)
	if err != nil {
		r.fail(events.CodeNotConfigured, "routed agent is not configured")
		return err
	}
	r.agent = agent
	r.logger = r.logger.With("agent_id", agent.ID)

	r.publish(events.Event{
		Type:           events.EventAgentSelected,
		ConversationID: r.in.Conversation.ID,
		Payload: events.AgentSelectedPayload{
			AgentID:    decision.AgentID,
			AgentName:  agent.Name,
			Strategy:   string(decision.Strategy),
			Confidence: decision.Confidence,
			Rationale:  decision.Rationale,
		},
	})
	return nil
}

// buildHistory loads prior messages into LLM form. Tool results from earlier
// turns are flattened to plain user-visible text; the model only sees
// structured tool calls within the current turn.
func (r *turnRun) buildHistory(ctx context.Context) error {
	messages, err := r.m.conversations.ListMessages(ctx, r.in.Conversation.ID, 0)
	if err != nil {
		return err
	}

	history := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			history = append(history, llm.Message{Role: "user", Content: msg.Content})
		case models.RoleAssistant:
			history = append(history, llm.Message{Role: "assistant", Content: msg.Content})
		case models.RoleToolResult:
			toolID, _ := msg.Metadata[metadataToolID].(string)
			history = append(history, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf("[tool %s result] %s", toolID, msg.Content),
			})
		}
		// System rows (error markers) are bookkeeping, not model context.
	}
	r.history = history
	return nil
}

// segment is the outcome of one LLM stream invocation.
type segment struct {
	text      string
	toolCalls []*llm.ToolCallIntent
}

// stream runs the STREAMING loop: stream a segment, process its tool calls,
// restart until the model completes without tool calls.
func (r *turnRun) stream(ctx context.Context) {
	for {
		seg, err := r.streamSegmentWithRetry(ctx)
		if err != nil {
			return // terminal path already taken
		}
		r.text.WriteString(seg.text)

		if len(seg.toolCalls) == 0 {
			r.complete(ctx)
			return
		}

		r.history = append(r.history, llm.Message{
			Role:      "assistant",
			Content:   seg.text,
			ToolCalls: intentsToCalls(seg.toolCalls),
		})

		for _, call := range seg.toolCalls {
			if ctx.Err() != nil {
				r.cancelled(ctx)
				return
			}
			cont := r.processToolCall(ctx, call)
			if !cont {
				return
			}
		}
	}
}

// streamSegmentWithRetry streams one segment, retrying retryable errors with
// exponential backoff. A nil error with a nil segment never happens; a
// returned error means a terminal path was already taken.
func (r *turnRun) streamSegmentWithRetry(ctx context.Context) (*segment, error) {
	var lastErr error
	for attempt := 0; attempt <= maxStreamRetries; attempt++ {
		if attempt > 0 {
			backoff := streamRetryBackoff << (attempt - 1)
			r.logger.Warn("Retrying LLM stream", "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				r.cancelled(ctx)
				return nil, ctx.Err()
			}
		}

		seg, err := r.streamSegment(ctx)
		if err == nil {
			return seg, nil
		}
		if ctx.Err() != nil {
			r.cancelled(ctx)
			return nil, err
		}
		if errors.Is(err, llm.ErrOverloaded) {
			r.fail(events.CodeOverloaded, "model admission queue timed out")
			return nil, err
		}

		var llmErr *llm.Error
		if errors.As(err, &llmErr) && llmErr.Retryable {
			lastErr = err
			continue
		}
		r.fail(events.CodeStreamError, "model stream failed: "+err.Error())
		return nil, err
	}

	r.fail(events.CodeStreamError, "model stream failed after retries: "+lastErr.Error())
	return nil, lastErr
}

// streamSegment performs one LLM stream call, emitting chunks as they arrive.
func (r *turnRun) streamSegment(ctx context.Context) (*segment, error) {
	modelID := r.agent.ModelID
	if modelID == "" {
		modelID = r.m.settings.LLMModelDefault
	}

	if err := r.m.limiter.Acquire(ctx, modelID); err != nil {
		return nil, err
	}
	defer r.m.limiter.Release(modelID)

	eventsCh, err := r.m.llm.Stream(ctx, llm.StreamInput{
		ModelID:      modelID,
		SystemPrompt: r.agent.SystemPrompt,
		Messages:     r.history,
		Tools:        r.toolDefinitions(),
		Thinking:     r.in.EnableThinking,
	})
	if err != nil {
		return nil, err
	}

	seg := &segment{}
	for ev := range eventsCh {
		switch e := ev.(type) {
		case *llm.TokenChunk:
			if !r.firstChunkSeen {
				r.firstChunkSeen = true
				if r.m.metrics != nil {
					r.m.metrics.LLMFirstChunk.Observe(time.Since(r.start).Seconds())
				}
			}
			seg.text += e.Text
			r.publish(events.Event{
				Type:           events.EventMessageChunk,
				ConversationID: r.in.Conversation.ID,
				Payload:        events.MessageChunkPayload{Chunk: e.Text, AgentID: r.agent.ID},
			})
		case *llm.ThinkingChunk:
			r.publish(events.Event{
				Type:           events.EventWorkflowThought,
				ConversationID: r.in.Conversation.ID,
				Payload:        events.WorkflowThoughtPayload{AgentName: r.agent.Name, Reason: e.Text},
			})
		case *llm.ToolCallIntent:
			seg.toolCalls = append(seg.toolCalls, e)
		case *llm.StreamError:
			return nil, &llm.Error{Kind: e.Kind, Message: e.Message, Retryable: e.Retryable}
		case *llm.Completed:
			// Channel closes right after; nothing to record.
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return seg, nil
}

// toolDefinitions renders the agent's tools as function schemas.
func (r *turnRun) toolDefinitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.agent.ToolIDs))
	for _, toolID := range r.agent.ToolIDs {
		tool, err := r.snap.GetTool(toolID)
		if err != nil {
			continue
		}
		schema, err := json.Marshal(tool.ParametersSchema)
		if err != nil {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:             toolID,
			Description:      tool.Description,
			ParametersSchema: string(schema),
		})
	}
	return defs
}

// processToolCall handles one tool call intent. Returns false when the turn
// reached a terminal state.
func (r *turnRun) processToolCall(ctx context.Context, call *llm.ToolCallIntent) bool {
	if call.ToolID == config.HandoffToolID {
		return r.handoff(ctx, call)
	}

	// Pre-flight gates: failures are fed back to the model as tool results
	// so it can correct course within the same turn.
	if !contains(r.agent.ToolIDs, call.ToolID) {
		r.appendToolResult(ctx, call, fmt.Sprintf("tool %s is not available to this agent", call.ToolID), "")
		return true
	}
	if !r.m.tools.IsRoleAllowed(r.snap, call.ToolID, r.in.RequesterRole) {
		r.appendToolResult(ctx, call, fmt.Sprintf("tool %s is not permitted for your role", call.ToolID), "")
		return true
	}
	args, err := r.m.tools.Validate(r.snap, call.ToolID, call.Arguments)
	if err != nil {
		r.appendToolResult(ctx, call, "invalid tool arguments: "+err.Error(), "")
		return true
	}

	tool, err := r.snap.GetTool(call.ToolID)
	if err != nil {
		r.appendToolResult(ctx, call, fmt.Sprintf("tool %s is not configured", call.ToolID), "")
		return true
	}

	run, err := r.m.toolRuns.CreateToolRun(ctx, models.CreateToolRunRequest{
		ConversationID:     r.in.Conversation.ID,
		TurnID:             r.turn.ID,
		ToolID:             call.ToolID,
		RequestedByAgentID: r.agent.ID,
		Parameters:         call.Arguments,
	})
	if err != nil {
		r.fail(events.CodeToolRequestFailed, "failed to record tool request")
		return false
	}
	if r.m.metrics != nil {
		r.m.metrics.ToolRunsRequested.Inc()
	}

	if tool.RequiresApproval {
		return r.awaitApproval(ctx, call, run, tool, args)
	}

	// Auto-approved: walk the same DAG with the system actor so the audit
	// trail shows every run passing through APPROVED.
	now := time.Now().UTC()
	systemActor := "system"
	if _, err := r.m.toolRuns.TransitionToolRun(ctx, run.ID, models.ToolRunPending, models.ToolRunApproved,
		models.ToolRunPatch{ApprovedBySub: &systemActor, DecidedAt: &now}, systemActor); err != nil {
		r.fail(events.CodeToolRequestFailed, "failed to advance tool run")
		return false
	}
	return r.execute(ctx, call, run.ID, args, tool)
}

// awaitApproval suspends the turn until a human decides the run.
func (r *turnRun) awaitApproval(ctx context.Context, call *llm.ToolCallIntent, run *models.ToolRun, tool *config.ToolConfig, args map[string]any) bool {
	r.publish(events.Event{
		Type:           events.EventToolApprovalRequired,
		ConversationID: r.in.Conversation.ID,
		Payload: events.ToolApprovalRequiredPayload{
			RequestID:  run.ID,
			ToolID:     run.ToolID,
			ToolName:   tool.Name,
			AgentID:    r.agent.ID,
			Parameters: run.Parameters,
		},
	})
	if r.m.notifier != nil {
		r.m.notifier.NotifyApprovalRequired(ctx, run, tool.Name, r.agent.Name)
	}

	waitStart := time.Now()
	decision, err := r.m.approvals.AwaitDecision(ctx, run.ID, r.m.approvalTimeout(r.in))
	if r.m.metrics != nil {
		r.m.metrics.ApprovalWait.Observe(time.Since(waitStart).Seconds())
	}

	switch {
	case err == nil && decision.Approved:
		if r.m.metrics != nil {
			r.m.metrics.ToolRunsApproved.Inc()
		}
		if _, terr := r.m.toolRuns.TransitionToolRun(ctx, run.ID, models.ToolRunApproved, models.ToolRunExecuting,
			models.ToolRunPatch{}, decision.DecidedBy); terr != nil {
			r.fail(events.CodeToolRequestFailed, "failed to advance approved tool run")
			return false
		}
		r.publish(events.Event{
			Type:           events.EventToolApproved,
			ConversationID: r.in.Conversation.ID,
			Payload: events.ToolDecisionPayload{
				RequestID: run.ID,
				Approved:  true,
				DecidedBy: decision.DecidedBy,
			},
		})
		return r.executeApproved(ctx, call, run.ID, args, tool)

	case err == nil && !decision.Approved:
		r.rejected(ctx, call, run.ID, decision.Reason, decision.DecidedBy)
		return true

	case errors.Is(err, approval.ErrDecisionTimeout):
		r.rejected(ctx, call, run.ID, "timeout", "system")
		return true

	case ctx.Err() != nil:
		// Turn cancelled while waiting; resolve the run so it does not
		// dangle PENDING forever.
		reason := "cancelled"
		now := time.Now().UTC()
		if _, terr := r.m.toolRuns.TransitionToolRun(context.Background(), run.ID,
			models.ToolRunPending, models.ToolRunRejected,
			models.ToolRunPatch{RejectionReason: &reason, DecidedAt: &now}, "system"); terr != nil &&
			!errors.Is(terr, services.ErrIllegalTransition) {
			r.logger.Error("Failed to reject tool run on cancel", "run_id", run.ID, "error", terr)
		}
		r.cancelled(ctx)
		return false

	default:
		r.fail(events.CodeToolRequestFailed, "approval coordination failed: "+err.Error())
		return false
	}
}

// rejected emits tool_rejected and feeds a synthetic result to the model.
func (r *turnRun) rejected(ctx context.Context, call *llm.ToolCallIntent, runID, reason, decidedBy string) {
	if r.m.metrics != nil {
		r.m.metrics.ToolRunsRejected.Inc()
	}
	r.publish(events.Event{
		Type:           events.EventToolRejected,
		ConversationID: r.in.Conversation.ID,
		Payload: events.ToolDecisionPayload{
			RequestID: runID,
			Approved:  false,
			Reason:    reason,
			DecidedBy: decidedBy,
		},
	})
	r.appendToolResult(ctx, call, "tool call rejected: "+reason, runID)
}

// executeApproved runs a tool that is already in EXECUTING state.
func (r *turnRun) executeApproved(ctx context.Context, call *llm.ToolCallIntent, runID string, args map[string]any, tool *config.ToolConfig) bool {
	result, execErr := r.m.tools.Execute(ctx, r.snap, call.ToolID, runID, args)
	now := time.Now().UTC()

	if execErr != nil {
		if ctx.Err() != nil {
			// Cancelled mid-execution: record the failure, do not stream.
			reason := "cancelled"
			if _, terr := r.m.toolRuns.TransitionToolRun(context.Background(), runID,
				models.ToolRunExecuting, models.ToolRunFailed,
				models.ToolRunPatch{Error: &reason, ExecutedAt: &now}, "system"); terr != nil {
				r.logger.Error("Failed to fail tool run on cancel", "run_id", runID, "error", terr)
			}
			r.cancelled(ctx)
			return false
		}

		errMsg := execErr.Error()
		run, terr := r.m.toolRuns.TransitionToolRun(ctx, runID, models.ToolRunExecuting, models.ToolRunFailed,
			models.ToolRunPatch{Error: &errMsg, ExecutedAt: &now}, "system")
		if terr != nil {
			r.fail(events.CodeToolExecuteFailed, "failed to record tool failure")
			return false
		}
		r.publish(events.Event{
			Type:           events.EventToolExecuted,
			ConversationID: r.in.Conversation.ID,
			Payload:        events.ToolExecutedPayload{RequestID: runID, Success: false, Error: errMsg},
		})
		if r.m.notifier != nil {
			r.m.notifier.NotifyToolRunFailed(ctx, run, errMsg)
		}
		r.appendToolResult(ctx, call, "tool execution failed: "+errMsg, runID)
		return true
	}

	if _, terr := r.m.toolRuns.TransitionToolRun(ctx, runID, models.ToolRunExecuting, models.ToolRunExecuted,
		models.ToolRunPatch{Result: &result, ExecutedAt: &now}, "system"); terr != nil {
		r.fail(events.CodeToolExecuteFailed, "failed to record tool result")
		return false
	}
	if r.m.metrics != nil {
		r.m.metrics.ToolRunsExecuted.Inc()
	}
	r.publish(events.Event{
		Type:           events.EventToolExecuted,
		ConversationID: r.in.Conversation.ID,
		Payload:        events.ToolExecutedPayload{RequestID: runID, Success: true, Result: result},
	})
	r.appendToolResult(ctx, call, result, runID)
	return true
}

// execute transitions an auto-approved run APPROVED→EXECUTING and runs it.
func (r *turnRun) execute(ctx context.Context, call *llm.ToolCallIntent, runID string, args map[string]any, tool *config.ToolConfig) bool {
	if _, err := r.m.toolRuns.TransitionToolRun(ctx, runID, models.ToolRunApproved, models.ToolRunExecuting,
		models.ToolRunPatch{}, "system"); err != nil {
		r.fail(events.CodeToolRequestFailed, "failed to advance tool run")
		return false
	}
	return r.executeApproved(ctx, call, runID, args, tool)
}

// appendToolResult persists the tool result message and extends the model
// transcript so the next segment sees it.
func (r *turnRun) appendToolResult(ctx context.Context, call *llm.ToolCallIntent, content, runID string) {
	metadata := map[string]any{metadataToolID: call.ToolID}
	if runID != "" {
		metadata[metadataToolRunID] = runID
	}
	if _, err := r.m.conversations.AppendMessage(ctx, models.AppendMessageRequest{
		ConversationID: r.in.Conversation.ID,
		Role:           models.RoleToolResult,
		Content:        content,
		AgentID:        r.agent.ID,
		Metadata:       metadata,
	}); err != nil {
		r.logger.Error("Failed to persist tool result", "tool_id", call.ToolID, "error", err)
	} else if r.m.metrics != nil {
		r.m.metrics.ChatMessages.WithLabelValues(string(models.RoleToolResult)).Inc()
	}

	r.history = append(r.history, llm.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.ToolID,
	})
}

// handoff switches the active agent mid-turn.
func (r *turnRun) handoff(ctx context.Context, call *llm.ToolCallIntent) bool {
	var args struct {
		ToAgentID string `json:"to_agent_id"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.ToAgentID == "" {
		r.appendToolResult(ctx, call, "handoff rejected: to_agent_id is required", "")
		return true
	}

	r.handoffs++
	if r.handoffs > r.snap.MaxHandoffsFor(r.domain) {
		r.fail(events.CodeHandoffLoop, fmt.Sprintf("handoff cap exceeded after %d handoffs", r.handoffs-1))
		return false
	}

	target, err := r.snap.GetAgent(args.ToAgentID)
	if err != nil || target.DomainID != r.domain.ID {
		r.appendToolResult(ctx, call, fmt.Sprintf("handoff rejected: agent %s is not in this domain", args.ToAgentID), "")
		return true
	}
	if !target.State.RoutingEligible(r.in.TestingOverride) {
		r.appendToolResult(ctx, call, fmt.Sprintf("handoff rejected: agent %s is not eligible", args.ToAgentID), "")
		return true
	}

	from := r.agent
	r.agent = target
	r.logger = r.logger.With("agent_id", target.ID)
	r.logger.Info("Handoff", "from", from.ID, "to", target.ID, "reason", args.Reason)

	r.publish(events.Event{
		Type:           events.EventWorkflowHandoff,
		ConversationID: r.in.Conversation.ID,
		Payload: events.WorkflowHandoffPayload{
			FromAgentID: from.ID,
			ToAgentID:   target.ID,
			Reason:      args.Reason,
		},
	})

	// The model still expects a response to its tool call.
	r.history = append(r.history, llm.Message{
		Role:       "tool",
		Content:    "handed off to " + target.ID,
		ToolCallID: call.ID,
		ToolName:   config.HandoffToolID,
	})
	return true
}

// complete persists the final assistant message and emits message_complete.
// A failed persist is retried once before the turn fails.
func (r *turnRun) complete(ctx context.Context) {
	content := r.text.String()
	req := models.AppendMessageRequest{
		ConversationID: r.in.Conversation.ID,
		Role:           models.RoleAssistant,
		Content:        content,
		AgentID:        r.agent.ID,
	}

	msg, err := r.m.conversations.AppendMessage(ctx, req)
	if err != nil {
		r.logger.Warn("Retrying final message persist", "error", err)
		msg, err = r.m.conversations.AppendMessage(ctx, req)
	}
	if err != nil {
		r.fail(events.CodeStreamError, "failed to persist assistant message")
		return
	}
	if r.m.metrics != nil {
		r.m.metrics.ChatMessages.WithLabelValues(string(models.RoleAssistant)).Inc()
	}

	r.publish(events.Event{
		Type:           events.EventMessageComplete,
		ConversationID: r.in.Conversation.ID,
		Payload: events.MessageCompletePayload{
			MessageID: msg.ID,
			Content:   content,
			AgentID:   r.agent.ID,
		},
	})
	r.logger.Info("Turn completed", "duration", time.Since(r.start))
	r.turn.finish(msg, nil)
}

// cancelled persists any partial text and emits error{cancelled}.
func (r *turnRun) cancelled(ctx context.Context) {
	if partial := r.text.String(); partial != "" {
		if _, err := r.m.conversations.AppendMessage(context.Background(), models.AppendMessageRequest{
			ConversationID: r.in.Conversation.ID,
			Role:           models.RoleAssistant,
			Content:        partial,
			AgentID:        r.agentID(),
			Metadata:       map[string]any{models.MetadataPartial: true},
		}); err != nil {
			r.logger.Error("Failed to persist partial message", "error", err)
		}
	}
	r.publish(events.NewError(r.in.Conversation.ID, events.CodeCancelled, "turn cancelled"))
	r.logger.Info("Turn cancelled", "duration", time.Since(r.start))
	r.turn.finish(nil, context.Canceled)
}

// fail records the terminal error and emits the error event.
func (r *turnRun) fail(code, message string) {
	if _, err := r.m.conversations.AppendMessage(context.Background(), models.AppendMessageRequest{
		ConversationID: r.in.Conversation.ID,
		Role:           models.RoleSystem,
		Content:        message,
		Metadata:       map[string]any{models.MetadataError: code},
	}); err != nil {
		r.logger.Error("Failed to persist turn error marker", "error", err)
	}
	r.publish(events.NewError(r.in.Conversation.ID, code, message))
	r.logger.Error("Turn failed", "code", code, "message", message)
	r.turn.finish(nil, &TurnError{Code: code, Message: message})
}

func (r *turnRun) publish(ev events.Event) {
	if r.m.publisher != nil {
		r.m.publisher.Publish(r.in.Conversation.ID, ev)
	}
}

func (r *turnRun) agentID() string {
	if r.agent != nil {
		return r.agent.ID
	}
	return ""
}

func intentsToCalls(intents []*llm.ToolCallIntent) []llm.ToolCall {
	calls := make([]llm.ToolCall, 0, len(intents))
	for _, in := range intents {
		calls = append(calls, llm.ToolCall{
			ID:        in.ID,
			Name:      in.ToolID,
			Arguments: string(in.Arguments),
		})
	}
	return calls
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
