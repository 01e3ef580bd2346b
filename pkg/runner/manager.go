// Package runner drives conversation turns: routing, LLM streaming, tool
// approval and execution, handoffs, and persistence. One goroutine per active
// turn; at most one active turn per conversation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/router"
	"github.com/parleyhq/parley/pkg/services"
	"github.com/parleyhq/parley/pkg/tools"
)

var (
	// ErrBusy means the conversation already has an active turn.
	ErrBusy = errors.New("conversation already has an active turn")

	// ErrShuttingDown means the runner no longer accepts turns.
	ErrShuttingDown = errors.New("runner is shutting down")
)

// TurnError is the terminal failure of a turn, carrying the machine code that
// was surfaced on the conversation's error event.
type TurnError struct {
	Code    string
	Message string
}

func (e *TurnError) Error() string { return e.Code + ": " + e.Message }

// Publisher fans turn events out to subscribed sessions. Implemented by the
// session hub.
type Publisher interface {
	Publish(conversationID string, ev events.Event)
}

// ApprovalNotifier pushes out-of-band approval notifications (Slack). All
// methods must be non-blocking best-effort; a nil notifier disables them.
type ApprovalNotifier interface {
	NotifyApprovalRequired(ctx context.Context, run *models.ToolRun, toolName, agentName string)
	NotifyToolRunFailed(ctx context.Context, run *models.ToolRun, errMsg string)
}

// Manager owns the active-turn registry and the per-turn goroutines.
type Manager struct {
	settings      config.Settings
	registry      *config.Registry
	conversations *services.ConversationService
	toolRuns      *services.ToolRunService
	router        *router.Router
	llm           llm.Client
	limiter       *llm.Limiter
	tools         *tools.Registry
	approvals     *approval.Coordinator
	publisher     Publisher
	notifier      ApprovalNotifier
	metrics       *metrics.Metrics

	mu          sync.RWMutex
	activeTurns map[string]*Turn // conversationID → turn
	wg          sync.WaitGroup
	stopped     bool
}

// Deps groups the manager's collaborators.
type Deps struct {
	Settings      config.Settings
	Registry      *config.Registry
	Conversations *services.ConversationService
	ToolRuns      *services.ToolRunService
	Router        *router.Router
	LLM           llm.Client
	Limiter       *llm.Limiter
	Tools         *tools.Registry
	Approvals     *approval.Coordinator
	Publisher     Publisher
	Notifier      ApprovalNotifier
	Metrics       *metrics.Metrics
}

// NewManager creates a turn manager.
func NewManager(deps Deps) *Manager {
	return &Manager{
		settings:      deps.Settings,
		registry:      deps.Registry,
		conversations: deps.Conversations,
		toolRuns:      deps.ToolRuns,
		router:        deps.Router,
		llm:           deps.LLM,
		limiter:       deps.Limiter,
		tools:         deps.Tools,
		approvals:     deps.Approvals,
		publisher:     deps.Publisher,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		activeTurns:   make(map[string]*Turn),
	}
}

// StartTurnInput carries one user message into a turn.
type StartTurnInput struct {
	Conversation    *models.Conversation
	Content         string
	RequesterSub    string
	RequesterRole   auth.Role
	EnableThinking  bool
	TestingOverride bool

	// ApprovalTimeout overrides the default approval window (REST chat uses
	// a short budget). Zero means the configured default.
	ApprovalTimeout time.Duration
}

// Turn is a handle on one in-flight turn. Done() closes when the turn reaches
// a terminal state; Result() is valid after that.
type Turn struct {
	ID             string
	ConversationID string

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	final *models.Message
	err   error
}

// Done closes when the turn completes, fails, or is cancelled.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Result returns the final assistant message, or the terminal error. Only
// valid after Done() closes.
func (t *Turn) Result() (*models.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.final, t.err
}

func (t *Turn) finish(final *models.Message, err error) {
	t.mu.Lock()
	t.final = final
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// StartTurn persists the user message and launches the turn goroutine.
// Returns ErrBusy when the conversation already has an active turn.
func (m *Manager) StartTurn(ctx context.Context, in StartTurnInput) (*Turn, error) {
	if in.Conversation == nil {
		return nil, fmt.Errorf("conversation is required")
	}
	if in.Content == "" {
		return nil, services.NewValidationError("content", "required")
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	turn := &Turn{
		ID:             ids.New(),
		ConversationID: in.Conversation.ID,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	// Register before any persistence so two concurrent send_message calls
	// cannot both pass the busy check.
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	if _, active := m.activeTurns[in.Conversation.ID]; active {
		m.mu.Unlock()
		cancel()
		return nil, ErrBusy
	}
	m.activeTurns[in.Conversation.ID] = turn
	m.wg.Add(1)
	m.mu.Unlock()

	userMsg, err := m.conversations.AppendMessage(ctx, models.AppendMessageRequest{
		ConversationID: in.Conversation.ID,
		Role:           models.RoleUser,
		Content:        in.Content,
	})
	if err != nil {
		m.unregister(in.Conversation.ID)
		m.wg.Done()
		cancel()
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	if m.metrics != nil {
		m.metrics.ChatMessages.WithLabelValues(string(models.RoleUser)).Inc()
		m.metrics.ActiveTurns.Inc()
	}

	go m.run(turnCtx, turn, in, userMsg)
	return turn, nil
}

// ActiveTurn returns the in-flight turn for a conversation, if any.
func (m *Manager) ActiveTurn(conversationID string) (*Turn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.activeTurns[conversationID]
	return t, ok
}

// ActiveTurns returns the count of in-flight turns.
func (m *Manager) ActiveTurns() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeTurns)
}

// Cancel cancels the active turn for a conversation. Returns false when no
// turn is active.
func (m *Manager) Cancel(conversationID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if turn, ok := m.activeTurns[conversationID]; ok {
		turn.cancel()
		return true
	}
	return false
}

// Stop rejects new turns, cancels active ones, and waits for them to drain.
// Safe to call multiple times.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, turn := range m.activeTurns {
		turn.cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
	slog.Info("Turn manager stopped")
}

func (m *Manager) unregister(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activeTurns, conversationID)
}

func (m *Manager) approvalTimeout(in StartTurnInput) time.Duration {
	if in.ApprovalTimeout > 0 {
		return in.ApprovalTimeout
	}
	if m.settings.ApprovalTimeout > 0 {
		return m.settings.ApprovalTimeout
	}
	return 15 * time.Minute
}
