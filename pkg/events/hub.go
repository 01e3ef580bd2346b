package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/metrics"
)

// Dispatcher handles inbound client messages that carry application
// semantics (start_conversation, send_message, cancel_stream, approve_tool).
// The hub keeps PING and envelope validation to itself. Implemented by the
// API layer so this package stays free of runner dependencies.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *Session, msg *ClientMessage)
}

// Hub owns every WebSocket session in the process and fans runner events out
// to the sessions subscribed to each conversation. One Hub per process.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// subs: conversation ID → set of subscribed sessions.
	subs map[string]map[string]*Session

	// bySub: identity subject → sessions in open order, for the
	// concurrent-session cap.
	bySub map[string][]*Session

	dispatcher   Dispatcher
	dispatcherMu sync.RWMutex

	writeTimeout time.Duration
	queueSize    int
	maxPerSub    int

	metrics *metrics.Metrics
}

// NewHub creates a session hub. queueSize bounds each session's outbound
// queue; maxPerSub caps concurrent sessions per identity subject (oldest is
// kicked with close code 4001 when exceeded).
func NewHub(writeTimeout time.Duration, queueSize, maxPerSub int, m *metrics.Metrics) *Hub {
	if maxPerSub <= 0 {
		maxPerSub = 5
	}
	return &Hub{
		sessions:     make(map[string]*Session),
		subs:         make(map[string]map[string]*Session),
		bySub:        make(map[string][]*Session),
		writeTimeout: writeTimeout,
		queueSize:    queueSize,
		maxPerSub:    maxPerSub,
		metrics:      m,
	}
}

// SetDispatcher wires the inbound message handler. Called once during startup
// after both the hub and the API layer exist.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcherMu.Lock()
	defer h.dispatcherMu.Unlock()
	h.dispatcher = d
}

// HandleConnection runs the lifecycle of one authenticated WebSocket
// connection. Called by the HTTP handler after upgrade and auth; blocks until
// the connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn, identity auth.Identity) {
	ctx, cancel := context.WithCancel(parentCtx)
	sess := &Session{
		ID:            uuid.New().String(),
		Identity:      identity,
		conn:          conn,
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]bool),
		closeCode:     websocket.StatusNormalClosure,
		openedAt:      time.Now(),
	}
	sess.queue = newOutboundQueue(h.queueSize, func(eventType string) {
		h.metrics.RecordDroppedEvent(eventType)
	})

	kicked := h.register(sess)
	for _, old := range kicked {
		h.closeSession(old, CloseSessionReplaced, "session replaced by newer connection")
	}
	defer h.unregister(sess)

	go sess.writeLoop(h.writeTimeout)

	slog.Info("WebSocket session opened",
		"session_id", sess.ID, "sub", identity.Sub, "role", identity.Role)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Malformed WebSocket message",
				"session_id", sess.ID, "error", err)
			sess.Send(NewError("", CodeBadRequest, "malformed message envelope"))
			continue
		}
		h.handleClientMessage(ctx, sess, &msg)
	}
}

func (h *Hub) handleClientMessage(ctx context.Context, sess *Session, msg *ClientMessage) {
	switch msg.Type {
	case InboundPing:
		sess.Send(Event{Type: EventPong})
	case InboundStartConversation, InboundSendMessage, InboundCancelStream, InboundApproveTool:
		h.dispatcherMu.RLock()
		d := h.dispatcher
		h.dispatcherMu.RUnlock()
		if d == nil {
			sess.Send(NewError(msg.ConversationID, CodeNotConfigured, "server not accepting messages yet"))
			return
		}
		d.Dispatch(ctx, sess, msg)
	default:
		sess.Send(NewError(msg.ConversationID, CodeBadRequest, "unknown message type: "+msg.Type))
	}
}

// Publish fans an event out to every session subscribed to the conversation.
func (h *Hub) Publish(conversationID string, ev Event) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.subs[conversationID]))
	for _, sess := range h.subs[conversationID] {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		sess.Send(ev)
	}
}

// Subscribe attaches a session to a conversation's event stream.
func (h *Hub) Subscribe(sess *Session, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[conversationID]; !ok {
		h.subs[conversationID] = make(map[string]*Session)
	}
	h.subs[conversationID][sess.ID] = sess
	sess.subscriptions[conversationID] = true
}

// Unsubscribe detaches a session from a conversation's event stream.
func (h *Hub) Unsubscribe(sess *Session, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeSubLocked(sess, conversationID)
}

// Subscribed reports whether the session is attached to the conversation.
func (h *Hub) Subscribed(sess *Session, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sess.subscriptions[conversationID]
}

// SubscriberCount returns the number of sessions attached to a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

// ActiveSessions returns the count of open sessions.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every session with a normal close frame. New connections
// should already be refused by the HTTP layer when this runs.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		h.closeSession(sess, websocket.StatusNormalClosure, "server shutting down")
	}
}

// register adds the session and returns any sessions that must be kicked to
// honor the per-identity cap (oldest first).
func (h *Hub) register(sess *Session) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[sess.ID] = sess
	h.bySub[sess.Identity.Sub] = append(h.bySub[sess.Identity.Sub], sess)

	var kicked []*Session
	for len(h.bySub[sess.Identity.Sub]) > h.maxPerSub {
		oldest := h.bySub[sess.Identity.Sub][0]
		h.bySub[sess.Identity.Sub] = h.bySub[sess.Identity.Sub][1:]
		kicked = append(kicked, oldest)
	}

	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(len(h.sessions)))
	}
	return kicked
}

func (h *Hub) unregister(sess *Session) {
	h.mu.Lock()
	for conv := range sess.subscriptions {
		h.removeSubLocked(sess, conv)
	}
	delete(h.sessions, sess.ID)
	peers := h.bySub[sess.Identity.Sub]
	for i, s := range peers {
		if s.ID == sess.ID {
			h.bySub[sess.Identity.Sub] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(h.bySub[sess.Identity.Sub]) == 0 {
		delete(h.bySub, sess.Identity.Sub)
	}
	code, reason := sess.closeCode, sess.closeReason
	if h.metrics != nil {
		h.metrics.ActiveSessions.Set(float64(len(h.sessions)))
	}
	h.mu.Unlock()

	sess.cancel()
	sess.queue.close()
	_ = sess.conn.Close(code, reason)
	slog.Info("WebSocket session closed", "session_id", sess.ID, "code", int(code))
}

// closeSession records the close status and tears the session down. The read
// loop observes the cancelled context and runs unregister, which sends the
// close frame with the recorded code.
func (h *Hub) closeSession(sess *Session, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	sess.closeCode = code
	sess.closeReason = reason
	h.mu.Unlock()
	sess.cancel()
	_ = sess.conn.Close(code, reason)
}

func (h *Hub) removeSubLocked(sess *Session, conversationID string) {
	if set, ok := h.subs[conversationID]; ok {
		delete(set, sess.ID)
		if len(set) == 0 {
			delete(h.subs, conversationID)
		}
	}
	delete(sess.subscriptions, conversationID)
}
