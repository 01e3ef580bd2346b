package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/parleyhq/parley/pkg/auth"
)

// Close codes used on the session socket beyond the RFC 6455 standard set.
const (
	// CloseSessionReplaced kicks the oldest session when an identity exceeds
	// its concurrent-session cap.
	CloseSessionReplaced websocket.StatusCode = 4001
)

// Session is a single authenticated WebSocket connection. All outbound
// traffic goes through the bounded queue and the single writer goroutine;
// nothing writes to the socket directly except the final close frame.
type Session struct {
	ID       string
	Identity auth.Identity

	conn  *websocket.Conn
	queue *outboundQueue

	ctx    context.Context
	cancel context.CancelFunc

	// subscriptions is owned by the hub and guarded by hub.mu.
	subscriptions map[string]bool

	// closeCode/closeReason are recorded before cancel so the deferred
	// close frame carries the right status. Guarded by hub.mu.
	closeCode   websocket.StatusCode
	closeReason string

	openedAt time.Time
}

// Send enqueues an event for this session. Returns false if the event was
// dropped under backpressure or the session is closing.
func (s *Session) Send(ev Event) bool {
	return s.queue.push(ev)
}

// Context is cancelled when the session is closing. Long-running work started
// on behalf of this session should watch it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// writeLoop drains the queue onto the socket. Runs as a single goroutine per
// session; exits when the queue closes, the context ends, or a write fails.
func (s *Session) writeLoop(writeTimeout time.Duration) {
	for {
		ev, ok := s.queue.pop(s.ctx)
		if !ok {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to marshal session event",
				"session_id", s.ID, "type", ev.Type, "error", err)
			continue
		}
		writeCtx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err = s.conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Warn("Session write failed",
				"session_id", s.ID, "type", ev.Type, "error", err)
			s.cancel()
			return
		}
	}
}
