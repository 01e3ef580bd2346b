package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/events"
)

// WSClient is a test WebSocket client speaking the event protocol.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// ConnectWS dials the app's WebSocket endpoint with the given token.
func (a *TestApp) ConnectWS(token string) *WSClient {
	a.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, a.WSURL+"?token="+token, nil)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &WSClient{conn: conn, t: a.t}
}

// Send writes one client message.
func (c *WSClient) Send(msg events.ClientMessage) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

// WireEvent is a received server event with its raw payload.
type WireEvent struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Payload        json.RawMessage `json:"payload"`
}

// Read returns the next event within a 10s budget.
func (c *WSClient) Read() WireEvent {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)
	var ev WireEvent
	require.NoError(c.t, json.Unmarshal(data, &ev))
	return ev
}

// ReadUntil reads events until one of the wanted type arrives. An error event
// before it fails the test; so do twenty unrelated events.
func (c *WSClient) ReadUntil(eventType string) WireEvent {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		ev := c.Read()
		if ev.Type == eventType {
			return ev
		}
		if ev.Type == events.EventError && eventType != events.EventError {
			c.t.Fatalf("error event while waiting for %q: %s", eventType, ev.Payload)
		}
	}
	c.t.Fatalf("event %q never arrived", eventType)
	return WireEvent{}
}

// CollectUntil returns all events up to and including the first of the wanted
// type.
func (c *WSClient) CollectUntil(eventType string) []WireEvent {
	c.t.Helper()
	var out []WireEvent
	for i := 0; i < 50; i++ {
		ev := c.Read()
		out = append(out, ev)
		if ev.Type == eventType {
			return out
		}
	}
	c.t.Fatalf("event %q never arrived", eventType)
	return nil
}

// Decode unmarshals the payload into out.
func (ev WireEvent) Decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Payload, out))
}
