package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(n string) Event {
	return Event{Type: EventMessageChunk, Payload: MessageChunkPayload{Chunk: n}}
}

func TestQueueFIFO(t *testing.T) {
	q := newOutboundQueue(4, nil)
	require.True(t, q.push(chunk("a")))
	require.True(t, q.push(chunk("b")))

	ev, ok := q.pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", ev.Payload.(MessageChunkPayload).Chunk)

	ev, ok = q.pop(context.Background())
	require.True(t, ok)
	assert.Equal(t, "b", ev.Payload.(MessageChunkPayload).Chunk)
}

func TestQueueEvictsOldestChunkWhenFull(t *testing.T) {
	var dropped []string
	q := newOutboundQueue(2, func(eventType string) { dropped = append(dropped, eventType) })

	require.True(t, q.push(chunk("a")))
	require.True(t, q.push(chunk("b")))
	require.True(t, q.push(chunk("c")))

	assert.Equal(t, []string{EventMessageChunk}, dropped)
	assert.Equal(t, 2, q.len())

	ev, _ := q.pop(context.Background())
	assert.Equal(t, "b", ev.Payload.(MessageChunkPayload).Chunk)
}

func TestQueueCriticalNeverDropped(t *testing.T) {
	var dropped int
	q := newOutboundQueue(2, func(string) { dropped++ })

	complete := Event{Type: EventMessageComplete}
	toolEv := Event{Type: EventToolApprovalRequired}
	errEv := Event{Type: EventError}

	require.True(t, q.push(complete))
	require.True(t, q.push(toolEv))
	// Queue is full of critical events; a third critical still lands.
	require.True(t, q.push(errEv))
	assert.Equal(t, 3, q.len())
	assert.Equal(t, 0, dropped)
}

func TestQueueChunkDiscardedWhenFullOfCritical(t *testing.T) {
	var dropped []string
	q := newOutboundQueue(2, func(eventType string) { dropped = append(dropped, eventType) })

	require.True(t, q.push(Event{Type: EventMessageComplete}))
	require.True(t, q.push(Event{Type: EventError}))

	// No droppable event queued, so the arriving chunk itself is discarded.
	assert.False(t, q.push(chunk("x")))
	assert.Equal(t, []string{EventMessageChunk}, dropped)
	assert.Equal(t, 2, q.len())
}

func TestQueueCriticalEvictsChunk(t *testing.T) {
	var dropped []string
	q := newOutboundQueue(2, func(eventType string) { dropped = append(dropped, eventType) })

	require.True(t, q.push(chunk("a")))
	require.True(t, q.push(Event{Type: EventToolExecuted}))
	require.True(t, q.push(Event{Type: EventMessageComplete}))

	assert.Equal(t, []string{EventMessageChunk}, dropped)

	ev, _ := q.pop(context.Background())
	assert.Equal(t, EventToolExecuted, ev.Type)
	ev, _ = q.pop(context.Background())
	assert.Equal(t, EventMessageComplete, ev.Type)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newOutboundQueue(4, nil)
	done := make(chan Event, 1)
	go func() {
		ev, ok := q.pop(context.Background())
		if ok {
			done <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.push(chunk("late")))

	select {
	case ev := <-done:
		assert.Equal(t, "late", ev.Payload.(MessageChunkPayload).Chunk)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not observe pushed event")
	}
}

func TestQueueCloseUnblocksPop(t *testing.T) {
	q := newOutboundQueue(4, nil)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not observe close")
	}

	assert.False(t, q.push(chunk("after close")))
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := newOutboundQueue(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.pop(ctx)
	assert.False(t, ok)
}
