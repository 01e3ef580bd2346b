package events

import (
	"context"
	"sync"
)

// outboundQueue is the bounded per-session send queue. The drop policy keeps
// critical events intact: when the queue is full, the oldest droppable event
// is evicted to make room; a droppable arrival is discarded if nothing can be
// evicted; a critical arrival is enqueued even past capacity, because
// message_complete / tool_* / error must reach the client or the connection
// must die trying.
type outboundQueue struct {
	mu       sync.Mutex
	buf      []Event
	capacity int
	closed   bool

	// signal wakes the writer; capacity 1 so pushes never block.
	signal chan struct{}

	// onDrop observes every evicted or discarded event (metrics).
	onDrop func(eventType string)
}

func newOutboundQueue(capacity int, onDrop func(string)) *outboundQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &outboundQueue{
		buf:      make([]Event, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		onDrop:   onDrop,
	}
}

// push enqueues an event, applying the drop policy. Returns false when the
// event was discarded (droppable arrival with nothing evictable).
func (q *outboundQueue) push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.buf) >= q.capacity {
		evicted := false
		for i, queued := range q.buf {
			if queued.Droppable() {
				if q.onDrop != nil {
					q.onDrop(queued.Type)
				}
				q.buf = append(q.buf[:i], q.buf[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted && ev.Droppable() {
			if q.onDrop != nil {
				q.onDrop(ev.Type)
			}
			return false
		}
	}

	q.buf = append(q.buf, ev)
	q.notify()
	return true
}

// pop blocks until an event is available, the queue closes, or ctx ends.
func (q *outboundQueue) pop(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			ev := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, false
		}

		select {
		case <-q.signal:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// close wakes any blocked pop; queued events are discarded.
func (q *outboundQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.buf = nil
	q.mu.Unlock()
	q.notify()
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *outboundQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
