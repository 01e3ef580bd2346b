package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOverloaded is returned when a turn cannot acquire a stream slot within
// the admission timeout.
var ErrOverloaded = errors.New("llm admission queue timed out")

// Limiter caps in-flight streams per model id. Excess callers wait FIFO (a
// buffered channel is a fair-enough queue for this) up to the admission
// timeout, then fail so the turn can surface `overloaded` instead of hanging.
type Limiter struct {
	maxInFlight      int
	admissionTimeout time.Duration

	mu    sync.Mutex
	slots map[string]chan struct{} // modelID → semaphore
}

// NewLimiter creates a Limiter. maxInFlight <= 0 disables limiting.
func NewLimiter(maxInFlight int, admissionTimeout time.Duration) *Limiter {
	if admissionTimeout <= 0 {
		admissionTimeout = 60 * time.Second
	}
	return &Limiter{
		maxInFlight:      maxInFlight,
		admissionTimeout: admissionTimeout,
		slots:            make(map[string]chan struct{}),
	}
}

// Acquire blocks until a slot for the model is free, the admission timeout
// elapses (ErrOverloaded), or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, modelID string) error {
	if l == nil || l.maxInFlight <= 0 {
		return nil
	}

	sem := l.semaphore(modelID)

	timer := time.NewTimer(l.admissionTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrOverloaded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired for the model.
func (l *Limiter) Release(modelID string) {
	if l == nil || l.maxInFlight <= 0 {
		return
	}
	select {
	case <-l.semaphore(modelID):
	default:
		// Release without a matching Acquire; nothing to free.
	}
}

// InFlight reports the current number of held slots for a model.
func (l *Limiter) InFlight(modelID string) int {
	if l == nil || l.maxInFlight <= 0 {
		return 0
	}
	return len(l.semaphore(modelID))
}

func (l *Limiter) semaphore(modelID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.slots[modelID]
	if !ok {
		sem = make(chan struct{}, l.maxInFlight)
		l.slots[modelID] = sem
	}
	return sem
}
