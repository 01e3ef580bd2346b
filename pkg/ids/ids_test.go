package ids

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsValidUUIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestClock_StrictlyIncreasing(t *testing.T) {
	clock := NewClock()

	prev := clock.Now()
	for i := 0; i < 1000; i++ {
		next := clock.Now()
		assert.True(t, next.After(prev), "timestamp %v not after %v", next, prev)
		prev = next
	}
}

func TestClock_ConcurrentCallsUnique(t *testing.T) {
	clock := NewClock()

	const goroutines = 8
	const perGoroutine = 200

	results := make(chan int64, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		go func() {
			for i := 0; i < perGoroutine; i++ {
				results <- clock.Now().UnixNano()
			}
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < goroutines*perGoroutine; i++ {
		ts := <-results
		assert.False(t, seen[ts], "duplicate timestamp %d", ts)
		seen[ts] = true
	}
}
