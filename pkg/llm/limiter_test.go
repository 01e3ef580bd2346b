package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAcquireRelease(t *testing.T) {
	l := NewLimiter(2, time.Second)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "gpt-4o"))
	require.NoError(t, l.Acquire(ctx, "gpt-4o"))
	assert.Equal(t, 2, l.InFlight("gpt-4o"))

	// A different model id has its own pool.
	require.NoError(t, l.Acquire(ctx, "gpt-4o-mini"))

	l.Release("gpt-4o")
	assert.Equal(t, 1, l.InFlight("gpt-4o"))
}

func TestLimiterAdmissionTimeout(t *testing.T) {
	l := NewLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "m"))

	start := time.Now()
	err := l.Acquire(ctx, "m")
	require.ErrorIs(t, err, ErrOverloaded)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterContextCancel(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	require.NoError(t, l.Acquire(context.Background(), "m"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := l.Acquire(ctx, "m")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Second)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background(), "m"))
	}
	assert.Equal(t, 0, l.InFlight("m"))
}

func TestLimiterReleaseWithoutAcquire(t *testing.T) {
	l := NewLimiter(1, time.Second)
	// Must not panic or corrupt the pool.
	l.Release("m")
	require.NoError(t, l.Acquire(context.Background(), "m"))
}
