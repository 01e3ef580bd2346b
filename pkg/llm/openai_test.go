package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSSEServer serves the given chunks as one chat-completions stream,
// terminated with [DONE].
func newSSEServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	t.Cleanup(server.Close)
	return server
}

// pumpGoroutines counts live goroutines inside the stream pump, including its
// recv reader.
func pumpGoroutines() int {
	buf := make([]byte, 1<<20)
	stacks := string(buf[:runtime.Stack(buf, true)])
	return strings.Count(stacks, "(*OpenAIClient).pump")
}

func TestStreamToolCallsFinishReleasesRecvGoroutine(t *testing.T) {
	server := newSSEServer(t,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call-1","type":"function","function":{"name":"echo","arguments":"{}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	)
	client := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "test", DefaultModel: "m"})

	// The caller's context outlives the stream, as it does when a turn goes
	// on to execute the requested tool.
	events, err := client.Stream(context.Background(), StreamInput{})
	require.NoError(t, err)

	var sawIntent, sawCompleted bool
	for ev := range events {
		switch e := ev.(type) {
		case *ToolCallIntent:
			sawIntent = true
			assert.Equal(t, "echo", e.ToolID)
		case *Completed:
			sawCompleted = true
			assert.Equal(t, "tool_calls", e.FinishReason)
		}
	}
	assert.True(t, sawIntent)
	assert.True(t, sawCompleted)

	require.Eventually(t, func() bool { return pumpGoroutines() == 0 },
		2*time.Second, 10*time.Millisecond,
		"recv goroutine still running after the stream finished")
}

func TestStreamIdleTimeoutReleasesRecvGoroutine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	client := NewOpenAIClient(OpenAIConfig{
		BaseURL:      server.URL,
		APIKey:       "test",
		DefaultModel: "m",
		IdleTimeout:  50 * time.Millisecond,
	})
	events, err := client.Stream(context.Background(), StreamInput{})
	require.NoError(t, err)

	var timedOut bool
	for ev := range events {
		if e, ok := ev.(*StreamError); ok && e.Kind == ErrorTimeout {
			timedOut = true
			assert.True(t, e.Retryable)
		}
	}
	assert.True(t, timedOut)

	require.Eventually(t, func() bool { return pumpGoroutines() == 0 },
		2*time.Second, 10*time.Millisecond,
		"recv goroutine still running after the idle timeout")
}
