package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// llmScript is one scripted chat-completions response.
type llmScript func(t *testing.T, w http.ResponseWriter, r *http.Request)

// MockLLM is an OpenAI-compatible chat-completions endpoint with scripted
// streaming responses. Each request pops the next script; requests beyond the
// script list answer 500.
type MockLLM struct {
	Server *httptest.Server

	mu       sync.Mutex
	scripts  []llmScript
	requests []chatRequest
}

// chatRequest is the subset of the upstream request body the tests inspect.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

// NewMockLLM starts the mock endpoint.
func NewMockLLM(t *testing.T, scripts ...llmScript) *MockLLM {
	t.Helper()
	m := &MockLLM{scripts: scripts}
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		m.mu.Lock()
		m.requests = append(m.requests, req)
		var script llmScript
		if len(m.scripts) > 0 {
			script = m.scripts[0]
			m.scripts = m.scripts[1:]
		}
		m.mu.Unlock()

		if script == nil {
			http.Error(w, `{"error":{"message":"no scripted response left"}}`, http.StatusInternalServerError)
			return
		}
		script(t, w, r)
	})
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Server.Close)
	return m
}

// BaseURL is the value for LLM_BASE_URL.
func (m *MockLLM) BaseURL() string { return m.Server.URL }

// Requests returns a copy of the upstream requests received so far.
func (m *MockLLM) Requests() []chatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Append adds scripts for follow-up segments mid-test.
func (m *MockLLM) Append(scripts ...llmScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, scripts...)
}

func sseHeader(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func sseWrite(w http.ResponseWriter, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "data: %s\n\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sseDone(w http.ResponseWriter) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func contentChunk(text string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion.chunk",
		"model":   "mock",
		"choices": []map[string]any{{
			"index": 0,
			"delta": map[string]any{"content": text},
		}},
	}
}

// llmSay streams the text one token per chunk and finishes normally.
func llmSay(tokens ...string) llmScript {
	return func(_ *testing.T, w http.ResponseWriter, _ *http.Request) {
		sseHeader(w)
		for _, token := range tokens {
			sseWrite(w, contentChunk(token))
		}
		sseDone(w)
	}
}

// llmCallTool streams a single complete tool call and finishes with
// finish_reason tool_calls.
func llmCallTool(callID, name, args string) llmScript {
	return func(_ *testing.T, w http.ResponseWriter, _ *http.Request) {
		sseHeader(w)
		sseWrite(w, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"model":   "mock",
			"choices": []map[string]any{{
				"index": 0,
				"delta": map[string]any{
					"tool_calls": []map[string]any{{
						"index": 0,
						"id":    callID,
						"type":  "function",
						"function": map[string]any{
							"name":      name,
							"arguments": args,
						},
					}},
				},
			}},
		})
		sseWrite(w, map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"model":   "mock",
			"choices": []map[string]any{{
				"index":         0,
				"delta":         map[string]any{},
				"finish_reason": "tool_calls",
			}},
		})
		sseDone(w)
	}
}

// llmStall streams the given tokens and then holds the connection open until
// the client disconnects. Used by cancellation scenarios.
func llmStall(tokens ...string) llmScript {
	return func(_ *testing.T, w http.ResponseWriter, r *http.Request) {
		sseHeader(w)
		for _, token := range tokens {
			sseWrite(w, contentChunk(token))
		}
		<-r.Context().Done()
	}
}
