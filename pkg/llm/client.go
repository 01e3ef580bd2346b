// Package llm abstracts streaming chat completions over an OpenAI-compatible
// endpoint. The runner consumes the Event channel; tool-call intents and
// errors arrive in-band, the channel closes when the stream is done.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Client is the streaming interface the runner and the few-shot router use.
// A stream is finite and non-restartable; callers retry by calling Stream
// again with the same input.
type Client interface {
	// Stream sends a conversation to the model and returns a stream of
	// events. The returned channel is closed when the stream completes.
	// Errors are delivered as StreamError values in the channel.
	Stream(ctx context.Context, input StreamInput) (<-chan Event, error)

	// Close releases the underlying connection.
	Close() error
}

// StreamInput groups everything one completion call needs.
type StreamInput struct {
	ModelID      string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition // nil = no tools
	Thinking     bool             // surface reasoning chunks when the model produces them
}

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // for assistant messages that requested tools
	ToolCallID string     // for tool result messages
	ToolName   string     // for tool result messages
}

// ToolDefinition describes a tool offered to the model as a function schema.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall is a completed tool request parsed out of the stream.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Event is the interface for all streaming event types.
type Event interface {
	eventType() EventType
}

// EventType identifies the kind of streaming event.
type EventType string

const (
	EventTypeToken     EventType = "token"
	EventTypeThinking  EventType = "thinking"
	EventTypeToolCall  EventType = "tool_call"
	EventTypeCompleted EventType = "completed"
	EventTypeError     EventType = "error"
)

// TokenChunk is a fragment of the model's text response.
type TokenChunk struct{ Text string }

// ThinkingChunk is a fragment of the model's out-of-band reasoning.
type ThinkingChunk struct{ Text string }

// ToolCallIntent signals the model wants a tool executed. Arguments hold the
// fully accumulated JSON payload.
type ToolCallIntent struct {
	ID        string
	ToolID    string
	Arguments json.RawMessage
}

// Completed terminates a successful stream.
type Completed struct {
	FinishReason string
	TokenCount   int
	Duration     time.Duration
}

// StreamError terminates a failed stream.
type StreamError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

// ErrorKind classifies stream failures for the runner's retry decision.
type ErrorKind string

const (
	ErrorCancelled ErrorKind = "cancelled"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorProvider  ErrorKind = "provider"
)

func (e *TokenChunk) eventType() EventType     { return EventTypeToken }
func (e *ThinkingChunk) eventType() EventType  { return EventTypeThinking }
func (e *ToolCallIntent) eventType() EventType { return EventTypeToolCall }
func (e *Completed) eventType() EventType      { return EventTypeCompleted }
func (e *StreamError) eventType() EventType    { return EventTypeError }

// CollectText drains a stream into a single string. Used by the few-shot
// router, which needs one complete non-streamed reply.
func CollectText(ctx context.Context, client Client, input StreamInput) (string, error) {
	events, err := client.Stream(ctx, input)
	if err != nil {
		return "", err
	}
	var text string
	for ev := range events {
		switch e := ev.(type) {
		case *TokenChunk:
			text += e.Text
		case *StreamError:
			return "", &Error{Kind: e.Kind, Message: e.Message, Retryable: e.Retryable}
		}
	}
	return text, nil
}

// Error is the error-typed twin of StreamError for call sites that want a
// plain error return.
type Error struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}
