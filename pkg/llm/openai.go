package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient speaks to any OpenAI-compatible chat-completions endpoint
// (LLM_BASE_URL). Safe for concurrent use; each Stream call owns an
// independent upstream stream and goroutine.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	idleTimeout  time.Duration
}

// OpenAIConfig holds the endpoint parameters from the environment.
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	IdleTimeout  time.Duration // per-chunk; 0 = 30s
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		idleTimeout:  idle,
	}
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (c *OpenAIClient) Close() error { return nil }

// Stream opens a streaming completion and converts upstream deltas into
// Events. Tool-call fragments are accumulated by index and emitted as one
// ToolCallIntent each once complete.
func (c *OpenAIClient) Stream(ctx context.Context, input StreamInput) (<-chan Event, error) {
	model := input.ModelID
	if model == "" {
		model = c.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(input),
		Stream:   true,
	}
	if len(input.Tools) > 0 {
		req.Tools = convertTools(input.Tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	events := make(chan Event)
	go c.pump(ctx, stream, events)
	return events, nil
}

// recvResult carries one upstream read across the idle-timeout select.
type recvResult struct {
	resp openai.ChatCompletionStreamResponse
	err  error
}

// pump reads the upstream stream, enforcing the per-chunk idle timeout, and
// emits converted events. Always closes the events channel.
func (c *OpenAIClient) pump(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- Event) {
	defer close(events)

	started := time.Now()
	tokenCount := 0

	// Recv blocks with no deadline of its own, so reads run on a side
	// goroutine and the select below applies the idle timeout. On any exit
	// path the stream is closed first (making Recv return an error) and
	// recvCh drained, so the reader never outlives the pump even when the
	// caller's context stays live.
	recvCh := make(chan recvResult)
	go func() {
		defer close(recvCh)
		for {
			resp, err := stream.Recv()
			select {
			case recvCh <- recvResult{resp: resp, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		stream.Close()
		for range recvCh {
		}
	}()

	// Tool calls stream incrementally; key is the upstream index.
	toolCalls := make(map[int]*ToolCall)
	order := make([]int, 0, 2)

	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			events <- &StreamError{Kind: ErrorCancelled, Message: ctx.Err().Error()}
			return

		case <-idle.C:
			events <- &StreamError{Kind: ErrorTimeout, Message: "no chunk received within idle timeout", Retryable: true}
			return

		case res, ok := <-recvCh:
			if !ok {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(c.idleTimeout)

			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					flushToolCalls(events, toolCalls, order)
					events <- &Completed{
						FinishReason: "stop",
						TokenCount:   tokenCount,
						Duration:     time.Since(started),
					}
					return
				}
				if ctx.Err() != nil {
					events <- &StreamError{Kind: ErrorCancelled, Message: ctx.Err().Error()}
					return
				}
				streamErr := classifyOpenError(res.err).(*Error)
				events <- &StreamError{Kind: streamErr.Kind, Message: streamErr.Message, Retryable: streamErr.Retryable}
				return
			}

			if len(res.resp.Choices) == 0 {
				continue
			}
			choice := res.resp.Choices[0]

			if choice.Delta.Content != "" {
				tokenCount++
				events <- &TokenChunk{Text: choice.Delta.Content}
			}
			if choice.Delta.ReasoningContent != "" {
				events <- &ThinkingChunk{Text: choice.Delta.ReasoningContent}
			}

			for _, tc := range choice.Delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if toolCalls[index] == nil {
					toolCalls[index] = &ToolCall{}
					order = append(order, index)
				}
				if tc.ID != "" {
					toolCalls[index].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[index].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					toolCalls[index].Arguments += tc.Function.Arguments
				}
			}

			if choice.FinishReason == openai.FinishReasonToolCalls {
				flushToolCalls(events, toolCalls, order)
				events <- &Completed{
					FinishReason: string(openai.FinishReasonToolCalls),
					TokenCount:   tokenCount,
					Duration:     time.Since(started),
				}
				return
			}
		}
	}
}

// flushToolCalls emits accumulated tool calls in upstream order.
func flushToolCalls(events chan<- Event, toolCalls map[int]*ToolCall, order []int) {
	for _, index := range order {
		tc := toolCalls[index]
		if tc.Name == "" {
			continue
		}
		args := tc.Arguments
		if args == "" {
			args = "{}"
		}
		events <- &ToolCallIntent{ID: tc.ID, ToolID: tc.Name, Arguments: []byte(args)}
	}
}

// convertMessages builds the OpenAI message array. The system prompt travels
// as the first message; tool results become "tool" role messages.
func convertMessages(input StreamInput) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(input.Messages)+1)
	if input.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: input.SystemPrompt,
		})
	}
	for _, m := range input.Messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == openai.ChatMessageRoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.ToolName
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}

func convertTools(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.ParametersSchema),
			},
		})
	}
	return out
}

// classifyOpenError maps SDK errors onto the retry taxonomy. Rate limits and
// server-side errors are retryable; everything else is fatal.
func classifyOpenError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.HTTPStatusCode == http.StatusTooManyRequests ||
			apiErr.HTTPStatusCode >= http.StatusInternalServerError
		return &Error{Kind: ErrorProvider, Message: apiErr.Message, Retryable: retryable}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorCancelled, Message: err.Error()}
	}
	// Network-level failures are worth a retry.
	return &Error{Kind: ErrorProvider, Message: err.Error(), Retryable: true}
}
