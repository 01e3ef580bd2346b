// Package tools validates and executes tool calls. Schemas come from the
// config snapshot (draft-07, compiled once per snapshot hash); handlers are
// in-process functions registered by handler_ref.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/masking"
)

// Handler executes one tool call. Args have already passed schema validation.
// The returned string is the JSON-encoded tool result. Side-effecting
// handlers must be idempotent for the same (runID, args) pair.
type Handler func(ctx context.Context, runID string, args map[string]any) (string, error)

// Registry validates arguments against tool schemas and dispatches handlers.
// Safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
	masker   *masking.Service

	// Compiled schemas per snapshot hash. Two generations are kept so a
	// reload mid-turn does not recompile the still-running snapshot's
	// schemas on every call.
	mu        sync.Mutex
	schemas   map[string]map[string]*jsonschema.Schema
	schemaGen []string
}

// NewRegistry creates a registry with the builtin handlers plus any extras.
// Extras override builtins on name collision.
func NewRegistry(workspaceDir string, masker *masking.Service, extras map[string]Handler) *Registry {
	r := &Registry{
		handlers: builtinHandlers(workspaceDir),
		masker:   masker,
		schemas:  make(map[string]map[string]*jsonschema.Schema),
	}
	for name, h := range extras {
		r.handlers[name] = h
	}
	return r
}

// Validate checks raw arguments against the tool's parameter schema and
// returns the decoded arguments. Schemas reject unknown properties unless
// they opt out explicitly.
func (r *Registry) Validate(snap *config.Snapshot, toolID string, raw json.RawMessage) (map[string]any, error) {
	tool, err := snap.GetTool(toolID)
	if err != nil {
		return nil, &Error{Kind: KindNotConfigured, ToolID: toolID, Message: "unknown tool"}
	}

	schema, err := r.schemaFor(snap, tool)
	if err != nil {
		return nil, &Error{Kind: KindNotConfigured, ToolID: toolID, Message: "schema compile failed: " + err.Error()}
	}

	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &ValidationError{ToolID: toolID, Causes: []string{"arguments are not valid JSON: " + err.Error()}}
	}

	if err := schema.Validate(decoded); err != nil {
		return nil, &ValidationError{ToolID: toolID, Causes: validationCauses(err)}
	}

	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, &ValidationError{ToolID: toolID, Causes: []string{"arguments must be a JSON object"}}
	}
	return args, nil
}

// IsRoleAllowed reports whether the role may trigger the tool. Tools with an
// empty allowed_roles list are open to everyone. Unknown tools are denied.
func (r *Registry) IsRoleAllowed(snap *config.Snapshot, toolID string, role auth.Role) bool {
	tool, err := snap.GetTool(toolID)
	if err != nil {
		return false
	}
	return auth.RoleAllowed(tool.AllowedRoles, role)
}

// Execute runs the tool handler with the tool's deadline, retrying transient
// failures up to max_retries. The result passes through the masking service
// before it is returned. Synchronous to the caller.
func (r *Registry) Execute(ctx context.Context, snap *config.Snapshot, toolID, runID string, args map[string]any) (string, error) {
	tool, err := snap.GetTool(toolID)
	if err != nil {
		return "", &Error{Kind: KindNotConfigured, ToolID: toolID, Message: "unknown tool"}
	}
	if toolID == config.HandoffToolID {
		return "", &Error{Kind: KindNotConfigured, ToolID: toolID, Message: "reserved tool has no handler"}
	}
	handler, ok := r.handlers[tool.HandlerRef]
	if !ok {
		return "", &Error{Kind: KindNotConfigured, ToolID: toolID, Message: "no handler registered for " + tool.HandlerRef}
	}

	timeout := snap.ToolTimeoutFor(tool)
	attempts := tool.MaxRetries + 1

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := r.runOnce(ctx, handler, toolID, runID, args, timeout)
		if err == nil {
			return r.masker.MaskToolResult(result, tool.MaskingGroups), nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		slog.Warn("Retrying tool handler after transient failure",
			"tool_id", toolID, "run_id", runID, "attempt", attempt+1, "error", err)
	}

	if IsRetryable(lastErr) {
		lastErr = &Error{Kind: KindHandlerError, ToolID: toolID, Message: lastErr.Error()}
	}
	return "", lastErr
}

// runOnce executes the handler once with panic recovery and the deadline.
func (r *Registry) runOnce(ctx context.Context, handler Handler, toolID, runID string, args map[string]any, timeout time.Duration) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: &Error{
					Kind:    KindHandlerPanic,
					ToolID:  toolID,
					Message: fmt.Sprintf("%v", rec),
				}}
			}
		}()
		result, err := handler(execCtx, runID, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			var toolErr *Error
			if ok := asToolError(out.err, &toolErr); ok {
				return "", toolErr
			}
			if IsRetryable(out.err) {
				return "", out.err
			}
			return "", &Error{Kind: KindHandlerError, ToolID: toolID, Message: out.err.Error()}
		}
		return out.result, nil
	case <-execCtx.Done():
		// The handler goroutine keeps running until it observes execCtx;
		// its late result lands in the buffered channel and is discarded.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Kind: KindTimeout, ToolID: toolID, Message: fmt.Sprintf("handler exceeded %s", timeout)}
	}
}

// schemaFor returns the compiled parameter schema for the tool, compiling the
// snapshot's schema set on first use of each snapshot hash.
func (r *Registry) schemaFor(snap *config.Snapshot, tool *config.ToolConfig) (*jsonschema.Schema, error) {
	hash := snap.HashHex()

	r.mu.Lock()
	defer r.mu.Unlock()

	gen, ok := r.schemas[hash]
	if !ok {
		gen = make(map[string]*jsonschema.Schema)
		r.schemas[hash] = gen
		r.schemaGen = append(r.schemaGen, hash)
		for len(r.schemaGen) > 2 {
			delete(r.schemas, r.schemaGen[0])
			r.schemaGen = r.schemaGen[1:]
		}
	}

	if schema, ok := gen[tool.ID]; ok {
		return schema, nil
	}

	doc := make(map[string]any, len(tool.ParametersSchema)+1)
	for k, v := range tool.ParametersSchema {
		doc[k] = v
	}
	// Unknown properties are rejected unless the schema opts out.
	if _, declared := doc["additionalProperties"]; !declared && doc["type"] == "object" {
		doc["additionalProperties"] = false
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", tool.ID, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	url := "tool://" + tool.ID + "/parameters.json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", tool.ID, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", tool.ID, err)
	}

	gen[tool.ID] = schema
	return schema, nil
}

// validationCauses flattens a jsonschema validation error into leaf messages.
func validationCauses(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var causes []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			causes = append(causes, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return causes
}

func asToolError(err error, target **Error) bool {
	te, ok := err.(*Error)
	if ok {
		*target = te
	}
	return ok
}
