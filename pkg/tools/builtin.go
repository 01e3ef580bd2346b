package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// httpBodyLimit caps http_get response bodies.
const httpBodyLimit = 64 * 1024

// builtinHandlers wires the shipped handler set. workspaceDir roots the
// file_write / file_read sandbox.
func builtinHandlers(workspaceDir string) map[string]Handler {
	fs := &workspaceFS{root: workspaceDir}
	return map[string]Handler{
		"echo":       handleEcho,
		"clock":      handleClock,
		"calculator": handleCalculator,
		"file_write": fs.handleWrite,
		"file_read":  fs.handleRead,
		"http_get":   handleHTTPGet,
	}
}

func handleEcho(_ context.Context, _ string, args map[string]any) (string, error) {
	message, _ := args["message"].(string)
	return marshalResult(map[string]any{"echoed": message})
}

func handleClock(_ context.Context, _ string, _ map[string]any) (string, error) {
	return marshalResult(map[string]any{"now": time.Now().Format(time.RFC3339)})
}

func handleCalculator(_ context.Context, _ string, args map[string]any) (string, error) {
	expr, _ := args["expression"].(string)
	result, err := evalExpression(expr)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"result": result})
}

// workspaceFS confines file tools to a root directory.
type workspaceFS struct {
	root string
}

// resolve maps a relative tool path into the workspace, rejecting absolute
// paths and traversal outside the root.
func (w *workspaceFS) resolve(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", errors.New("path must be relative to the workspace")
	}
	cleaned := filepath.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes the workspace")
	}
	return filepath.Join(w.root, cleaned), nil
}

// writeMarker is the sidecar recording which run last wrote a file, so
// re-delivery of the same run (crash replay) returns the recorded result
// instead of re-applying the write.
type writeMarker struct {
	RunID        string `json:"run_id"`
	BytesWritten int    `json:"bytes_written"`
}

func (w *workspaceFS) handleWrite(_ context.Context, runID string, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	content, _ := args["content"].(string)

	path, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	markerPath := path + ".run"

	if data, err := os.ReadFile(markerPath); err == nil {
		var marker writeMarker
		if json.Unmarshal(data, &marker) == nil && marker.RunID == runID {
			return marshalResult(map[string]any{
				"bytes_written": marker.BytesWritten,
				"replayed":      true,
			})
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create workspace directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	marker, err := json.Marshal(writeMarker{RunID: runID, BytesWritten: len(content)})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(markerPath, marker, 0o644); err != nil {
		return "", fmt.Errorf("write run marker: %w", err)
	}

	return marshalResult(map[string]any{
		"bytes_written": len(content),
		"replayed":      false,
	})
}

func (w *workspaceFS) handleRead(_ context.Context, _ string, args map[string]any) (string, error) {
	rel, _ := args["path"].(string)
	path, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return marshalResult(map[string]any{"content": string(data)})
}

func handleHTTPGet(ctx context.Context, _ string, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", errors.New("url must be an absolute http(s) URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		// Network failures are transient; let the executor retry.
		return "", Retryable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	if err != nil {
		return "", Retryable(err)
	}

	return marshalResult(map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	})
}

func marshalResult(v map[string]any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
