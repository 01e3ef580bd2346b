package config

import (
	"sync"
)

// BuiltinConfig holds all built-in configuration data: the default tool set
// and the masking patterns the masking service resolves groups against.
type BuiltinConfig struct {
	Tools           map[string]ToolConfig
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
}

// MaskingPattern defines a regex-based masking pattern.
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Tools:           initBuiltinTools(),
		MaskingPatterns: initBuiltinMaskingPatterns(),
		PatternGroups:   initBuiltinPatternGroups(),
	}
}

// HandoffToolID is the reserved tool id the runner intercepts to switch the
// active agent mid-turn. Its handler is never executed.
const HandoffToolID = "handoff"

func initBuiltinTools() map[string]ToolConfig {
	return map[string]ToolConfig{
		"echo": {
			Name:        "echo",
			Description: "Returns the given message unchanged. Useful for connectivity checks.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "Text to echo back",
					},
				},
				"required": []any{"message"},
			},
			ReturnsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"echoed": map[string]any{"type": "string"},
				},
			},
			HandlerRef:       "echo",
			RequiresApproval: false,
		},
		"clock": {
			Name:        "clock",
			Description: "Returns the current server time in RFC3339 format.",
			ParametersSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			ReturnsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"now": map[string]any{"type": "string"},
				},
			},
			HandlerRef:       "clock",
			RequiresApproval: false,
		},
		"calculator": {
			Name:        "calculator",
			Description: "Evaluates a basic arithmetic expression (+, -, *, /, parentheses).",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "Arithmetic expression, e.g. (2+3)*4",
					},
				},
				"required": []any{"expression"},
			},
			ReturnsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"result": map[string]any{"type": "number"},
				},
			},
			HandlerRef:       "calculator",
			RequiresApproval: false,
		},
		"file_write": {
			Name:        "file_write",
			Description: "Writes content to a file under the tool workspace directory.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Relative path inside the workspace",
					},
					"content": map[string]any{
						"type": "string",
					},
				},
				"required": []any{"path", "content"},
			},
			ReturnsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"bytes_written": map[string]any{"type": "integer"},
					"replayed":      map[string]any{"type": "boolean"},
				},
			},
			HandlerRef:       "file_write",
			RequiresApproval: true,
			TimeoutMs:        5000,
		},
		"file_read": {
			Name:        "file_read",
			Description: "Reads a file from the tool workspace directory.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Relative path inside the workspace",
					},
				},
				"required": []any{"path"},
			},
			ReturnsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
			},
			HandlerRef:       "file_read",
			RequiresApproval: false,
			AllowedRoles:     []string{"admin", "developer", "operator"},
			TimeoutMs:        5000,
		},
		"http_get": {
			Name:        "http_get",
			Description: "Performs an HTTP GET request and returns status and body (truncated to 64KiB).",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "Absolute http(s) URL",
					},
				},
				"required": []any{"url"},
			},
			ReturnsSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{"type": "integer"},
					"body":   map[string]any{"type": "string"},
				},
			},
			HandlerRef:       "http_get",
			RequiresApproval: true,
			TimeoutMs:        10000,
			MaskingGroups:    []string{"security"},
		},
		HandoffToolID: {
			Name:        "handoff",
			Description: "Hands the conversation to another agent in the same domain.",
			ParametersSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to_agent_id": map[string]any{
						"type":        "string",
						"description": "Agent to continue the turn",
					},
					"reason": map[string]any{
						"type": "string",
					},
				},
				"required": []any{"to_agent_id"},
			},
			HandlerRef:       "handoff",
			RequiresApproval: false,
		},
	}
}

func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-]{20,})["\']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["\']?\s*[:=]\s*["\']?([^"\'\s\n]{6,})["\']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM blocks",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
			Description: "Private keys",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `__MASKED_SLACK_TOKEN__`,
			Description: "Slack tokens",
		},
	}
}

// initBuiltinPatternGroups returns predefined groups of masking patterns.
// Tools reference groups by name in masking_groups.
func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"security": {"api_key", "password", "token", "certificate", "email", "ssh_key", "private_key", "slack_token"},
	}
}
