package config

// Shared configuration structs loaded from parley.yaml / tools.yaml.
// IDs are the map keys in the YAML files; the loader copies them onto
// the structs so callers never depend on map position.

// DomainConfig defines a named configuration of agents with a routing strategy.
// Reloadable only as a whole snapshot.
type DomainConfig struct {
	ID   string `yaml:"-"`
	Name string `yaml:"name,omitempty"`

	// Routing strategy for the domain
	WorkflowType WorkflowType `yaml:"workflow_type"`

	// Agents owned by this domain. Derived from agent configs (agents declare
	// their domain); listing them here explicitly is also accepted.
	AgentIDs []string `yaml:"agent_ids,omitempty"`

	// Agent chosen when scoring ties or nothing matches with confidence
	DefaultAgentID string `yaml:"default_agent_id"`

	// Agent chosen when the best score falls below min_confidence
	FallbackAgentID string `yaml:"fallback_agent_id,omitempty"`

	// Keyword rules for the supervisor strategy
	RoutingRules []RoutingRule `yaml:"routing_rules,omitempty"`

	// Roles allowed to converse in this domain. Empty means everyone.
	AllowedRoles []string `yaml:"allowed_roles,omitempty"`

	// Ordered agent ids for the orchestrator strategy
	OrchestrationPipeline []string `yaml:"orchestration_pipeline,omitempty"`

	// Examples embedded in the few_shot router prompt
	FewShotExamples []FewShotExample `yaml:"few_shot_examples,omitempty"`

	// Per-turn phases for the hybrid strategy
	HybridPhases []HybridPhase `yaml:"hybrid_phases,omitempty"`

	// Cap on handoffs within a single turn (0 = use defaults.max_handoffs)
	MaxHandoffs int `yaml:"max_handoffs,omitempty"`

	// Supervisor score threshold below which the fallback agent is used
	// (0 = use defaults.min_confidence)
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
}

// RoutingRule maps a keyword to an agent with a score contribution.
// Matching is case-insensitive substring.
type RoutingRule struct {
	Keyword  string  `yaml:"keyword"`
	AgentID  string  `yaml:"agent_id"`
	Priority float64 `yaml:"priority,omitempty"` // defaults to 1
}

// FewShotExample is a routing exemplar for the LLM router prompt.
type FewShotExample struct {
	UserMessage string `yaml:"user_message"`
	AgentID     string `yaml:"agent_id"`
	Reason      string `yaml:"reason,omitempty"`
}

// HybridPhase selects the routing strategy for one turn index.
// pipeline phases name a fixed agent; llm phases delegate to the few-shot router.
type HybridPhase struct {
	Strategy PhaseStrategy `yaml:"strategy"`
	AgentID  string        `yaml:"agent_id,omitempty"` // required for pipeline phases
}

// AgentConfig defines an LLM-backed agent.
type AgentConfig struct {
	ID   string `yaml:"-"`
	Name string `yaml:"name,omitempty"`

	// Domain that owns this agent
	DomainID string `yaml:"domain"`

	// Model identifier passed to the LLM backend (empty = LLM_MODEL_DEFAULT)
	ModelID string `yaml:"model_id,omitempty"`

	// System prompt prepended to every stream for this agent
	SystemPrompt string `yaml:"system_prompt"`

	// Tools this agent may call
	ToolIDs []string `yaml:"tool_ids,omitempty"`

	// Keywords feeding the supervisor score (priority 1 each, additive
	// with the domain's routing_rules)
	RoutingKeywords []string `yaml:"routing_keywords,omitempty"`

	// Free-form capability labels, surfaced in routing rationales
	Capabilities []string `yaml:"capabilities,omitempty"`

	// Lifecycle state; only PRODUCTION agents route by default
	State AgentState `yaml:"state,omitempty"`

	// Semver, informational
	Version string `yaml:"version,omitempty"`
}

// ToolConfig defines an invocable tool. Schemas are authored as YAML mappings
// and compiled to JSON Schema draft-07 at snapshot build time.
type ToolConfig struct {
	ID          string `yaml:"-"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description"`

	// JSON Schema (draft-07) for call arguments
	ParametersSchema map[string]any `yaml:"parameters_schema"`

	// JSON Schema for the result, informational
	ReturnsSchema map[string]any `yaml:"returns_schema,omitempty"`

	// Registered handler name (echo, clock, calculator, file_write, ...)
	HandlerRef string `yaml:"handler_ref"`

	// Whether a human decision gates execution
	RequiresApproval bool `yaml:"requires_approval"`

	// Roles allowed to trigger this tool. Empty means everyone.
	AllowedRoles []string `yaml:"allowed_roles,omitempty"`

	// Handler deadline; 0 = defaults.tool_timeout_ms
	TimeoutMs int `yaml:"timeout_ms,omitempty"`

	// Retries for retryable handler failures
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Masking pattern groups applied to results (see masking package)
	MaskingGroups []string `yaml:"masking_groups,omitempty"`
}

// Defaults holds system-wide fallbacks merged into domains/tools at load time.
type Defaults struct {
	// Supervisor confidence floor
	MinConfidence float64 `yaml:"min_confidence,omitempty"`

	// Handoff cap per turn
	MaxHandoffs int `yaml:"max_handoffs,omitempty"`

	// Tool handler deadline when the tool does not set one
	ToolTimeoutMs int `yaml:"tool_timeout_ms,omitempty"`

	// In-flight LLM streams per model id
	MaxConcurrentStreams int `yaml:"max_concurrent_streams,omitempty"`
}

// SystemConfig holds non-domain system settings from parley.yaml.
type SystemConfig struct {
	Slack     SlackConfig     `yaml:"slack,omitempty"`
	Retention RetentionConfig `yaml:"retention,omitempty"`

	// Origins accepted at the WebSocket handshake. Empty = same-origin only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// SlackConfig enables approval notifications. The bot token comes from
// SLACK_BOT_TOKEN, never from YAML.
type SlackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel,omitempty"`

	// Suppress duplicate notifications with the same fingerprint
	// within this many minutes (0 = 15)
	DedupWindowMinutes int `yaml:"dedup_window_minutes,omitempty"`
}

// RetentionConfig controls the background cleanup service.
// Zero values mean "keep forever" for conversations and 90 days for logs.
type RetentionConfig struct {
	ConversationDays int `yaml:"conversation_days,omitempty"`
	LogDays          int `yaml:"log_days,omitempty"`
	IntervalHours    int `yaml:"interval_hours,omitempty"`
}

// parleyFile is the top-level shape of parley.yaml.
type parleyFile struct {
	System   SystemConfig             `yaml:"system,omitempty"`
	Defaults Defaults                 `yaml:"defaults,omitempty"`
	Domains  map[string]*DomainConfig `yaml:"domains"`
	Agents   map[string]*AgentConfig  `yaml:"agents"`
}

// toolsFile is the top-level shape of tools.yaml.
type toolsFile struct {
	Tools map[string]*ToolConfig `yaml:"tools"`
}
