package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestSnapshot builds a snapshot that passes validation; cases mutate it.
func validTestSnapshot() *Snapshot {
	tools := mergeTools(GetBuiltinConfig().Tools, nil)
	defaults, _ := builtinDefaults()
	snap := &Snapshot{
		Defaults: *defaults,
		domains: map[string]*DomainConfig{
			"support": {
				ID:              "support",
				Name:            "support",
				WorkflowType:    WorkflowSupervisor,
				AgentIDs:        []string{"billing", "triage"},
				DefaultAgentID:  "triage",
				FallbackAgentID: "billing",
				RoutingRules: []RoutingRule{
					{Keyword: "refund", AgentID: "billing", Priority: 2},
				},
			},
		},
		agents: map[string]*AgentConfig{
			"triage": {
				ID: "triage", Name: "triage", DomainID: "support",
				SystemPrompt: "You triage.", State: AgentStateProduction,
			},
			"billing": {
				ID: "billing", Name: "billing", DomainID: "support",
				SystemPrompt: "You bill.", State: AgentStateProduction,
				ToolIDs: []string{"echo"},
			},
		},
		tools: tools,
	}
	return snap
}

func TestValidateSnapshotValid(t *testing.T) {
	require.NoError(t, validateSnapshot(validTestSnapshot()))
}

func TestValidateSnapshotFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		wantErr string
	}{
		{
			name:    "default agent not in domain",
			mutate:  func(s *Snapshot) { s.domains["support"].DefaultAgentID = "ghost" },
			wantErr: "default_agent_id",
		},
		{
			name:    "fallback agent not in domain",
			mutate:  func(s *Snapshot) { s.domains["support"].FallbackAgentID = "ghost" },
			wantErr: "fallback_agent_id",
		},
		{
			name:    "invalid workflow type",
			mutate:  func(s *Snapshot) { s.domains["support"].WorkflowType = "roulette" },
			wantErr: "workflow_type",
		},
		{
			name: "routing rule references foreign agent",
			mutate: func(s *Snapshot) {
				s.domains["support"].RoutingRules[0].AgentID = "ghost"
			},
			wantErr: "routing_rules[0]",
		},
		{
			name: "routing rule empty keyword",
			mutate: func(s *Snapshot) {
				s.domains["support"].RoutingRules[0].Keyword = ""
			},
			wantErr: "keyword required",
		},
		{
			name:    "agent references missing domain",
			mutate:  func(s *Snapshot) { s.agents["triage"].DomainID = "nowhere" },
			wantErr: "domain 'nowhere' not found",
		},
		{
			name:    "agent missing system prompt",
			mutate:  func(s *Snapshot) { s.agents["triage"].SystemPrompt = "" },
			wantErr: "system_prompt",
		},
		{
			name:    "agent invalid state",
			mutate:  func(s *Snapshot) { s.agents["triage"].State = "LIMBO" },
			wantErr: "invalid state",
		},
		{
			name:    "agent references missing tool",
			mutate:  func(s *Snapshot) { s.agents["billing"].ToolIDs = []string{"teleport"} },
			wantErr: "tool 'teleport' not found",
		},
		{
			name:    "unknown role",
			mutate:  func(s *Snapshot) { s.domains["support"].AllowedRoles = []string{"wizard"} },
			wantErr: "unknown role",
		},
		{
			name:    "min confidence out of range",
			mutate:  func(s *Snapshot) { s.domains["support"].MinConfidence = 1.5 },
			wantErr: "min_confidence",
		},
		{
			name:    "tool missing handler ref",
			mutate:  func(s *Snapshot) { s.tools["echo"].HandlerRef = "" },
			wantErr: "handler_ref",
		},
		{
			name:    "tool unknown masking group",
			mutate:  func(s *Snapshot) { s.tools["echo"].MaskingGroups = []string{"nope"} },
			wantErr: "pattern group 'nope' not found",
		},
		{
			name: "orchestrator without pipeline",
			mutate: func(s *Snapshot) {
				s.domains["support"].WorkflowType = WorkflowOrchestrator
			},
			wantErr: "orchestration_pipeline",
		},
		{
			name: "pipeline references foreign agent",
			mutate: func(s *Snapshot) {
				s.domains["support"].WorkflowType = WorkflowOrchestrator
				s.domains["support"].OrchestrationPipeline = []string{"triage", "ghost"}
			},
			wantErr: "orchestration_pipeline[1]",
		},
		{
			name: "few_shot without examples",
			mutate: func(s *Snapshot) {
				s.domains["support"].WorkflowType = WorkflowFewShot
			},
			wantErr: "few_shot_examples",
		},
		{
			name: "few_shot example references foreign agent",
			mutate: func(s *Snapshot) {
				s.domains["support"].WorkflowType = WorkflowFewShot
				s.domains["support"].FewShotExamples = []FewShotExample{
					{UserMessage: "where is my refund", AgentID: "ghost"},
				}
			},
			wantErr: "few_shot_examples[0]",
		},
		{
			name: "hybrid without phases",
			mutate: func(s *Snapshot) {
				s.domains["support"].WorkflowType = WorkflowHybrid
			},
			wantErr: "hybrid_phases",
		},
		{
			name: "hybrid pipeline phase without agent",
			mutate: func(s *Snapshot) {
				s.domains["support"].WorkflowType = WorkflowHybrid
				s.domains["support"].HybridPhases = []HybridPhase{{Strategy: PhasePipeline}}
			},
			wantErr: "agent_id required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := validTestSnapshot()
			tt.mutate(snap)

			err := validateSnapshot(snap)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSnapshotHybridLLMPhase(t *testing.T) {
	// llm phases need no agent_id; the few-shot router resolves at runtime
	snap := validTestSnapshot()
	snap.domains["support"].WorkflowType = WorkflowHybrid
	snap.domains["support"].HybridPhases = []HybridPhase{
		{Strategy: PhasePipeline, AgentID: "triage"},
		{Strategy: PhaseLLM},
	}
	assert.NoError(t, validateSnapshot(snap))
}
