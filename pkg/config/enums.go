package config

// WorkflowType defines how a domain routes user messages to agents.
type WorkflowType string

const (
	// WorkflowSupervisor scores agents by routing keywords.
	WorkflowSupervisor WorkflowType = "supervisor"
	// WorkflowOrchestrator follows a fixed agent pipeline, one agent per turn.
	WorkflowOrchestrator WorkflowType = "orchestrator"
	// WorkflowFewShot asks an LLM router seeded with examples.
	WorkflowFewShot WorkflowType = "few_shot"
	// WorkflowHybrid mixes deterministic pipeline phases with LLM-decided phases.
	WorkflowHybrid WorkflowType = "hybrid"
)

// IsValid checks if the workflow type is one of the closed set.
func (w WorkflowType) IsValid() bool {
	switch w {
	case WorkflowSupervisor, WorkflowOrchestrator, WorkflowFewShot, WorkflowHybrid:
		return true
	default:
		return false
	}
}

// AgentState is an agent's lifecycle state.
type AgentState string

const (
	AgentStateDevelopment AgentState = "DEVELOPMENT"
	AgentStateTesting     AgentState = "TESTING"
	AgentStateProduction  AgentState = "PRODUCTION"
	AgentStateDeprecated  AgentState = "DEPRECATED"
	AgentStateArchived    AgentState = "ARCHIVED"
)

// agentStateTransitions is the lifecycle DAG:
// DEVELOPMENT↔TESTING, TESTING→PRODUCTION, PRODUCTION→DEPRECATED→ARCHIVED.
var agentStateTransitions = map[AgentState][]AgentState{
	AgentStateDevelopment: {AgentStateTesting},
	AgentStateTesting:     {AgentStateDevelopment, AgentStateProduction},
	AgentStateProduction:  {AgentStateDeprecated},
	AgentStateDeprecated:  {AgentStateArchived},
}

// IsValid checks if the agent state is known.
func (s AgentState) IsValid() bool {
	switch s {
	case AgentStateDevelopment, AgentStateTesting, AgentStateProduction,
		AgentStateDeprecated, AgentStateArchived:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s → to is an allowed lifecycle edge.
func (s AgentState) CanTransition(to AgentState) bool {
	for _, next := range agentStateTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// RoutingEligible reports whether an agent in this state may receive new
// turns. TESTING agents require an explicit per-request override.
func (s AgentState) RoutingEligible(testingOverride bool) bool {
	if s == AgentStateProduction {
		return true
	}
	return s == AgentStateTesting && testingOverride
}

// PhaseStrategy selects how one hybrid phase picks its agent.
type PhaseStrategy string

const (
	// PhasePipeline pins the phase to a configured agent.
	PhasePipeline PhaseStrategy = "pipeline"
	// PhaseLLM delegates the phase to the few-shot LLM router.
	PhaseLLM PhaseStrategy = "llm"
)

// IsValid checks if the phase strategy is known.
func (p PhaseStrategy) IsValid() bool {
	return p == PhasePipeline || p == PhaseLLM
}
