package config

import (
	"fmt"
)

// knownRoles is the role vocabulary accepted in allowed_roles lists.
// It matches the roles carried in JWT claims.
var knownRoles = map[string]bool{
	"admin":     true,
	"developer": true,
	"operator":  true,
	"user":      true,
	"agent":     true,
	"guest":     true,
}

// snapshotValidator validates a built snapshot comprehensively with clear
// error messages. Any failure rejects the whole snapshot.
type snapshotValidator struct {
	snap *Snapshot
}

// validateSnapshot performs comprehensive validation (fail-fast, stops at first error)
func validateSnapshot(snap *Snapshot) error {
	v := &snapshotValidator{snap: snap}

	// Validate in order: tools → agents → domains, so dependencies are
	// checked before dependents
	if err := v.validateTools(); err != nil {
		return fmt.Errorf("tool validation failed: %w", err)
	}
	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := v.validateDomains(); err != nil {
		return fmt.Errorf("domain validation failed: %w", err)
	}
	return nil
}

func (v *snapshotValidator) validateTools() error {
	builtin := GetBuiltinConfig()

	for id, tool := range v.snap.tools {
		if tool.HandlerRef == "" {
			return NewValidationError("tool", id, "handler_ref", fmt.Errorf("handler_ref required"))
		}
		if tool.ParametersSchema == nil {
			return NewValidationError("tool", id, "parameters_schema", fmt.Errorf("parameters_schema required"))
		}
		if tool.TimeoutMs < 0 {
			return NewValidationError("tool", id, "timeout_ms", fmt.Errorf("must be non-negative"))
		}
		if tool.MaxRetries < 0 {
			return NewValidationError("tool", id, "max_retries", fmt.Errorf("must be non-negative"))
		}
		for _, role := range tool.AllowedRoles {
			if !knownRoles[role] {
				return NewValidationError("tool", id, "allowed_roles", fmt.Errorf("unknown role '%s'", role))
			}
		}
		for _, group := range tool.MaskingGroups {
			if _, exists := builtin.PatternGroups[group]; !exists {
				return NewValidationError("tool", id, "masking_groups", fmt.Errorf("pattern group '%s' not found", group))
			}
		}
	}
	return nil
}

func (v *snapshotValidator) validateAgents() error {
	for id, agent := range v.snap.agents {
		if agent.DomainID == "" {
			return NewValidationError("agent", id, "domain", fmt.Errorf("domain required"))
		}
		if _, exists := v.snap.domains[agent.DomainID]; !exists {
			return NewValidationError("agent", id, "domain", fmt.Errorf("domain '%s' not found", agent.DomainID))
		}
		if agent.SystemPrompt == "" {
			return NewValidationError("agent", id, "system_prompt", fmt.Errorf("system_prompt required"))
		}
		if !agent.State.IsValid() {
			return NewValidationError("agent", id, "state", fmt.Errorf("invalid state: %s", agent.State))
		}
		for _, toolID := range agent.ToolIDs {
			if _, exists := v.snap.tools[toolID]; !exists {
				return NewValidationError("agent", id, "tool_ids", fmt.Errorf("tool '%s' not found", toolID))
			}
		}
	}
	return nil
}

func (v *snapshotValidator) validateDomains() error {
	for id, domain := range v.snap.domains {
		if !domain.WorkflowType.IsValid() {
			return NewValidationError("domain", id, "workflow_type", fmt.Errorf("invalid workflow type: %s", domain.WorkflowType))
		}

		// Membership: every listed agent must exist and belong to this domain
		members := make(map[string]bool, len(domain.AgentIDs))
		for _, agentID := range domain.AgentIDs {
			agent, exists := v.snap.agents[agentID]
			if !exists {
				return NewValidationError("domain", id, "agent_ids", fmt.Errorf("agent '%s' not found", agentID))
			}
			if agent.DomainID != id {
				return NewValidationError("domain", id, "agent_ids", fmt.Errorf("agent '%s' belongs to domain '%s'", agentID, agent.DomainID))
			}
			members[agentID] = true
		}
		if len(members) == 0 {
			return NewValidationError("domain", id, "agent_ids", fmt.Errorf("at least one agent required"))
		}

		if domain.DefaultAgentID == "" {
			return NewValidationError("domain", id, "default_agent_id", fmt.Errorf("default_agent_id required"))
		}
		if !members[domain.DefaultAgentID] {
			return NewValidationError("domain", id, "default_agent_id", fmt.Errorf("agent '%s' not in domain", domain.DefaultAgentID))
		}
		if domain.FallbackAgentID != "" && !members[domain.FallbackAgentID] {
			return NewValidationError("domain", id, "fallback_agent_id", fmt.Errorf("agent '%s' not in domain", domain.FallbackAgentID))
		}

		for i, rule := range domain.RoutingRules {
			if rule.Keyword == "" {
				return NewValidationError("domain", id, fmt.Sprintf("routing_rules[%d].keyword", i), fmt.Errorf("keyword required"))
			}
			if !members[rule.AgentID] {
				return NewValidationError("domain", id, fmt.Sprintf("routing_rules[%d].agent_id", i), fmt.Errorf("agent '%s' not in domain", rule.AgentID))
			}
			if rule.Priority < 0 {
				return NewValidationError("domain", id, fmt.Sprintf("routing_rules[%d].priority", i), fmt.Errorf("must be non-negative"))
			}
		}

		for _, role := range domain.AllowedRoles {
			if !knownRoles[role] {
				return NewValidationError("domain", id, "allowed_roles", fmt.Errorf("unknown role '%s'", role))
			}
		}

		if domain.MinConfidence < 0 || domain.MinConfidence >= 1 {
			return NewValidationError("domain", id, "min_confidence", fmt.Errorf("must be in [0, 1)"))
		}
		if domain.MaxHandoffs < 0 {
			return NewValidationError("domain", id, "max_handoffs", fmt.Errorf("must be non-negative"))
		}

		if err := v.validateStrategy(id, domain, members); err != nil {
			return err
		}
	}
	return nil
}

// validateStrategy checks the fields each workflow type depends on.
func (v *snapshotValidator) validateStrategy(id string, domain *DomainConfig, members map[string]bool) error {
	switch domain.WorkflowType {
	case WorkflowOrchestrator:
		if len(domain.OrchestrationPipeline) == 0 {
			return NewValidationError("domain", id, "orchestration_pipeline", fmt.Errorf("required for orchestrator domains"))
		}
		for i, agentID := range domain.OrchestrationPipeline {
			if !members[agentID] {
				return NewValidationError("domain", id, fmt.Sprintf("orchestration_pipeline[%d]", i), fmt.Errorf("agent '%s' not in domain", agentID))
			}
		}

	case WorkflowFewShot:
		if len(domain.FewShotExamples) == 0 {
			return NewValidationError("domain", id, "few_shot_examples", fmt.Errorf("required for few_shot domains"))
		}
		for i, ex := range domain.FewShotExamples {
			if ex.UserMessage == "" {
				return NewValidationError("domain", id, fmt.Sprintf("few_shot_examples[%d].user_message", i), fmt.Errorf("user_message required"))
			}
			if !members[ex.AgentID] {
				return NewValidationError("domain", id, fmt.Sprintf("few_shot_examples[%d].agent_id", i), fmt.Errorf("agent '%s' not in domain", ex.AgentID))
			}
		}

	case WorkflowHybrid:
		if len(domain.HybridPhases) == 0 {
			return NewValidationError("domain", id, "hybrid_phases", fmt.Errorf("required for hybrid domains"))
		}
		for i, phase := range domain.HybridPhases {
			if !phase.Strategy.IsValid() {
				return NewValidationError("domain", id, fmt.Sprintf("hybrid_phases[%d].strategy", i), fmt.Errorf("invalid strategy: %s", phase.Strategy))
			}
			if phase.Strategy == PhasePipeline {
				if phase.AgentID == "" {
					return NewValidationError("domain", id, fmt.Sprintf("hybrid_phases[%d].agent_id", i), fmt.Errorf("agent_id required for pipeline phases"))
				}
				if !members[phase.AgentID] {
					return NewValidationError("domain", id, fmt.Sprintf("hybrid_phases[%d].agent_id", i), fmt.Errorf("agent '%s' not in domain", phase.AgentID))
				}
			}
		}
		// llm phases delegate to few-shot routing; examples are optional there
		// because the router falls back to supervisor scoring on parse failure
	}
	return nil
}
