package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowTypeIsValid(t *testing.T) {
	for _, wt := range []WorkflowType{WorkflowSupervisor, WorkflowOrchestrator, WorkflowFewShot, WorkflowHybrid} {
		assert.True(t, wt.IsValid(), "%s", wt)
	}
	assert.False(t, WorkflowType("roulette").IsValid())
	assert.False(t, WorkflowType("").IsValid())
}

func TestAgentStateCanTransition(t *testing.T) {
	tests := []struct {
		from, to AgentState
		want     bool
	}{
		{AgentStateDevelopment, AgentStateTesting, true},
		{AgentStateTesting, AgentStateDevelopment, true},
		{AgentStateTesting, AgentStateProduction, true},
		{AgentStateProduction, AgentStateDeprecated, true},
		{AgentStateDeprecated, AgentStateArchived, true},

		{AgentStateDevelopment, AgentStateProduction, false},
		{AgentStateProduction, AgentStateTesting, false},
		{AgentStateArchived, AgentStateProduction, false},
		{AgentStateDeprecated, AgentStateProduction, false},
		{AgentStateProduction, AgentStateArchived, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAgentStateRoutingEligible(t *testing.T) {
	assert.True(t, AgentStateProduction.RoutingEligible(false))
	assert.False(t, AgentStateTesting.RoutingEligible(false))
	assert.True(t, AgentStateTesting.RoutingEligible(true))
	assert.False(t, AgentStateDevelopment.RoutingEligible(true))
	assert.False(t, AgentStateDeprecated.RoutingEligible(false))
	assert.False(t, AgentStateArchived.RoutingEligible(true))
}

func TestPhaseStrategyIsValid(t *testing.T) {
	assert.True(t, PhasePipeline.IsValid())
	assert.True(t, PhaseLLM.IsValid())
	assert.False(t, PhaseStrategy("vibes").IsValid())
}
