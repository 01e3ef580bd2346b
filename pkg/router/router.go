// Package router selects the agent that handles a turn. Four strategies:
// keyword scoring (supervisor), fixed pipeline (orchestrator), LLM-decided
// (few_shot), and per-phase mixing (hybrid). Every strategy ends in the same
// eligibility filter, so lifecycle state and role gates hold regardless of
// how the candidate was chosen.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/metrics"
)

// ErrNoEligibleAgent means no agent in the domain passed the eligibility
// filter for this request.
var ErrNoEligibleAgent = errors.New("no eligible agent for this request")

// continuityBonus is added to the agent that produced the last assistant
// message, so supervisor routing prefers sticking with the same agent on
// close scores.
const continuityBonus = 0.1

// Input is one routing request.
type Input struct {
	Domain      *config.DomainConfig
	UserMessage string

	// History is recent conversation context for the LLM router. Optional.
	History []llm.Message

	// LastAssistantAgentID feeds the supervisor continuity bonus. Empty on
	// the first turn.
	LastAssistantAgentID string

	// TurnIndex is the count of prior user messages in the conversation.
	TurnIndex int

	RequesterRole   auth.Role
	TestingOverride bool
}

// Decision is the routing outcome surfaced in the agent_selected event.
type Decision struct {
	AgentID    string
	Confidence float64
	Rationale  string
	Strategy   config.WorkflowType
}

// Router picks agents for turns. The LLM client is only used by the few_shot
// strategy (and hybrid llm phases); it may be nil for purely deterministic
// configurations.
type Router struct {
	snapshot func() *config.Snapshot
	llm      llm.Client
	modelID  string
	metrics  *metrics.Metrics
}

// New creates a router. snapshot is called per decision so reloads take
// effect immediately; modelID is the model used for LLM routing calls.
func New(snapshot func() *config.Snapshot, llmClient llm.Client, modelID string, m *metrics.Metrics) *Router {
	return &Router{snapshot: snapshot, llm: llmClient, modelID: modelID, metrics: m}
}

// Route selects an agent for the turn according to the domain's workflow type.
func (r *Router) Route(ctx context.Context, in Input) (Decision, error) {
	snap := r.snapshot()
	strategy := in.Domain.WorkflowType

	var (
		decision Decision
		err      error
	)
	switch strategy {
	case config.WorkflowSupervisor:
		decision, err = r.routeSupervisor(snap, in)
	case config.WorkflowOrchestrator:
		decision, err = r.routeOrchestrator(snap, in)
	case config.WorkflowFewShot:
		decision, err = r.routeFewShot(ctx, snap, in)
	case config.WorkflowHybrid:
		decision, err = r.routeHybrid(ctx, snap, in)
	default:
		err = fmt.Errorf("domain %s has unknown workflow type %q", in.Domain.ID, strategy)
	}

	if err != nil {
		r.metrics.RecordRouterDecision(string(strategy), metrics.OutcomeError)
		return Decision{}, err
	}
	decision.Strategy = strategy
	r.metrics.RecordRouterDecision(string(strategy), metrics.OutcomeSelected)
	return decision, nil
}

// routeSupervisor scores every agent in the domain by keyword matches.
func (r *Router) routeSupervisor(snap *config.Snapshot, in Input) (Decision, error) {
	scored, err := r.scoreAgents(snap, in)
	if err != nil {
		return Decision{}, err
	}

	minConfidence := snap.MinConfidenceFor(in.Domain)
	best := scored[0]

	if best.score < minConfidence {
		fallbackID := in.Domain.FallbackAgentID
		if fallbackID == "" {
			fallbackID = in.Domain.DefaultAgentID
		}
		if agent, err := snap.GetAgent(fallbackID); err == nil && r.eligible(agent, in) {
			return Decision{
				AgentID:    fallbackID,
				Confidence: best.score,
				Rationale:  fmt.Sprintf("no keyword match above %.2f; using fallback", minConfidence),
			}, nil
		}
		return Decision{}, ErrNoEligibleAgent
	}

	// Highest score wins; walk down on eligibility failures, then fallback.
	for _, cand := range scored {
		if cand.score < minConfidence {
			break
		}
		agent, err := snap.GetAgent(cand.agentID)
		if err != nil || !r.eligible(agent, in) {
			continue
		}
		return Decision{
			AgentID:    cand.agentID,
			Confidence: clampConfidence(cand.score),
			Rationale:  cand.rationale,
		}, nil
	}

	if fallbackID := in.Domain.FallbackAgentID; fallbackID != "" {
		if agent, err := snap.GetAgent(fallbackID); err == nil && r.eligible(agent, in) {
			return Decision{
				AgentID:    fallbackID,
				Confidence: best.score,
				Rationale:  "scored agents ineligible; using fallback",
			}, nil
		}
	}
	return Decision{}, ErrNoEligibleAgent
}

// routeOrchestrator walks the configured pipeline, one agent per turn.
func (r *Router) routeOrchestrator(snap *config.Snapshot, in Input) (Decision, error) {
	pipeline := in.Domain.OrchestrationPipeline
	if len(pipeline) == 0 {
		return Decision{}, fmt.Errorf("domain %s has an empty orchestration pipeline", in.Domain.ID)
	}

	agentID := pipeline[in.TurnIndex%len(pipeline)]
	agent, err := snap.GetAgent(agentID)
	if err == nil && r.eligible(agent, in) {
		return Decision{
			AgentID:    agentID,
			Confidence: 1,
			Rationale:  fmt.Sprintf("pipeline position %d", in.TurnIndex%len(pipeline)),
		}, nil
	}

	if fallbackID := in.Domain.FallbackAgentID; fallbackID != "" {
		if fallback, err := snap.GetAgent(fallbackID); err == nil && r.eligible(fallback, in) {
			return Decision{
				AgentID:    fallbackID,
				Confidence: 1,
				Rationale:  fmt.Sprintf("pipeline agent %s ineligible; using fallback", agentID),
			}, nil
		}
	}
	return Decision{}, ErrNoEligibleAgent
}

// routeHybrid picks the phase for the turn index and delegates.
func (r *Router) routeHybrid(ctx context.Context, snap *config.Snapshot, in Input) (Decision, error) {
	phases := in.Domain.HybridPhases
	if len(phases) == 0 {
		return Decision{}, fmt.Errorf("domain %s has no hybrid phases", in.Domain.ID)
	}
	phase := phases[in.TurnIndex%len(phases)]

	switch phase.Strategy {
	case config.PhasePipeline:
		agent, err := snap.GetAgent(phase.AgentID)
		if err == nil && r.eligible(agent, in) {
			return Decision{
				AgentID:    phase.AgentID,
				Confidence: 1,
				Rationale:  fmt.Sprintf("hybrid pipeline phase %d", in.TurnIndex%len(phases)),
			}, nil
		}
		if fallbackID := in.Domain.FallbackAgentID; fallbackID != "" {
			if fallback, err := snap.GetAgent(fallbackID); err == nil && r.eligible(fallback, in) {
				return Decision{
					AgentID:    fallbackID,
					Confidence: 1,
					Rationale:  "hybrid phase agent ineligible; using fallback",
				}, nil
			}
		}
		return Decision{}, ErrNoEligibleAgent
	case config.PhaseLLM:
		return r.routeFewShot(ctx, snap, in)
	default:
		return Decision{}, fmt.Errorf("domain %s phase %d has unknown strategy %q",
			in.Domain.ID, in.TurnIndex%len(phases), phase.Strategy)
	}
}

// scoredAgent pairs an agent with its supervisor score.
type scoredAgent struct {
	agentID   string
	score     float64
	rationale string
}

// scoreAgents returns every agent in the domain ordered by descending score.
// Ties prefer the default agent, then resolve by id for determinism.
func (r *Router) scoreAgents(snap *config.Snapshot, in Input) ([]scoredAgent, error) {
	agents, err := snap.AgentsForDomain(in.Domain.ID)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, ErrNoEligibleAgent
	}

	message := strings.ToLower(in.UserMessage)
	scored := make([]scoredAgent, 0, len(agents))
	for _, agent := range agents {
		var score float64
		var matched []string

		for _, rule := range in.Domain.RoutingRules {
			if rule.AgentID != agent.ID {
				continue
			}
			if strings.Contains(message, strings.ToLower(rule.Keyword)) {
				priority := rule.Priority
				if priority == 0 {
					priority = 1
				}
				score += priority
				matched = append(matched, rule.Keyword)
			}
		}
		for _, keyword := range agent.RoutingKeywords {
			if strings.Contains(message, strings.ToLower(keyword)) {
				score++
				matched = append(matched, keyword)
			}
		}
		if agent.ID == in.LastAssistantAgentID {
			score += continuityBonus
		}

		rationale := "no keywords matched"
		if len(matched) > 0 {
			rationale = "matched: " + strings.Join(matched, ", ")
		}
		scored = append(scored, scoredAgent{agentID: agent.ID, score: score, rationale: rationale})
	}

	defaultID := in.Domain.DefaultAgentID
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if (scored[i].agentID == defaultID) != (scored[j].agentID == defaultID) {
			return scored[i].agentID == defaultID
		}
		return scored[i].agentID < scored[j].agentID
	})
	return scored, nil
}

// eligible applies the lifecycle and role gates.
func (r *Router) eligible(agent *config.AgentConfig, in Input) bool {
	if !agent.State.RoutingEligible(in.TestingOverride) {
		return false
	}
	return auth.RoleAllowed(in.Domain.AllowedRoles, in.RequesterRole)
}

func clampConfidence(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
