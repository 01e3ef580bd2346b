package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/metrics"
)

// fewShotReply is the strict JSON shape the routing model must produce.
type fewShotReply struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// routeFewShot asks the LLM to pick an agent, seeded with the domain's
// examples. Any failure (no client, stream error, unparseable reply, unknown
// or ineligible agent) falls back to supervisor scoring.
func (r *Router) routeFewShot(ctx context.Context, snap *config.Snapshot, in Input) (Decision, error) {
	if r.llm == nil {
		return r.fewShotFallback(snap, in, "no LLM client configured")
	}

	prompt, err := r.buildFewShotPrompt(snap, in)
	if err != nil {
		return r.fewShotFallback(snap, in, err.Error())
	}

	messages := make([]llm.Message, 0, len(in.History)+1)
	messages = append(messages, in.History...)
	messages = append(messages, llm.Message{Role: "user", Content: in.UserMessage})

	reply, err := llm.CollectText(ctx, r.llm, llm.StreamInput{
		ModelID:      r.modelID,
		SystemPrompt: prompt,
		Messages:     messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return r.fewShotFallback(snap, in, "router LLM call failed: "+err.Error())
	}

	parsed, err := parseFewShotReply(reply)
	if err != nil {
		return r.fewShotFallback(snap, in, err.Error())
	}

	agent, err := snap.GetAgent(parsed.AgentID)
	if err != nil || agent.DomainID != in.Domain.ID {
		return r.fewShotFallback(snap, in, fmt.Sprintf("router chose unknown agent %q", parsed.AgentID))
	}
	if !r.eligible(agent, in) {
		return r.fewShotFallback(snap, in, fmt.Sprintf("router chose ineligible agent %q", parsed.AgentID))
	}

	rationale := parsed.Reason
	if rationale == "" {
		rationale = "selected by LLM router"
	}
	return Decision{AgentID: parsed.AgentID, Confidence: 0.9, Rationale: rationale}, nil
}

// fewShotFallback degrades to supervisor scoring and records the fallback.
func (r *Router) fewShotFallback(snap *config.Snapshot, in Input, reason string) (Decision, error) {
	slog.Warn("Few-shot routing fell back to keyword scoring",
		"domain", in.Domain.ID, "reason", reason)
	r.metrics.RecordRouterDecision(string(config.WorkflowFewShot), metrics.OutcomeFallback)

	decision, err := r.routeSupervisor(snap, in)
	if err != nil {
		return Decision{}, err
	}
	decision.Rationale = "LLM routing unavailable (" + reason + "); " + decision.Rationale
	return decision, nil
}

// buildFewShotPrompt renders the routing instruction with the agent roster
// and the domain's examples.
func (r *Router) buildFewShotPrompt(snap *config.Snapshot, in Input) (string, error) {
	agents, err := snap.AgentsForDomain(in.Domain.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You are a routing assistant. Pick the single best agent for the user's message.\n\nAgents:\n")
	for _, agent := range agents {
		if !agent.State.RoutingEligible(in.TestingOverride) {
			continue
		}
		b.WriteString("- ")
		b.WriteString(agent.ID)
		if agent.Name != "" {
			b.WriteString(" (" + agent.Name + ")")
		}
		if len(agent.Capabilities) > 0 {
			b.WriteString(": " + strings.Join(agent.Capabilities, ", "))
		}
		b.WriteString("\n")
	}

	if len(in.Domain.FewShotExamples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, ex := range in.Domain.FewShotExamples {
			entry, err := json.Marshal(fewShotReply{AgentID: ex.AgentID, Reason: ex.Reason})
			if err != nil {
				return "", err
			}
			b.WriteString("User: " + ex.UserMessage + "\n")
			b.WriteString("Answer: " + string(entry) + "\n")
		}
	}

	b.WriteString("\nRespond with ONLY a JSON object: {\"agent_id\": \"<id>\", \"reason\": \"<short reason>\"}")
	return b.String(), nil
}

// parseFewShotReply extracts the strict JSON object from the model's reply,
// tolerating surrounding prose and code fences.
func parseFewShotReply(reply string) (fewShotReply, error) {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fewShotReply{}, fmt.Errorf("router reply has no JSON object: %q", reply)
	}

	var parsed fewShotReply
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err != nil {
		return fewShotReply{}, fmt.Errorf("router reply is not valid JSON: %w", err)
	}
	if parsed.AgentID == "" {
		return fewShotReply{}, fmt.Errorf("router reply missing agent_id: %q", reply)
	}
	return parsed, nil
}
