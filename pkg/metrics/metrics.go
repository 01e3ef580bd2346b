// Package metrics holds the Prometheus collectors for the orchestrator.
// Collectors register against an explicit Registerer handed in at
// construction; tests build their own registry and never share state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Router decision outcomes for the router_decisions_total counter.
const (
	OutcomeSelected = "selected"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Metrics bundles the orchestrator's counters and histograms.
type Metrics struct {
	// ChatMessages counts persisted chat messages by role.
	ChatMessages *prometheus.CounterVec

	// ToolRunsRequested/Approved/Rejected/Executed track the tool-run funnel.
	ToolRunsRequested prometheus.Counter
	ToolRunsApproved  prometheus.Counter
	ToolRunsRejected  prometheus.Counter
	ToolRunsExecuted  prometheus.Counter

	// RouterDecisions counts routing outcomes by strategy.
	// Labels: strategy (supervisor|orchestrator|few_shot|hybrid), outcome.
	RouterDecisions *prometheus.CounterVec

	// SessionEventsDropped counts outbound WebSocket events evicted under
	// backpressure. Labels: type (event type).
	SessionEventsDropped *prometheus.CounterVec

	// TurnDuration measures full turn latency in seconds.
	TurnDuration prometheus.Histogram

	// LLMFirstChunk measures time to the first streamed chunk in seconds.
	LLMFirstChunk prometheus.Histogram

	// ApprovalWait measures how long tool runs waited for a human decision.
	ApprovalWait prometheus.Histogram

	// ActiveTurns gauges in-flight turns across all conversations.
	ActiveTurns prometheus.Gauge

	// ActiveSessions gauges open WebSocket sessions.
	ActiveSessions prometheus.Gauge
}

// New creates and registers the orchestrator metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChatMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_chat_messages_total",
			Help: "Total persisted chat messages by role",
		}, []string{"role"}),

		ToolRunsRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_tool_runs_requested_total",
			Help: "Total tool runs requested by agents",
		}),
		ToolRunsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_tool_runs_approved_total",
			Help: "Total tool runs approved",
		}),
		ToolRunsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_tool_runs_rejected_total",
			Help: "Total tool runs rejected (including timeouts and cancels)",
		}),
		ToolRunsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_tool_runs_executed_total",
			Help: "Total tool runs executed to completion",
		}),

		RouterDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_router_decisions_total",
			Help: "Routing decisions by strategy and outcome",
		}, []string{"strategy", "outcome"}),

		SessionEventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_session_events_dropped_total",
			Help: "Outbound session events dropped under backpressure, by type",
		}, []string{"type"}),

		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_turn_duration_seconds",
			Help:    "Duration of a conversation turn in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		}),
		LLMFirstChunk: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_llm_first_chunk_seconds",
			Help:    "Time to the first LLM chunk in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		ApprovalWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_approval_wait_seconds",
			Help:    "Time tool runs spent awaiting a human decision",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		}),

		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_turns",
			Help: "In-flight conversation turns",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Open WebSocket sessions",
		}),
	}
}

// ObserveTurn records a completed turn of any terminal state.
func (m *Metrics) ObserveTurn(start time.Time) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(time.Since(start).Seconds())
}

// RecordRouterDecision increments the decision counter. Nil-safe.
func (m *Metrics) RecordRouterDecision(strategy, outcome string) {
	if m == nil {
		return
	}
	m.RouterDecisions.WithLabelValues(strategy, outcome).Inc()
}

// RecordDroppedEvent increments the backpressure drop counter. Nil-safe.
func (m *Metrics) RecordDroppedEvent(eventType string) {
	if m == nil {
		return
	}
	m.SessionEventsDropped.WithLabelValues(eventType).Inc()
}
