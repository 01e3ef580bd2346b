package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ToolRunsRequested.Inc()
	m.ToolRunsApproved.Inc()
	m.RecordRouterDecision("supervisor", OutcomeSelected)
	m.RecordDroppedEvent("message_chunk")
	m.ChatMessages.WithLabelValues("user").Inc()
	m.ObserveTurn(time.Now().Add(-time.Second))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ToolRunsRequested))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RouterDecisions.WithLabelValues("supervisor", OutcomeSelected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionEventsDropped.WithLabelValues("message_chunk")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	// Two instances on separate registries must not panic on duplicate
	// registration, which is the whole point of avoiding the default registry.
	m1 := New(prometheus.NewRegistry())
	m2 := New(prometheus.NewRegistry())
	m1.ToolRunsRequested.Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(m2.ToolRunsRequested))
}

func TestNilReceiverHelpers(t *testing.T) {
	var m *Metrics
	m.ObserveTurn(time.Now())
	m.RecordRouterDecision("supervisor", OutcomeError)
	m.RecordDroppedEvent("message_chunk")
}
