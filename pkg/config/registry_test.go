package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	configDir := setupTestConfigDir(t)

	reg, err := NewRegistry(context.Background(), configDir)
	require.NoError(t, err)

	snap := reg.Snapshot()
	require.NotNil(t, snap)
	assert.NotEmpty(t, snap.HashHex())
	assert.False(t, snap.LoadedAt().IsZero())
}

func TestNewRegistryInvalidConfig(t *testing.T) {
	_, err := NewRegistry(context.Background(), "/nonexistent/directory")
	require.Error(t, err)
}

func TestRegistryReloadSwapsSnapshot(t *testing.T) {
	configDir := setupTestConfigDir(t)
	ctx := context.Background()

	reg, err := NewRegistry(ctx, configDir)
	require.NoError(t, err)
	before := reg.Snapshot()

	// Add an agent and reload
	writeConfigFile(t, configDir, "parley.yaml", `
domains:
  support:
    workflow_type: supervisor
    default_agent_id: triage
agents:
  triage:
    domain: support
    system_prompt: "You triage support requests."
  escalation:
    domain: support
    system_prompt: "You handle escalations."
`)
	require.NoError(t, reg.Reload(ctx))

	after := reg.Snapshot()
	assert.NotEqual(t, before.HashHex(), after.HashHex())
	_, err = after.GetAgent("escalation")
	assert.NoError(t, err)

	status := reg.Status()
	assert.Empty(t, status.LastError)
	assert.Equal(t, 2, status.Agents)
}

func TestRegistryReloadFailureKeepsPrevious(t *testing.T) {
	configDir := setupTestConfigDir(t)
	ctx := context.Background()

	reg, err := NewRegistry(ctx, configDir)
	require.NoError(t, err)
	before := reg.Snapshot()

	// Break the config: default agent no longer exists
	writeConfigFile(t, configDir, "parley.yaml", `
domains:
  support:
    workflow_type: supervisor
    default_agent_id: ghost
agents:
  triage:
    domain: support
    system_prompt: "You triage support requests."
`)
	err = reg.Reload(ctx)
	require.Error(t, err)

	// Previous snapshot still active, error recorded
	assert.Equal(t, before.HashHex(), reg.Snapshot().HashHex())
	status := reg.Status()
	assert.Contains(t, status.LastError, "ghost")
	assert.False(t, status.LastAttempt.IsZero())

	// A later good reload clears the error
	writeConfigFile(t, configDir, "parley.yaml", minimalParleyYAML)
	require.NoError(t, reg.Reload(ctx))
	assert.Empty(t, reg.Status().LastError)
}

func TestRegistryReloadIdempotent(t *testing.T) {
	configDir := setupTestConfigDir(t)
	ctx := context.Background()

	reg, err := NewRegistry(ctx, configDir)
	require.NoError(t, err)
	before := reg.Snapshot().HashHex()

	require.NoError(t, reg.Reload(ctx))
	assert.Equal(t, before, reg.Snapshot().HashHex())
}

func TestSnapshotResolvers(t *testing.T) {
	configDir := setupTestConfigDir(t)

	snap, err := Load(context.Background(), configDir)
	require.NoError(t, err)

	domain, err := snap.GetDomain("support")
	require.NoError(t, err)

	// Domain override wins; otherwise merged defaults apply
	assert.Equal(t, 3, snap.MaxHandoffsFor(domain), "yaml defaults set max_handoffs: 3")
	domain.MaxHandoffs = 7
	assert.Equal(t, 7, snap.MaxHandoffsFor(domain))

	assert.InDelta(t, 0.2, snap.MinConfidenceFor(domain), 0.0001)
	domain.MinConfidence = 0.5
	assert.InDelta(t, 0.5, snap.MinConfidenceFor(domain), 0.0001)

	tool, err := snap.GetTool("echo")
	require.NoError(t, err)
	assert.Equal(t, snap.Defaults.ToolTimeoutMs, int(snap.ToolTimeoutFor(tool).Milliseconds()))

	tool, err = snap.GetTool("http_get")
	require.NoError(t, err)
	assert.Equal(t, 10000, int(snap.ToolTimeoutFor(tool).Milliseconds()))
}
