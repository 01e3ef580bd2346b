package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/services"
	testdb "github.com/parleyhq/parley/test/database"
)

const cleanupParleyYAML = `
system:
  retention:
    conversation_days: 30
    log_days: 90
    interval_hours: 12
domains:
  support:
    workflow_type: supervisor
    default_agent_id: triage
agents:
  triage:
    name: Triage
    domain: support
    system_prompt: "You triage support requests."
`

func setupCleanup(t *testing.T) (*database.Client, *Service, *services.ConversationService, *services.AuditService) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parley.yaml"), []byte(cleanupParleyYAML), 0o644))
	registry, err := config.NewRegistry(context.Background(), dir)
	require.NoError(t, err)

	client := testdb.NewTestClient(t)
	clock := ids.NewClock()
	conversations := services.NewConversationService(client, clock)
	audit := services.NewAuditService(client, clock)

	return client, NewService(registry, conversations, audit), conversations, audit
}

func closedConversation(t *testing.T, client *database.Client, conversations *services.ConversationService, updatedAt time.Time) string {
	t.Helper()
	conv, err := conversations.CreateConversation(context.Background(), models.CreateConversationRequest{
		DomainID:   "support",
		CreatorSub: "user-1",
	})
	require.NoError(t, err)
	require.NoError(t, conversations.UpdateConversationStatus(context.Background(), conv.ID, models.ConversationClosed))

	_, err = client.DB().ExecContext(context.Background(),
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, updatedAt, conv.ID)
	require.NoError(t, err)
	return conv.ID
}

func TestRunOnceDeletesOldClosedConversations(t *testing.T) {
	client, svc, conversations, _ := setupCleanup(t)

	oldID := closedConversation(t, client, conversations, time.Now().UTC().Add(-60*24*time.Hour))
	recentID := closedConversation(t, client, conversations, time.Now().UTC())

	svc.RunOnce(context.Background())

	_, err := conversations.GetConversation(context.Background(), oldID)
	assert.True(t, errors.Is(err, services.ErrNotFound), "old closed conversation should be deleted")

	_, err = conversations.GetConversation(context.Background(), recentID)
	assert.NoError(t, err, "recent closed conversation should survive")
}

func TestRunOncePreservesOpenConversations(t *testing.T) {
	client, svc, conversations, _ := setupCleanup(t)

	conv, err := conversations.CreateConversation(context.Background(), models.CreateConversationRequest{
		DomainID:   "support",
		CreatorSub: "user-1",
	})
	require.NoError(t, err)

	// Backdate well past the window; an open conversation still survives.
	_, err = client.DB().ExecContext(context.Background(),
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-365*24*time.Hour), conv.ID)
	require.NoError(t, err)

	svc.RunOnce(context.Background())

	_, err = conversations.GetConversation(context.Background(), conv.ID)
	assert.NoError(t, err)
}

func TestRunOnceDeletesOldWorkflowLogs(t *testing.T) {
	client, svc, _, audit := setupCleanup(t)

	insertLog := func(createdAt time.Time) string {
		id := ids.New()
		_, err := client.DB().ExecContext(context.Background(), `
			INSERT INTO workflow_logs (id, conversation_id, run_id, event, actor, from_status, to_status, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, "conv-1", "run-1", "transition", "system", "PENDING", "APPROVED", "", createdAt)
		require.NoError(t, err)
		return id
	}

	insertLog(time.Now().UTC().Add(-120 * 24 * time.Hour))
	insertLog(time.Now().UTC())

	svc.RunOnce(context.Background())

	logs, err := audit.ListForRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1, "only the recent log row should survive")
}

func TestZeroConversationDaysKeepsForever(t *testing.T) {
	dir := t.TempDir()
	yaml := `
domains:
  support:
    workflow_type: supervisor
    default_agent_id: triage
agents:
  triage:
    name: Triage
    domain: support
    system_prompt: "You triage support requests."
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parley.yaml"), []byte(yaml), 0o644))
	registry, err := config.NewRegistry(context.Background(), dir)
	require.NoError(t, err)

	client := testdb.NewTestClient(t)
	clock := ids.NewClock()
	conversations := services.NewConversationService(client, clock)
	svc := NewService(registry, conversations, services.NewAuditService(client, clock))

	oldID := closedConversation(t, client, conversations, time.Now().UTC().Add(-10*365*24*time.Hour))

	svc.RunOnce(context.Background())

	_, err = conversations.GetConversation(context.Background(), oldID)
	assert.NoError(t, err, "conversation_days 0 means keep forever")
}

func TestStartAndStop(t *testing.T) {
	_, svc, _, _ := setupCleanup(t)

	svc.Start(context.Background())
	svc.Stop()
}
