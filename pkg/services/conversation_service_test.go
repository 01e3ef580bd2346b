package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
	testdb "github.com/parleyhq/parley/test/database"
)

func newConversationService(t *testing.T) *ConversationService {
	t.Helper()
	return NewConversationService(testdb.NewTestClient(t), ids.NewClock())
}

func createConversation(t *testing.T, svc *ConversationService, domain, creator string) *models.Conversation {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), models.CreateConversationRequest{
		DomainID:   domain,
		CreatorSub: creator,
	})
	require.NoError(t, err)
	return conv
}

func TestCreateAndGetConversation(t *testing.T) {
	svc := newConversationService(t)

	conv, err := svc.CreateConversation(context.Background(), models.CreateConversationRequest{
		DomainID:   "support",
		Title:      "printer trouble",
		CreatorSub: "bob",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, models.ConversationOpen, conv.Status)

	got, err := svc.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "support", got.DomainID)
	assert.Equal(t, "printer trouble", got.Title)
	assert.Equal(t, "bob", got.CreatorSub)
}

func TestCreateConversationValidation(t *testing.T) {
	svc := newConversationService(t)

	_, err := svc.CreateConversation(context.Background(), models.CreateConversationRequest{})
	assert.True(t, IsValidationError(err))
}

func TestGetConversationNotFound(t *testing.T) {
	svc := newConversationService(t)

	_, err := svc.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsFilters(t *testing.T) {
	svc := newConversationService(t)

	a := createConversation(t, svc, "support", "bob")
	createConversation(t, svc, "support", "alice")
	createConversation(t, svc, "sales", "bob")
	require.NoError(t, svc.UpdateConversationStatus(context.Background(), a.ID, models.ConversationClosed))

	byDomain, err := svc.ListConversations(context.Background(), models.ConversationFilters{DomainID: "support"})
	require.NoError(t, err)
	assert.Equal(t, 2, byDomain.TotalCount)

	byCreator, err := svc.ListConversations(context.Background(), models.ConversationFilters{CreatorSub: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, byCreator.TotalCount)

	closed, err := svc.ListConversations(context.Background(), models.ConversationFilters{Status: models.ConversationClosed})
	require.NoError(t, err)
	require.Equal(t, 1, closed.TotalCount)
	assert.Equal(t, a.ID, closed.Conversations[0].ID)
}

func TestListConversationsPagination(t *testing.T) {
	svc := newConversationService(t)
	for i := 0; i < 5; i++ {
		createConversation(t, svc, "support", "bob")
	}

	page, err := svc.ListConversations(context.Background(), models.ConversationFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalCount)
	assert.Len(t, page.Conversations, 2)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 2, page.Offset)
}

func TestUpdateConversationStatus(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	require.NoError(t, svc.UpdateConversationStatus(context.Background(), conv.ID, models.ConversationClosed))

	got, err := svc.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationClosed, got.Status)

	err = svc.UpdateConversationStatus(context.Background(), "missing", models.ConversationClosed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageAssignsSequence(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	first, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{
		ConversationID: conv.ID, Role: models.RoleUser, Content: "hello",
	})
	require.NoError(t, err)
	second, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{
		ConversationID: conv.ID, Role: models.RoleAssistant, Content: "hi", AgentID: "triage",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
}

func TestAppendMessageValidation(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	_, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{Role: models.RoleUser})
	assert.True(t, IsValidationError(err))

	_, err = svc.AppendMessage(context.Background(), models.AppendMessageRequest{ConversationID: conv.ID})
	assert.True(t, IsValidationError(err))

	_, err = svc.AppendMessage(context.Background(), models.AppendMessageRequest{
		ConversationID: "missing", Role: models.RoleUser, Content: "x",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesAfterSeq(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	for _, content := range []string{"one", "two", "three"} {
		_, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{
			ConversationID: conv.ID, Role: models.RoleUser, Content: content,
		})
		require.NoError(t, err)
	}

	all, err := svc.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	tail, err := svc.ListMessages(context.Background(), conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "three", tail[0].Content)
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	_, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        "partial reply",
		Metadata:       map[string]any{models.MetadataPartial: true},
	})
	require.NoError(t, err)

	msgs, err := svc.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, true, msgs[0].Metadata[models.MetadataPartial])
}

func TestCountUserMessages(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	for _, role := range []models.MessageRole{models.RoleUser, models.RoleAssistant, models.RoleUser} {
		_, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{
			ConversationID: conv.ID, Role: role, Content: "x",
		})
		require.NoError(t, err)
	}

	count, err := svc.CountUserMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLastAssistantAgentID(t *testing.T) {
	svc := newConversationService(t)
	conv := createConversation(t, svc, "support", "bob")

	agentID, err := svc.LastAssistantAgentID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, agentID, "no assistant message yet")

	for _, agent := range []string{"triage", "backup"} {
		_, err := svc.AppendMessage(context.Background(), models.AppendMessageRequest{
			ConversationID: conv.ID, Role: models.RoleAssistant, Content: "x", AgentID: agent,
		})
		require.NoError(t, err)
	}

	agentID, err = svc.LastAssistantAgentID(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "backup", agentID)
}

func TestDeleteClosedBefore(t *testing.T) {
	svc := newConversationService(t)

	closed := createConversation(t, svc, "support", "bob")
	require.NoError(t, svc.UpdateConversationStatus(context.Background(), closed.ID, models.ConversationClosed))
	open := createConversation(t, svc, "support", "bob")

	count, err := svc.DeleteClosedBefore(context.Background(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = svc.GetConversation(context.Background(), closed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetConversation(context.Background(), open.ID)
	assert.NoError(t, err)
}
