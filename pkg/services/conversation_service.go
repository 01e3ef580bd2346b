package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/models"
)

// writeTimeout bounds critical store writes so a stalled connection cannot
// hold a turn open indefinitely.
const writeTimeout = 10 * time.Second

// ConversationService persists conversations and their messages. Message
// sequence numbers are assigned inside the append transaction, which is what
// makes the per-conversation ordering invariant hold under concurrent turns.
type ConversationService struct {
	db     *sql.DB
	driver string
	clock  *ids.Clock
}

// NewConversationService creates a ConversationService.
func NewConversationService(client *database.Client, clock *ids.Clock) *ConversationService {
	return &ConversationService{db: client.DB(), driver: client.DriverName(), clock: clock}
}

// rebind converts ?-style placeholders to $n for postgres. The sqlite driver
// accepts ? natively.
func (s *ConversationService) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CreateConversation creates a conversation bound to a domain.
func (s *ConversationService) CreateConversation(httpCtx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	if req.DomainID == "" {
		return nil, NewValidationError("domain_id", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	now := s.clock.Now()
	conv := &models.Conversation{
		ID:             ids.New(),
		DomainID:       req.DomainID,
		InitialAgentID: req.InitialAgentID,
		Title:          req.Title,
		CreatorSub:     req.CreatorSub,
		Status:         models.ConversationOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (id, domain_id, initial_agent_id, title, creator_sub, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		conv.ID, conv.DomainID, conv.InitialAgentID, conv.Title, conv.CreatorSub,
		string(conv.Status), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by id.
func (s *ConversationService) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, domain_id, initial_agent_id, title, creator_sub, status, created_at, updated_at
		FROM conversations WHERE id = ?`), id)
	return scanConversation(row)
}

// ListConversations returns conversations matching the filters, newest first.
func (s *ConversationService) ListConversations(ctx context.Context, filters models.ConversationFilters) (*models.ConversationListResponse, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filters.DomainID != "" {
		where = append(where, "domain_id = ?")
		args = append(args, filters.DomainID)
	}
	if filters.CreatorSub != "" {
		where = append(where, "creator_sub = ?")
		args = append(args, filters.CreatorSub)
	}
	if filters.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filters.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind("SELECT COUNT(*) FROM conversations"+clause), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	query := "SELECT id, domain_id, initial_agent_id, title, creator_sub, status, created_at, updated_at FROM conversations" +
		clause + " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]*models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	return &models.ConversationListResponse{
		Conversations: conversations,
		TotalCount:    total,
		Limit:         limit,
		Offset:        offset,
	}, nil
}

// UpdateConversationStatus sets a conversation's lifecycle status.
func (s *ConversationService) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update conversation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage appends a message, assigning the next sequence number and
// bumping the conversation's updated_at, all in one transaction.
func (s *ConversationService) AppendMessage(httpCtx context.Context, req models.AppendMessageRequest) (*models.Message, error) {
	if req.ConversationID == "" {
		return nil, NewValidationError("conversation_id", "required")
	}
	if req.Role == "" {
		return nil, NewValidationError("role", "required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Confirm the parent exists; messages never appear without a conversation.
	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM conversations WHERE id = ?`), req.ConversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	var nextSeq int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`), req.ConversationID).Scan(&nextSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to compute next sequence: %w", err)
	}

	var metadataJSON any
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	msg := &models.Message{
		ID:             ids.New(),
		ConversationID: req.ConversationID,
		Seq:            nextSeq,
		Role:           req.Role,
		Content:        req.Content,
		AgentID:        req.AgentID,
		Metadata:       req.Metadata,
		CreatedAt:      s.clock.Now(),
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (id, conversation_id, seq, role, content, agent_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.Seq, string(msg.Role), msg.Content, msg.AgentID, metadataJSON, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		UPDATE conversations SET updated_at = ? WHERE id = ?`), msg.CreatedAt, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to bump conversation updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a conversation's messages ordered by seq, optionally
// only those after afterSeq (for reconnect backfill).
func (s *ConversationService) ListMessages(ctx context.Context, conversationID string, afterSeq int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, conversation_id, seq, role, content, agent_id, metadata, created_at
		FROM messages WHERE conversation_id = ? AND seq > ?
		ORDER BY seq ASC`), conversationID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var (
			m        models.Message
			role     string
			metadata sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &m.Content, &m.AgentID, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.MessageRole(role)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// CountUserMessages returns how many user messages a conversation holds.
// The orchestrator routing strategy uses this as the turn index.
func (s *ConversationService) CountUserMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND role = ?`),
		conversationID, string(models.RoleUser)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return count, nil
}

// LastAssistantAgentID returns the agent that produced the most recent
// assistant message, or "" when there is none. Feeds the supervisor
// continuity bonus.
func (s *ConversationService) LastAssistantAgentID(ctx context.Context, conversationID string) (string, error) {
	var agentID string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT agent_id FROM messages WHERE conversation_id = ? AND role = ?
		ORDER BY seq DESC LIMIT 1`),
		conversationID, string(models.RoleAssistant)).Scan(&agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query last assistant message: %w", err)
	}
	return agentID, nil
}

// DeleteClosedBefore removes closed conversations older than the cutoff.
// Messages cascade; tool runs are intentionally kept (audit trail).
// Used by the retention cleanup service.
func (s *ConversationService) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM conversations WHERE status = ? AND updated_at < ?`),
		string(models.ConversationClosed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete closed conversations: %w", err)
	}
	return res.RowsAffected()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv   models.Conversation
		status string
	)
	err := row.Scan(&conv.ID, &conv.DomainID, &conv.InitialAgentID, &conv.Title,
		&conv.CreatorSub, &status, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	conv.Status = models.ConversationStatus(status)
	return &conv, nil
}
