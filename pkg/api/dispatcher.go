package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/runner"
	"github.com/parleyhq/parley/pkg/services"
)

// Inbound payload shapes. Field names follow the wire protocol's camelCase.
type startConversationPayload struct {
	DomainID string `json:"domainId"`
	Title    string `json:"title,omitempty"`
}

type sendMessagePayload struct {
	Content        string `json:"content"`
	EnableThinking bool   `json:"enableThinking,omitempty"`
}

type approveToolPayload struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Dispatch routes an inbound WebSocket message to its handler. Implements
// events.Dispatcher; every failure is answered with an error event rather
// than silence.
func (s *Server) Dispatch(ctx context.Context, sess *events.Session, msg *events.ClientMessage) {
	switch msg.Type {
	case events.InboundStartConversation:
		s.dispatchStartConversation(ctx, sess, msg)
	case events.InboundSendMessage:
		s.dispatchSendMessage(ctx, sess, msg)
	case events.InboundCancelStream:
		s.dispatchCancelStream(sess, msg)
	case events.InboundApproveTool:
		s.dispatchApproveTool(ctx, sess, msg)
	}
}

func (s *Server) dispatchStartConversation(ctx context.Context, sess *events.Session, msg *events.ClientMessage) {
	var payload startConversationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.DomainID == "" {
		sess.Send(events.NewError("", events.CodeBadRequest, "start_conversation requires payload.domainId"))
		return
	}

	domain, err := s.registry.Snapshot().GetDomain(payload.DomainID)
	if err != nil {
		sess.Send(events.NewError("", events.CodeNotConfigured, "unknown domain: "+payload.DomainID))
		return
	}
	if !auth.RoleAllowed(domain.AllowedRoles, sess.Identity.Role) {
		sess.Send(events.NewError("", events.CodeForbidden, "role not allowed for this domain"))
		return
	}

	conv, err := s.conversations.CreateConversation(ctx, models.CreateConversationRequest{
		DomainID:   payload.DomainID,
		Title:      payload.Title,
		CreatorSub: sess.Identity.Sub,
	})
	if err != nil {
		sess.Send(events.NewError("", events.CodeBadRequest, "failed to create conversation"))
		return
	}

	s.hub.Subscribe(sess, conv.ID)
	sess.Send(events.Event{
		Type:           events.EventConversationStarted,
		ConversationID: conv.ID,
		Payload: events.ConversationStartedPayload{
			ConversationID: conv.ID,
			DomainID:       conv.DomainID,
			Title:          conv.Title,
		},
	})
}

func (s *Server) dispatchSendMessage(ctx context.Context, sess *events.Session, msg *events.ClientMessage) {
	if msg.ConversationID == "" {
		sess.Send(events.NewError("", events.CodeBadRequest, "send_message requires conversationId"))
		return
	}
	var payload sendMessagePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Content == "" {
		sess.Send(events.NewError(msg.ConversationID, events.CodeBadRequest, "send_message requires payload.content"))
		return
	}

	conv, err := s.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			sess.Send(events.NewError(msg.ConversationID, events.CodeNotFound, "unknown conversation"))
		} else {
			sess.Send(events.NewError(msg.ConversationID, events.CodeBadRequest, "failed to load conversation"))
		}
		return
	}
	domain, err := s.registry.Snapshot().GetDomain(conv.DomainID)
	if err != nil {
		sess.Send(events.NewError(conv.ID, events.CodeNotConfigured, "conversation domain is not configured"))
		return
	}
	if !auth.RoleAllowed(domain.AllowedRoles, sess.Identity.Role) {
		sess.Send(events.NewError(conv.ID, events.CodeForbidden, "role not allowed for this domain"))
		return
	}

	// Re-subscribe on reconnect: the session that sends to a conversation
	// receives its events.
	if !s.hub.Subscribed(sess, conv.ID) {
		s.hub.Subscribe(sess, conv.ID)
	}

	_, err = s.runner.StartTurn(ctx, runner.StartTurnInput{
		Conversation:   conv,
		Content:        payload.Content,
		RequesterSub:   sess.Identity.Sub,
		RequesterRole:  sess.Identity.Role,
		EnableThinking: payload.EnableThinking,
	})
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrBusy):
		sess.Send(events.NewError(conv.ID, events.CodeBusy, "conversation already has an active turn"))
	case errors.Is(err, runner.ErrShuttingDown):
		sess.Send(events.NewError(conv.ID, events.CodeOverloaded, "server is shutting down"))
	case services.IsValidationError(err):
		sess.Send(events.NewError(conv.ID, events.CodeBadRequest, err.Error()))
	default:
		sess.Send(events.NewError(conv.ID, events.CodeStreamError, "failed to start turn"))
	}
}

func (s *Server) dispatchCancelStream(sess *events.Session, msg *events.ClientMessage) {
	if msg.ConversationID == "" {
		sess.Send(events.NewError("", events.CodeBadRequest, "cancel_stream requires conversationId"))
		return
	}
	if !s.runner.Cancel(msg.ConversationID) {
		sess.Send(events.NewError(msg.ConversationID, events.CodeNotFound, "no active turn to cancel"))
	}
}

func (s *Server) dispatchApproveTool(ctx context.Context, sess *events.Session, msg *events.ClientMessage) {
	if msg.RequestID == "" {
		sess.Send(events.NewError(msg.ConversationID, events.CodeBadRequest, "approve_tool requires requestId"))
		return
	}
	var payload approveToolPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		sess.Send(events.NewError(msg.ConversationID, events.CodeBadRequest, "malformed approve_tool payload"))
		return
	}

	run, err := s.toolRuns.GetToolRun(ctx, msg.RequestID)
	if err != nil {
		sess.Send(events.NewError(msg.ConversationID, events.CodeNotFound, "unknown tool run"))
		return
	}
	if !s.tools.IsRoleAllowed(s.registry.Snapshot(), run.ToolID, sess.Identity.Role) {
		sess.Send(events.NewError(msg.ConversationID, events.CodeForbidden, "role not allowed to decide this tool"))
		return
	}

	err = s.approvals.SubmitDecision(ctx, msg.RequestID, approval.Decision{
		Approved:  payload.Approved,
		Reason:    payload.Reason,
		DecidedBy: sess.Identity.Sub,
	})
	if err != nil {
		sess.Send(events.NewError(msg.ConversationID, events.CodeBadRequest, "tool run is not awaiting a decision"))
	}
	// The runner emits tool_approved / tool_rejected to all subscribers.
}
