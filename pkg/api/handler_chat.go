package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/runner"
)

// restApprovalBudget bounds how long a REST-driven turn waits for a human
// decision. The endpoint is for scripting; approval-gated tools are rejected
// quickly rather than holding the request open for minutes.
const restApprovalBudget = 10 * time.Second

// ChatSendRequest is the body for POST /v1/chat/send.
type ChatSendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	EnableThinking bool   `json:"enable_thinking,omitempty"`
}

// ChatSendResponse carries the final assistant message of the turn.
type ChatSendResponse struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// chatSendHandler handles POST /v1/chat/send: the non-streaming equivalent of
// send_message. Blocks until the turn reaches a terminal state.
func (s *Server) chatSendHandler(c *echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}

	var req ChatSendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id is required")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	conv, err := s.conversations.GetConversation(c.Request().Context(), req.ConversationID)
	if err != nil {
		return mapServiceError(err)
	}
	domain, err := s.registry.Snapshot().GetDomain(conv.DomainID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "conversation domain is not configured")
	}
	if !auth.RoleAllowed(domain.AllowedRoles, id.Role) {
		return echo.NewHTTPError(http.StatusForbidden, "role not allowed for this domain")
	}

	turn, err := s.runner.StartTurn(c.Request().Context(), runner.StartTurnInput{
		Conversation:    conv,
		Content:         req.Content,
		RequesterSub:    id.Sub,
		RequesterRole:   id.Role,
		EnableThinking:  req.EnableThinking,
		ApprovalTimeout: restApprovalBudget,
	})
	if err != nil {
		return mapServiceError(err)
	}

	select {
	case <-turn.Done():
	case <-c.Request().Context().Done():
		// Client went away; stop the turn rather than burning tokens.
		s.runner.Cancel(conv.ID)
		<-turn.Done()
	}

	msg, turnErr := turn.Result()
	if turnErr != nil {
		return mapTurnError(turnErr)
	}
	return c.JSON(http.StatusOK, &ChatSendResponse{ConversationID: conv.ID, Message: msg})
}

// mapTurnError converts a terminal turn error into an HTTP error.
func mapTurnError(err error) *echo.HTTPError {
	if errors.Is(err, context.Canceled) {
		return echo.NewHTTPError(http.StatusRequestTimeout, "turn was cancelled")
	}
	var te *runner.TurnError
	if errors.As(err, &te) {
		switch te.Code {
		case events.CodeForbidden:
			return echo.NewHTTPError(http.StatusForbidden, te.Message)
		case events.CodeNotFound:
			return echo.NewHTTPError(http.StatusNotFound, te.Message)
		case events.CodeNotConfigured:
			return echo.NewHTTPError(http.StatusUnprocessableEntity, te.Message)
		case events.CodeOverloaded:
			return echo.NewHTTPError(http.StatusServiceUnavailable, te.Message)
		default:
			return echo.NewHTTPError(http.StatusBadGateway, te.Message)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "turn failed")
}
