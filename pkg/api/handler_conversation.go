package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/models"
)

// CreateConversationRequest is the body for POST /v1/conversations.
type CreateConversationRequest struct {
	DomainID string `json:"domain_id"`
	Title    string `json:"title,omitempty"`
}

// createConversationHandler handles POST /v1/conversations.
func (s *Server) createConversationHandler(c *echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}

	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.DomainID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain_id is required")
	}

	domain, err := s.registry.Snapshot().GetDomain(req.DomainID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown domain: "+req.DomainID)
	}
	if !auth.RoleAllowed(domain.AllowedRoles, id.Role) {
		return echo.NewHTTPError(http.StatusForbidden, "role not allowed for this domain")
	}

	conv, err := s.conversations.CreateConversation(c.Request().Context(), models.CreateConversationRequest{
		DomainID:   req.DomainID,
		Title:      req.Title,
		CreatorSub: id.Sub,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

// listConversationsHandler handles GET /v1/conversations.
func (s *Server) listConversationsHandler(c *echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}

	filters := models.ConversationFilters{
		DomainID: c.QueryParam("domain_id"),
		Limit:    50,
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.ConversationStatus(v)
		if !status.IsValid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+v)
		}
		filters.Status = status
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n > 0 && n <= 200 {
			filters.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, perr := strconv.Atoi(v); perr == nil && n >= 0 {
			filters.Offset = n
		}
	}

	// Regular users see their own conversations; operators and above see all.
	switch id.Role {
	case auth.RoleAdmin, auth.RoleDeveloper, auth.RoleOperator:
	default:
		filters.CreatorSub = id.Sub
	}

	result, err := s.conversations.ListConversations(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// getConversationHandler handles GET /v1/conversations/:id.
func (s *Server) getConversationHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}
	convID := c.Param("id")
	if convID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	conv, err := s.conversations.GetConversation(c.Request().Context(), convID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

// listMessagesHandler handles GET /v1/conversations/:id/messages?after_seq=.
// Used for backfill after a WebSocket reconnect.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}
	convID := c.Param("id")
	if convID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	var afterSeq int64
	if v := c.QueryParam("after_seq"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after_seq: must be a non-negative integer")
		}
		afterSeq = n
	}

	if _, err := s.conversations.GetConversation(c.Request().Context(), convID); err != nil {
		return mapServiceError(err)
	}
	messages, err := s.conversations.ListMessages(c.Request().Context(), convID, afterSeq)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageListResponse{Messages: messages})
}

// MessageListResponse wraps a message backfill page.
type MessageListResponse struct {
	Messages []*models.Message `json:"messages"`
}
