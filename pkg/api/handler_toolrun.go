package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/models"
)

// DecisionRequest is the optional body for approve/reject endpoints.
type DecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// listToolRunsHandler handles GET /v1/tool-runs?conversation_id=&status=.
func (s *Server) listToolRunsHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}

	filters := models.ToolRunFilters{
		ConversationID: c.QueryParam("conversation_id"),
		Limit:          50,
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.ToolRunStatus(v)
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

	runs, err := s.toolRuns.ListToolRuns(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ToolRunListResponse{ToolRuns: runs})
}

// ToolRunListResponse wraps a tool-run listing.
type ToolRunListResponse struct {
	ToolRuns []*models.ToolRun `json:"tool_runs"`
}

// getToolRunHandler handles GET /v1/tool-runs/:id.
func (s *Server) getToolRunHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool run id is required")
	}

	run, err := s.toolRuns.GetToolRun(c.Request().Context(), runID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// approveToolRunHandler handles POST /v1/tool-runs/:id/approve.
func (s *Server) approveToolRunHandler(c *echo.Context) error {
	return s.decideToolRun(c, true)
}

// rejectToolRunHandler handles POST /v1/tool-runs/:id/reject.
func (s *Server) rejectToolRunHandler(c *echo.Context) error {
	return s.decideToolRun(c, false)
}

// decideToolRun applies a human decision to a PENDING run. The decider must
// pass the tool's own role gate: whoever may run a tool may approve it.
func (s *Server) decideToolRun(c *echo.Context, approved bool) error {
	id, err := s.identity(c)
	if err != nil {
		return err
	}
	runID := c.Param("id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool run id is required")
	}

	var req DecisionRequest
	_ = c.Bind(&req) // body is optional

	run, err := s.toolRuns.GetToolRun(c.Request().Context(), runID)
	if err != nil {
		return mapServiceError(err)
	}
	if !s.tools.IsRoleAllowed(s.registry.Snapshot(), run.ToolID, id.Role) {
		return echo.NewHTTPError(http.StatusForbidden, "role not allowed to decide this tool")
	}

	err = s.approvals.SubmitDecision(c.Request().Context(), runID, approval.Decision{
		Approved:  approved,
		Reason:    req.Reason,
		DecidedBy: id.Sub,
	})
	if err != nil {
		return mapServiceError(err)
	}

	run, err = s.toolRuns.GetToolRun(c.Request().Context(), runID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, run)
}
