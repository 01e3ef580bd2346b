package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// healthHandler handles GET /health. Minimal and unauthenticated: database
// ping only, so an unhealthy LLM endpoint never restarts the orchestrator.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	httpStatus := http.StatusOK
	if _, err := database.Health(reqCtx, s.db.DB(), s.db.DriverName()); err != nil {
		status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{Status: status, Version: version.Full()})
}

// HealthDetailsResponse is the body of GET /health/details.
type HealthDetailsResponse struct {
	Status         string                 `json:"status"`
	Version        string                 `json:"version"`
	Database       *database.HealthStatus `json:"database"`
	DatabaseError  string                 `json:"database_error,omitempty"`
	LLMConfigured  bool                   `json:"llm_configured"`
	ActiveTurns    int                    `json:"active_turns"`
	ActiveSessions int                    `json:"active_sessions"`
	ConfigHash     string                 `json:"config_hash"`
}

// healthDetailsHandler handles GET /health/details.
func (s *Server) healthDetailsHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthDetailsResponse{
		Status:        healthStatusHealthy,
		Version:       version.Full(),
		LLMConfigured: s.settings.LLMBaseURL != "",
		ConfigHash:    s.registry.Snapshot().HashHex(),
	}
	if s.runner != nil {
		resp.ActiveTurns = s.runner.ActiveTurns()
	}
	if s.hub != nil {
		resp.ActiveSessions = s.hub.ActiveSessions()
	}

	dbHealth, err := database.Health(reqCtx, s.db.DB(), s.db.DriverName())
	resp.Database = dbHealth
	httpStatus := http.StatusOK
	if err != nil {
		resp.Status = healthStatusUnhealthy
		resp.DatabaseError = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, resp)
}
