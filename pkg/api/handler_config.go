package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/auth"
)

// configReloadHandler handles POST /v1/config/reload. Re-runs the loader and
// swaps the snapshot atomically; a failed reload keeps the previous snapshot.
func (s *Server) configReloadHandler(c *echo.Context) error {
	if _, err := s.requireRole(c, auth.RoleAdmin, auth.RoleDeveloper); err != nil {
		return err
	}

	if err := s.registry.Reload(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reload failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, s.registry.Status())
}

// configStatusHandler handles GET /v1/config/status.
func (s *Server) configStatusHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.registry.Status())
}

// ConfigSyncResponse carries the active snapshot hash for client-side cache
// invalidation.
type ConfigSyncResponse struct {
	Hash string `json:"hash"`
}

// configSyncHandler handles GET /v1/config/sync.
func (s *Server) configSyncHandler(c *echo.Context) error {
	if _, err := s.identity(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &ConfigSyncResponse{Hash: s.registry.Snapshot().HashHex()})
}
