package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/runner"
	"github.com/parleyhq/parley/pkg/services"
)

// mapServiceError maps service-layer and runner errors to HTTP error
// responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrIllegalTransition) {
		return echo.NewHTTPError(http.StatusConflict, "illegal state transition")
	}
	if errors.Is(err, approval.ErrIllegalDecision) {
		return echo.NewHTTPError(http.StatusConflict, "tool run is not awaiting a decision")
	}
	if errors.Is(err, runner.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, "conversation already has an active turn")
	}
	if errors.Is(err, runner.ErrShuttingDown) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
