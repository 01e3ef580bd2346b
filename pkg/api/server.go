// Package api exposes the REST and WebSocket surfaces: auth, conversations,
// chat, tool-run decisions, config management, health, and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/runner"
	"github.com/parleyhq/parley/pkg/services"
	"github.com/parleyhq/parley/pkg/tools"
)

// Server is the HTTP server. It owns no domain logic; handlers validate,
// authorize, and delegate to services and the runner.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	settings      config.Settings
	auth          *auth.Service
	registry      *config.Registry
	db            *database.Client
	conversations *services.ConversationService
	toolRuns      *services.ToolRunService
	runner        *runner.Manager
	hub           *events.Hub
	approvals     *approval.Coordinator
	tools         *tools.Registry

	// metricsHandler serves GET /metrics; nil disables the route.
	metricsHandler http.Handler
}

// Deps groups the server's collaborators.
type Deps struct {
	Settings       config.Settings
	Auth           *auth.Service
	Registry       *config.Registry
	DB             *database.Client
	Conversations  *services.ConversationService
	ToolRuns       *services.ToolRunService
	Runner         *runner.Manager
	Hub            *events.Hub
	Approvals      *approval.Coordinator
	Tools          *tools.Registry
	MetricsHandler http.Handler
}

// NewServer builds the server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		echo:           echo.New(),
		settings:       deps.Settings,
		auth:           deps.Auth,
		registry:       deps.Registry,
		db:             deps.DB,
		conversations:  deps.Conversations,
		toolRuns:       deps.ToolRuns,
		runner:         deps.Runner,
		hub:            deps.Hub,
		approvals:      deps.Approvals,
		tools:          deps.Tools,
		metricsHandler: deps.MetricsHandler,
	}
	s.echo.Use(securityHeaders())
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/health/details", s.healthDetailsHandler)
	if s.metricsHandler != nil {
		e.GET("/metrics", func(c *echo.Context) error {
			s.metricsHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	e.POST("/v1/auth/login", s.loginHandler)
	e.GET("/ws", s.wsHandler)

	e.POST("/v1/conversations", s.createConversationHandler)
	e.GET("/v1/conversations", s.listConversationsHandler)
	e.GET("/v1/conversations/:id", s.getConversationHandler)
	e.GET("/v1/conversations/:id/messages", s.listMessagesHandler)
	e.POST("/v1/chat/send", s.chatSendHandler)

	e.GET("/v1/tool-runs", s.listToolRunsHandler)
	e.GET("/v1/tool-runs/:id", s.getToolRunHandler)
	e.POST("/v1/tool-runs/:id/approve", s.approveToolRunHandler)
	e.POST("/v1/tool-runs/:id/reject", s.rejectToolRunHandler)

	e.POST("/v1/config/reload", s.configReloadHandler)
	e.GET("/v1/config/status", s.configStatusHandler)
	e.GET("/v1/config/sync", s.configSyncHandler)
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
