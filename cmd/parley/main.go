// Parley orchestrator server — serves the HTTP/WebSocket API and drives
// multi-agent conversation turns.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/cleanup"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/events"
	"github.com/parleyhq/parley/pkg/ids"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/masking"
	"github.com/parleyhq/parley/pkg/metrics"
	"github.com/parleyhq/parley/pkg/router"
	"github.com/parleyhq/parley/pkg/runner"
	"github.com/parleyhq/parley/pkg/services"
	"github.com/parleyhq/parley/pkg/slack"
	"github.com/parleyhq/parley/pkg/tools"
	"github.com/parleyhq/parley/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before reading settings.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting Parley",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	settings, err := config.LoadSettingsFromEnv()
	if err != nil {
		slog.Error("Failed to load settings", "error", err)
		os.Exit(1)
	}

	// 1. Configuration registry (domains, agents, tools)
	registry, err := config.NewRegistry(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	status := registry.Status()
	slog.Info("Configuration loaded",
		"hash", status.Hash,
		"domains", status.Domains,
		"agents", status.Agents,
		"tools", status.Tools)

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to database", "driver", dbClient.DriverName())

	// 3. Domain services
	clock := ids.NewClock()
	auditService := services.NewAuditService(dbClient, clock)
	conversationService := services.NewConversationService(dbClient, clock)
	toolRunService := services.NewToolRunService(dbClient, clock, auditService)

	// One-time startup sweep: EXECUTING runs left behind by a crash fail now.
	if count, err := toolRunService.SweepOrphanedExecuting(ctx, "orphaned by restart"); err != nil {
		slog.Error("Failed to sweep orphaned tool runs", "error", err)
		// Non-fatal — continue
	} else if count > 0 {
		slog.Warn("Swept orphaned tool runs", "count", count)
	}

	// 4. Auth
	authService, err := auth.NewService(settings)
	if err != nil {
		slog.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}
	if !authService.Enabled() {
		slog.Warn("Authentication disabled (AUTH_MODE=none); all clients are anonymous admins")
	}

	// 5. Tool execution
	maskingService := masking.NewService()
	toolRegistry := tools.NewRegistry(settings.ToolWorkspaceDir, maskingService, nil)

	// 6. LLM client and stream admission
	llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:      settings.LLMBaseURL,
		APIKey:       settings.LLMAPIKey,
		DefaultModel: settings.LLMModelDefault,
		IdleTimeout:  settings.LLMIdleTimeout,
	})
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()
	limiter := llm.NewLimiter(registry.Snapshot().Defaults.MaxConcurrentStreams, settings.LLMAdmissionTimeout)
	slog.Info("LLM client initialized",
		"base_url", settings.LLMBaseURL,
		"model", settings.LLMModelDefault)

	// 7. Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	// 8. Streaming hub, routing, approvals, turn manager
	hub := events.NewHub(5*time.Second, settings.SessionQueueSize, settings.MaxSessionsPerSub, m)
	agentRouter := router.New(registry.Snapshot, llmClient, settings.LLMModelDefault, m)
	approvalCoordinator := approval.NewCoordinator(toolRunService)

	notifier := buildSlackNotifier(settings, registry.Snapshot())

	turnManager := runner.NewManager(runner.Deps{
		Settings:      settings,
		Registry:      registry,
		Conversations: conversationService,
		ToolRuns:      toolRunService,
		Router:        agentRouter,
		LLM:           llmClient,
		Limiter:       limiter,
		Tools:         toolRegistry,
		Approvals:     approvalCoordinator,
		Publisher:     hub,
		Notifier:      notifier,
		Metrics:       m,
	})

	// 9. Retention cleanup
	cleanupService := cleanup.NewService(registry, conversationService, auditService)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 10. HTTP server
	httpServer := api.NewServer(api.Deps{
		Settings:       settings,
		Auth:           authService,
		Registry:       registry,
		DB:             dbClient,
		Conversations:  conversationService,
		ToolRuns:       toolRunService,
		Runner:         turnManager,
		Hub:            hub,
		Approvals:      approvalCoordinator,
		Tools:          toolRegistry,
		MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	})
	hub.SetDispatcher(httpServer)

	// 11. Optional config file watcher
	if settings.ConfigWatch {
		watcher, err := config.NewWatcher(registry)
		if err != nil {
			slog.Error("Failed to start config watcher", "error", err)
			os.Exit(1)
		}
		watcher.Start(ctx)
		defer watcher.Stop()
		slog.Info("Config watcher started", "dir", registry.ConfigDir())
	}

	// 12. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Parley started successfully")

	// 13. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 14. Graceful shutdown: stop accepting HTTP, drain turns, close sessions.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	turnsDone := make(chan struct{})
	go func() {
		turnManager.Stop()
		close(turnsDone)
	}()
	select {
	case <-turnsDone:
		slog.Info("Turn manager stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Turn drain timeout exceeded — partial turns were persisted as cancelled")
	}

	hub.Shutdown()
	slog.Info("Shutdown complete")
}

// buildSlackNotifier wires the optional Slack approval notifier. Returns nil
// (notifications disabled) unless both the YAML config and the bot token are
// present.
func buildSlackNotifier(settings config.Settings, snap *config.Snapshot) *slack.Service {
	cfg := snap.System.Slack
	if !cfg.Enabled {
		return nil
	}
	if settings.SlackBotToken == "" {
		slog.Warn("Slack notifications enabled in config but SLACK_BOT_TOKEN is unset; disabling")
		return nil
	}
	svc := slack.NewService(slack.ServiceConfig{
		Token:          settings.SlackBotToken,
		Channel:        cfg.Channel,
		ConsoleBaseURL: settings.ConsoleBaseURL,
		DedupWindow:    time.Duration(cfg.DedupWindowMinutes) * time.Minute,
	})
	if svc != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Channel)
	}
	return svc
}
