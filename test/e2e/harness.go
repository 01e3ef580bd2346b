// Package e2e boots a complete Parley instance against a mock LLM endpoint
// and exercises it through the public HTTP and WebSocket surfaces.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/approval"
	"github.com/parleyhq/parley/pkg/auth"
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
	"github.com/parleyhq/parley/pkg/tools"
	testdb "github.com/parleyhq/parley/test/database"
)

const defaultParleyYAML = `
domains:
  support:
    workflow_type: supervisor
    default_agent_id: triage
    allowed_roles: [admin, developer, operator, user]
agents:
  triage:
    name: Triage
    domain: support
    system_prompt: "You are the triage agent for customer support."
    tool_ids: [echo, guarded]
`

const defaultToolsYAML = `
tools:
  guarded:
    description: "Restart a backend service."
    handler_ref: guarded
    requires_approval: true
    allowed_roles: [admin, operator]
    parameters_schema:
      type: object
`

// TestApp boots a complete Parley instance for e2e testing.
type TestApp struct {
	Registry      *config.Registry
	DB            *database.Client
	LLM           *MockLLM
	Conversations *services.ConversationService
	ToolRuns      *services.ToolRunService
	Runner        *runner.Manager
	Hub           *events.Hub
	Server        *api.Server

	BaseURL string
	WSURL   string

	auth *auth.Service
	t    *testing.T
}

type testAppConfig struct {
	parleyYAML      string
	toolsYAML       string
	approvalTimeout time.Duration
	llmIdleTimeout  time.Duration
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithParleyYAML overrides the domain/agent config.
func WithParleyYAML(yaml string) TestAppOption {
	return func(c *testAppConfig) { c.parleyYAML = yaml }
}

// WithToolsYAML overrides the tool config.
func WithToolsYAML(yaml string) TestAppOption {
	return func(c *testAppConfig) { c.toolsYAML = yaml }
}

// WithApprovalTimeout shortens the approval window.
func WithApprovalTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.approvalTimeout = d }
}

// NewTestApp boots the full stack: sqlite database, YAML config, real OpenAI
// client pointed at the mock endpoint, and the HTTP server on a random port.
func NewTestApp(t *testing.T, mock *MockLLM, opts ...TestAppOption) *TestApp {
	t.Helper()

	cfg := testAppConfig{
		parleyYAML:      defaultParleyYAML,
		toolsYAML:       defaultToolsYAML,
		approvalTimeout: time.Minute,
		llmIdleTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parley.yaml"), []byte(cfg.parleyYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.yaml"), []byte(cfg.toolsYAML), 0o644))
	registry, err := config.NewRegistry(context.Background(), dir)
	require.NoError(t, err)

	settings := config.Settings{
		AuthMode:          config.AuthModeJWT,
		AuthSecret:        "e2e-secret",
		AuthUsers:         "root:rootpw:admin;op:oppw:operator;bob:bobpw:user",
		LLMBaseURL:        mock.BaseURL(),
		LLMModelDefault:   "mock-model",
		ApprovalTimeout:   cfg.approvalTimeout,
		LLMIdleTimeout:    cfg.llmIdleTimeout,
		SessionQueueSize:  64,
		MaxSessionsPerSub: 5,
	}
	authService, err := auth.NewService(settings)
	require.NoError(t, err)

	db := testdb.NewTestClient(t)
	clock := ids.NewClock()
	auditService := services.NewAuditService(db, clock)
	conversations := services.NewConversationService(db, clock)
	toolRuns := services.NewToolRunService(db, clock, auditService)

	toolRegistry := tools.NewRegistry(t.TempDir(), masking.NewService(), map[string]tools.Handler{
		"guarded": func(_ context.Context, _ string, _ map[string]any) (string, error) {
			return "service restarted", nil
		},
	})
	coordinator := approval.NewCoordinator(toolRuns)

	m := metrics.New(prometheus.NewRegistry())
	hub := events.NewHub(5*time.Second, settings.SessionQueueSize, settings.MaxSessionsPerSub, m)

	llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:      mock.BaseURL(),
		APIKey:       "mock-key",
		DefaultModel: settings.LLMModelDefault,
		IdleTimeout:  cfg.llmIdleTimeout,
	})

	manager := runner.NewManager(runner.Deps{
		Settings:      settings,
		Registry:      registry,
		Conversations: conversations,
		ToolRuns:      toolRuns,
		Router:        router.New(registry.Snapshot, llmClient, settings.LLMModelDefault, m),
		LLM:           llmClient,
		Limiter:       llm.NewLimiter(4, time.Second),
		Tools:         toolRegistry,
		Approvals:     coordinator,
		Publisher:     hub,
		Metrics:       m,
	})
	t.Cleanup(manager.Stop)

	server := api.NewServer(api.Deps{
		Settings:      settings,
		Auth:          authService,
		Registry:      registry,
		DB:            db,
		Conversations: conversations,
		ToolRuns:      toolRuns,
		Runner:        manager,
		Hub:           hub,
		Approvals:     coordinator,
		Tools:         toolRegistry,
	})
	hub.SetDispatcher(server)
	t.Cleanup(hub.Shutdown)

	httpSrv := httptest.NewServer(server.Handler())
	t.Cleanup(httpSrv.Close)

	return &TestApp{
		Registry:      registry,
		DB:            db,
		LLM:           mock,
		Conversations: conversations,
		ToolRuns:      toolRuns,
		Runner:        manager,
		Hub:           hub,
		Server:        server,
		BaseURL:       httpSrv.URL,
		WSURL:         "ws" + httpSrv.URL[len("http"):] + "/ws",
		auth:          authService,
		t:             t,
	}
}

// Token issues a signed token for the given identity.
func (a *TestApp) Token(sub string, role auth.Role) string {
	token, err := a.auth.Generate(auth.Identity{Sub: sub, Role: role})
	require.NoError(a.t, err)
	return token
}

// REST sends an authenticated JSON request and returns the response.
func (a *TestApp) REST(method, path, token string, body any) *http.Response {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.BaseURL+path, &buf)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// RESTJSON sends a request and decodes the response body into out.
func (a *TestApp) RESTJSON(method, path, token string, body, out any) int {
	a.t.Helper()
	resp := a.REST(method, path, token, body)
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
