package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AuthMode selects handshake authentication behavior.
const (
	AuthModeNone = "none"
	AuthModeJWT  = "jwt"
)

// Settings holds orchestrator-level environment settings, loaded once at
// startup. YAML config (domains/agents/tools) reloads at runtime; Settings
// does not.
type Settings struct {
	AuthMode   string // none | jwt
	AuthSecret string
	AuthUsers  string // user:pass:role;user:pass:role

	LLMBaseURL      string
	LLMAPIKey       string
	LLMModelDefault string

	ApprovalTimeout     time.Duration
	LLMIdleTimeout      time.Duration
	LLMAdmissionTimeout time.Duration

	SessionQueueSize  int
	MaxSessionsPerSub int

	ConfigWatch      bool
	SlackBotToken    string
	ConsoleBaseURL   string
	ToolWorkspaceDir string
}

// LoadSettingsFromEnv reads orchestrator settings from the environment,
// applying documented defaults. Returns an error for invalid combinations
// (jwt mode without a secret, unparseable numbers).
func LoadSettingsFromEnv() (Settings, error) {
	s := Settings{
		AuthMode:         getEnvOrDefault("AUTH_MODE", AuthModeNone),
		AuthSecret:       os.Getenv("AUTH_SECRET"),
		AuthUsers:        os.Getenv("AUTH_USERS"),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMModelDefault:  getEnvOrDefault("LLM_MODEL_DEFAULT", "gpt-4o-mini"),
		SlackBotToken:    os.Getenv("SLACK_BOT_TOKEN"),
		ConsoleBaseURL:   os.Getenv("CONSOLE_BASE_URL"),
		ToolWorkspaceDir: getEnvOrDefault("TOOL_WORKSPACE_DIR", "./workspace"),
	}

	if s.AuthMode != AuthModeNone && s.AuthMode != AuthModeJWT {
		return Settings{}, fmt.Errorf("%w: AUTH_MODE must be %q or %q, got %q",
			ErrInvalidValue, AuthModeNone, AuthModeJWT, s.AuthMode)
	}
	if s.AuthMode == AuthModeJWT && s.AuthSecret == "" {
		return Settings{}, fmt.Errorf("%w: AUTH_SECRET is required when AUTH_MODE=jwt",
			ErrMissingRequiredField)
	}

	approvalMs, err := envInt("APPROVAL_TIMEOUT_MS", 900000)
	if err != nil {
		return Settings{}, err
	}
	s.ApprovalTimeout = time.Duration(approvalMs) * time.Millisecond

	idleMs, err := envInt("LLM_IDLE_TIMEOUT_MS", 30000)
	if err != nil {
		return Settings{}, err
	}
	s.LLMIdleTimeout = time.Duration(idleMs) * time.Millisecond

	admissionMs, err := envInt("LLM_ADMISSION_TIMEOUT_MS", 60000)
	if err != nil {
		return Settings{}, err
	}
	s.LLMAdmissionTimeout = time.Duration(admissionMs) * time.Millisecond

	if s.SessionQueueSize, err = envInt("SESSION_OUTBOUND_QUEUE", 256); err != nil {
		return Settings{}, err
	}
	if s.MaxSessionsPerSub, err = envInt("MAX_SESSIONS_PER_IDENTITY", 5); err != nil {
		return Settings{}, err
	}

	s.ConfigWatch = getEnvOrDefault("CONFIG_WATCH", "false") == "true"

	return s, nil
}

func envInt(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidValue, key, raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalidValue, key, v)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
