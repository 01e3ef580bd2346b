package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsFromEnvDefaults(t *testing.T) {
	s, err := LoadSettingsFromEnv()
	require.NoError(t, err)

	assert.Equal(t, AuthModeNone, s.AuthMode)
	assert.Equal(t, 15*time.Minute, s.ApprovalTimeout)
	assert.Equal(t, 30*time.Second, s.LLMIdleTimeout)
	assert.Equal(t, time.Minute, s.LLMAdmissionTimeout)
	assert.Equal(t, 256, s.SessionQueueSize)
	assert.Equal(t, 5, s.MaxSessionsPerSub)
	assert.False(t, s.ConfigWatch)
}

func TestLoadSettingsFromEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("AUTH_SECRET", "test-secret")
	t.Setenv("APPROVAL_TIMEOUT_MS", "60000")
	t.Setenv("LLM_IDLE_TIMEOUT_MS", "5000")
	t.Setenv("LLM_ADMISSION_TIMEOUT_MS", "10000")
	t.Setenv("SESSION_OUTBOUND_QUEUE", "64")
	t.Setenv("CONFIG_WATCH", "true")
	t.Setenv("LLM_BASE_URL", "http://localhost:9999/v1")

	s, err := LoadSettingsFromEnv()
	require.NoError(t, err)

	assert.Equal(t, AuthModeJWT, s.AuthMode)
	assert.Equal(t, "test-secret", s.AuthSecret)
	assert.Equal(t, time.Minute, s.ApprovalTimeout)
	assert.Equal(t, 5*time.Second, s.LLMIdleTimeout)
	assert.Equal(t, 10*time.Second, s.LLMAdmissionTimeout)
	assert.Equal(t, 64, s.SessionQueueSize)
	assert.True(t, s.ConfigWatch)
	assert.Equal(t, "http://localhost:9999/v1", s.LLMBaseURL)
}

func TestLoadSettingsFromEnvJWTRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("AUTH_SECRET", "")

	_, err := LoadSettingsFromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestLoadSettingsFromEnvInvalidMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "maybe")

	_, err := LoadSettingsFromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestLoadSettingsFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("APPROVAL_TIMEOUT_MS", "soon")

	_, err := LoadSettingsFromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}
