package slack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercase",
			input:    "Approval conv-1 Restart_Service",
			expected: "approval conv-1 restart_service",
		},
		{
			name:     "collapse whitespace",
			input:    "approval   conv-1\t\trestart",
			expected: "approval conv-1 restart",
		},
		{
			name:     "trim",
			input:    "  hello  ",
			expected: "hello",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeFingerprint(tt.input))
		})
	}
}

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	d := newDeduper(15 * time.Minute)

	assert.False(t, d.suppress("approval conv-1 restart"))
	assert.True(t, d.suppress("approval conv-1 restart"))
	// Cosmetic variation dedups to the same key.
	assert.True(t, d.suppress("  Approval   conv-1   RESTART "))
	// A different fingerprint is independent.
	assert.False(t, d.suppress("approval conv-2 restart"))
}

func TestDeduperExpiresAfterWindow(t *testing.T) {
	d := newDeduper(15 * time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }

	assert.False(t, d.suppress("approval conv-1 restart"))

	now = now.Add(14 * time.Minute)
	assert.True(t, d.suppress("approval conv-1 restart"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.suppress("approval conv-1 restart"))
}
