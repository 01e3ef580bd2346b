package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("EXPAND_TEST_KEY", "secret-value")
	t.Setenv("EXPAND_TEST_HOST", "db.internal")
	t.Setenv("EXPAND_TEST_PORT", "5432")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single variable",
			input: `api_key: "{{.EXPAND_TEST_KEY}}"`,
			want:  `api_key: "secret-value"`,
		},
		{
			name:  "multiple variables on one line",
			input: `url: "{{.EXPAND_TEST_HOST}}:{{.EXPAND_TEST_PORT}}"`,
			want:  `url: "db.internal:5432"`,
		},
		{
			name:  "missing variable expands to empty",
			input: `value: "{{.EXPAND_TEST_DOES_NOT_EXIST}}"`,
			want:  `value: ""`,
		},
		{
			name:  "dollar signs preserved literally",
			input: `keyword: "^refund.*$" password: "p@ss$word"`,
			want:  `keyword: "^refund.*$" password: "p@ss$word"`,
		},
		{
			name:  "no templates pass through",
			input: `plain: yaml`,
			want:  `plain: yaml`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestExpandEnvMalformedTemplate(t *testing.T) {
	// Unclosed action: content passes through so YAML reports the real error
	input := `broken: "{{.UNCLOSED"`
	got := expandEnv([]byte(input))
	assert.Equal(t, input, string(got))
}
