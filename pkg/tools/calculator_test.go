package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalExpression(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2+3", 5},
		{"2 + 3 * 4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"-5 + 3", -2},
		{"-(2+3)", -5},
		{"--4", 4},
		{"1.5 * 2", 3},
		{"((1))", 1},
		{"100 - 20 - 30", 50},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalExpression(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"division by zero", "1/0"},
		{"trailing operator", "2+"},
		{"unclosed paren", "(2+3"},
		{"letters", "2+x"},
		{"double dot", "1..2"},
		{"stray close paren", "2)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalExpression(tt.expr)
			assert.Error(t, err)
		})
	}
}
