package playground

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected string
	}{
		{
			name:     "function body",
			code:     "function f(){return 1;}",
			expected: "function f(){\n  return 1;\n}",
		},
		{
			name:     "nested blocks",
			code:     "if (a) { if (b) { go(); } }",
			expected: "if (a) {\n  if (b) {\n    go();\n  }\n}",
		},
		{
			name:     "blank lines kept once",
			code:     "a()\n\n\n\nb()",
			expected: "a()\n\nb()",
		},
		{
			name:     "existing newlines are not doubled",
			code:     "a();\nb();\n",
			expected: "a();\nb();",
		},
		{
			name:     "commas break lines",
			code:     "call(a, b)",
			expected: "call(a,\nb)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.code))
		})
	}
}

func TestFormatIdempotentOnFormatted(t *testing.T) {
	once := Format("function f(){ const x = 1; return x; }")
	assert.Equal(t, once, Format(once))
}

func TestBracketsBalanced(t *testing.T) {
	assert.True(t, BracketsBalanced(`f([1, {a: 2}])`))
	assert.True(t, BracketsBalanced(``))
	assert.False(t, BracketsBalanced(`f([1, 2)]`))
	assert.False(t, BracketsBalanced(`{`))
	assert.False(t, BracketsBalanced(`}`))
}
