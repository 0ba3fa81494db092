package pretokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhitespaceBasic(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, Whitespace("hello world"))
}

func TestWhitespaceCollapsesRuns(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Whitespace("a   \t\n  b"))
}

func TestWhitespaceLeadingTrailing(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Whitespace("  a b  "))
}

func TestWhitespaceEmpty(t *testing.T) {
	got := Whitespace("")
	assert.Empty(t, got)
}

func TestWhitespaceAllWhitespace(t *testing.T) {
	got := Whitespace("   \t\n  ")
	assert.Empty(t, got)
}

func TestWhitespaceUnicodeSpace(t *testing.T) {
	// U+3000 IDEOGRAPHIC SPACE
	assert.Equal(t, []string{"你好", "世界"}, Whitespace("你好　世界"))
}
