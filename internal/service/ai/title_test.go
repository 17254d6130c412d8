package ai

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	assert.Equal(t, strings.Repeat("a", 50), truncate(strings.Repeat("a", 80), 50))
}

func TestTruncateRuneBoundary(t *testing.T) {
	long := strings.Repeat("日本語", 30)
	out := truncate(long, 50)
	assert.True(t, utf8.ValidString(out))
	assert.Len(t, []rune(out), 50)
	assert.True(t, strings.HasPrefix(long, out))
}
