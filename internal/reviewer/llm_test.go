package reviewer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	def := testDef()
	system, user := buildPrompt(def, "pkg/a.go", "package a\n")

	assert.Contains(t, system, "performance")
	assert.Contains(t, system, "COMPLETE improved file body")
	assert.True(t, strings.HasPrefix(user, "File: pkg/a.go\n\n"))
	assert.Contains(t, user, "package a\n")
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "package a\n", "package a"},
		{"fenced", "```go\npackage a\n```", "package a"},
		{"fenced no language", "```\npackage a\n```", "package a"},
		{"leading whitespace", "\n\n```go\npackage a\n```\n", "package a"},
		{"empty", "   \n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFence(tt.in))
		})
	}
}
