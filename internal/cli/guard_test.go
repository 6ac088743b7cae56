package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard(t *testing.T) {
	g := newGuard([]string{"shell", "browse"})

	t.Run("skips denied tools", func(t *testing.T) {
		args := `{"command":"rm -rf /"}`
		decision := g.BeforeToolCall(context.Background(), "shell", &args)

		assert.True(t, decision.Skipped())
		assert.Contains(t, decision.Reason(), "disabled by configuration")
	})

	t.Run("passes everything else", func(t *testing.T) {
		args := `{"path":"notes.md"}`
		decision := g.BeforeToolCall(context.Background(), "read_file", &args)

		assert.True(t, decision.Proceeds())
	})

	t.Run("names are exact", func(t *testing.T) {
		args := "{}"
		decision := g.BeforeToolCall(context.Background(), "Shell", &args)

		assert.True(t, decision.Proceeds())
	})
}
