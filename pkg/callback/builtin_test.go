package callback

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

func toolRound(id, name, output string) []chat.Message {
	call := chat.ToolCall{ID: id, Name: name, Arguments: "{}"}
	return []chat.Message{
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{call}},
		chat.ToolReply(call, output),
	}
}

func TestTrimmer(t *testing.T) {
	t.Run("should drop the oldest tool rounds beyond the limit", func(t *testing.T) {
		h := chat.NewHistory(chat.System("sys"), chat.User("hello"))
		h.SetMessages(append(h.Messages(), toolRound("call_1", "first", "a")...))
		h.SetMessages(append(h.Messages(), toolRound("call_2", "second", "b")...))
		h.SetMessages(append(h.Messages(), toolRound("call_3", "third", "c")...))

		NewTrimmer(2, zerolog.Nop()).BeforeGenerate(context.Background(), h)

		msgs := h.Messages()
		require.Len(t, msgs, 6)
		assert.Equal(t, chat.RoleSystem, msgs[0].Role)
		assert.Equal(t, chat.RoleUser, msgs[1].Role)
		assert.Equal(t, "call_2", msgs[2].ToolCalls[0].ID)
		assert.Equal(t, "call_2", msgs[3].ToolCallID)
		assert.Equal(t, "call_3", msgs[4].ToolCalls[0].ID)
		assert.Equal(t, "call_3", msgs[5].ToolCallID)
	})

	t.Run("should keep assistant and tool messages paired", func(t *testing.T) {
		call := chat.ToolCall{ID: "call_1", Name: "multi", Arguments: "{}"}
		other := chat.ToolCall{ID: "call_2", Name: "multi", Arguments: "{}"}
		h := chat.NewHistory(
			chat.User("hello"),
			chat.Message{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{call, other}},
			chat.ToolReply(call, "a"),
			chat.ToolReply(other, "b"),
		)
		h.SetMessages(append(h.Messages(), toolRound("call_3", "later", "c")...))

		NewTrimmer(1, zerolog.Nop()).BeforeGenerate(context.Background(), h)

		msgs := h.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, chat.RoleUser, msgs[0].Role)
		assert.Equal(t, "call_3", msgs[1].ToolCalls[0].ID)
		assert.Equal(t, "call_3", msgs[2].ToolCallID)
	})

	t.Run("should leave short histories alone", func(t *testing.T) {
		h := chat.NewHistory(chat.User("hello"))
		h.SetMessages(append(h.Messages(), toolRound("call_1", "only", "a")...))

		NewTrimmer(2, zerolog.Nop()).BeforeGenerate(context.Background(), h)

		assert.Equal(t, 3, h.Len())
	})
}

func TestRecovery(t *testing.T) {
	t.Run("should convert failures into structured output", func(t *testing.T) {
		r := NewRecovery(zerolog.Nop())

		result := r.AfterToolCall(context.Background(), "shell", tool.Failure("exit status 1"))

		require.False(t, result.Failed())
		assert.JSONEq(t, `{"error":true,"tool":"shell","message":"exit status 1"}`, result.Output())
	})

	t.Run("should pass successes through untouched", func(t *testing.T) {
		r := NewRecovery(zerolog.Nop())

		result := r.AfterToolCall(context.Background(), "shell", tool.Success("done"))

		assert.False(t, result.Failed())
		assert.Equal(t, "done", result.Output())
	})
}

func TestConfirmer(t *testing.T) {
	t.Run("should proceed on yes", func(t *testing.T) {
		var out strings.Builder
		c := NewConfirmer(strings.NewReader("y\n"), &out, "shell")

		args := `{"command":"ls"}`
		d := c.BeforeToolCall(context.Background(), "shell", &args)

		assert.True(t, d.Proceeds())
		assert.Contains(t, out.String(), "shell")
	})

	t.Run("should skip on anything else", func(t *testing.T) {
		var out strings.Builder
		c := NewConfirmer(strings.NewReader("n\n"), &out, "shell")

		args := `{"command":"rm -rf /"}`
		d := c.BeforeToolCall(context.Background(), "shell", &args)

		require.True(t, d.Skipped())
		assert.Equal(t, "cancelled by user", d.Reason())
	})

	t.Run("should rewrite arguments on edit", func(t *testing.T) {
		var out strings.Builder
		c := NewConfirmer(strings.NewReader("e\n{\"command\":\"ls -la\"}\n"), &out, "shell")

		args := `{"command":"ls"}`
		d := c.BeforeToolCall(context.Background(), "shell", &args)

		require.True(t, d.Proceeds())
		assert.Equal(t, `{"command":"ls -la"}`, args)
	})

	t.Run("should not gate other tools", func(t *testing.T) {
		var out strings.Builder
		c := NewConfirmer(strings.NewReader(""), &out, "shell")

		args := "{}"
		d := c.BeforeToolCall(context.Background(), "calculator", &args)

		assert.True(t, d.Proceeds())
		assert.Empty(t, out.String())
	})
}
