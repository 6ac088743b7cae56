package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

func setupTrace(t *testing.T) (*TraceCallback, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	cb, err := NewTraceCallback(TraceConfig{
		Provider:  provider,
		Engine:    "anthropic",
		Model:     "claude-sonnet-4-20250514",
		AgentName: "saker",
	})
	require.NoError(t, err)
	return cb, recorder
}

func attrValue(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewTraceCallback(t *testing.T) {
	t.Run("should require a provider", func(t *testing.T) {
		_, err := NewTraceCallback(TraceConfig{})
		assert.ErrorContains(t, err, "provider")
	})
}

func TestTraceCallbackSpans(t *testing.T) {
	t.Run("should emit one span tree per run", func(t *testing.T) {
		cb, recorder := setupTrace(t)
		ctx := context.Background()
		history := chat.NewHistory(chat.User("what is 2+2"))

		cb.BeforeLoop(ctx, history)

		// First turn: model asks for a tool.
		cb.BeforeGenerate(ctx, history)
		withCall := chat.Message{
			Role:      chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "calculator", Arguments: `{"expression":"2+2"}`}},
		}
		cb.AfterGenerate(ctx, &withCall)

		args := `{"expression":"2+2"}`
		decision := cb.BeforeToolCall(ctx, "calculator", &args)
		assert.True(t, decision.Proceeds())
		cb.AfterToolCall(ctx, "calculator", tool.Success("4"))

		// Second turn: final answer.
		cb.BeforeGenerate(ctx, history)
		final := chat.Assistant("2+2 is 4")
		cb.AfterGenerate(ctx, &final)

		cb.AfterLoop(ctx, history, final.Content)

		spans := recorder.Ended()
		require.Len(t, spans, 4)

		// Spans end inner-first; the root closes last.
		assert.Equal(t, "chat claude-sonnet-4-20250514", spans[0].Name())
		assert.Equal(t, "execute_tool calculator", spans[1].Name())
		assert.Equal(t, "chat claude-sonnet-4-20250514", spans[2].Name())
		assert.Equal(t, "invoke_agent saker", spans[3].Name())

		root := spans[3]
		for _, child := range spans[:3] {
			assert.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())
		}

		op, ok := attrValue(spans[1], "gen_ai.operation.name")
		require.True(t, ok)
		assert.Equal(t, "execute_tool", op.AsString())

		toolName, ok := attrValue(spans[1], "gen_ai.tool.name")
		require.True(t, ok)
		assert.Equal(t, "calculator", toolName.AsString())

		system, ok := attrValue(root, "gen_ai.system")
		require.True(t, ok)
		assert.Equal(t, "anthropic", system.AsString())

		finish, ok := attrValue(spans[0], "gen_ai.response.finish_reason")
		require.True(t, ok)
		assert.Equal(t, "tool_calls", finish.AsString())

		finish, ok = attrValue(spans[2], "gen_ai.response.finish_reason")
		require.True(t, ok)
		assert.Equal(t, "stop", finish.AsString())
	})

	t.Run("should mark failed tool results as span errors", func(t *testing.T) {
		cb, recorder := setupTrace(t)
		ctx := context.Background()

		cb.BeforeLoop(ctx, chat.NewHistory())
		args := "{}"
		cb.BeforeToolCall(ctx, "shell", &args)
		result := cb.AfterToolCall(ctx, "shell", tool.Failuref("command timed out"))

		assert.True(t, result.Failed(), "result should pass through unchanged")

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Contains(t, spans[0].Status().Description, "timed out")
	})

	t.Run("should close abandoned spans on the next run", func(t *testing.T) {
		cb, recorder := setupTrace(t)
		ctx := context.Background()

		// A generate error aborts the run before AfterLoop.
		cb.BeforeLoop(ctx, chat.NewHistory())
		cb.BeforeGenerate(ctx, chat.NewHistory())

		cb.BeforeLoop(ctx, chat.NewHistory())
		cb.AfterLoop(ctx, chat.NewHistory(), "ok")

		spans := recorder.Ended()
		require.Len(t, spans, 3)
		assert.Equal(t, codes.Error, spans[1].Status().Code, "abandoned root should be flagged")
	})
}
