package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/pkg/callback"
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/tool"
)

// scriptedEngine replays canned replies and records what it was asked.
type scriptedEngine struct {
	replies []chat.Message
	calls   [][]chat.Message
	fail    error
}

func (e *scriptedEngine) Generate(_ context.Context, messages []chat.Message, _ []tool.Definition, _ engine.StreamSink) (chat.Message, error) {
	e.calls = append(e.calls, append([]chat.Message{}, messages...))
	if e.fail != nil {
		return chat.Message{}, e.fail
	}
	if len(e.replies) == 0 {
		return chat.Message{}, fmt.Errorf("no scripted replies left")
	}
	reply := e.replies[0]
	e.replies = e.replies[1:]
	return reply, nil
}

func (e *scriptedEngine) Provider() string { return "scripted" }

func assistantCall(id, name, args string) chat.Message {
	return chat.Message{
		Role:      chat.RoleAssistant,
		ToolCalls: []chat.ToolCall{{ID: id, Name: name, Arguments: args}},
	}
}

func echoTool(executed *[]string) tool.Tool {
	return tool.NewFunc(tool.Definition{
		Name:        "echo",
		Description: "Echo text back",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"text": tool.StringProp("Text to echo"),
		}, "text"),
	}, func(_ context.Context, args map[string]interface{}) (string, error) {
		if executed != nil {
			*executed = append(*executed, "echo")
		}
		text, _ := args["text"].(string)
		return text, nil
	})
}

func failingTool(name, message string) tool.Tool {
	return tool.NewFunc(tool.Definition{Name: name, Description: "Always fails"},
		func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "", errors.New(message)
		})
}

func newTestAgent(t *testing.T, eng engine.Generator, instructions string, tools []tool.Tool, callbacks ...callback.Callback) *Agent {
	registry := tool.NewRegistry()
	for _, item := range tools {
		require.NoError(t, registry.Register(item))
	}

	a, err := New(Config{
		Engine:       eng,
		Tools:        registry,
		Callbacks:    callback.NewPipeline(callbacks...),
		Instructions: instructions,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return a
}

func toolMessages(h *chat.History) []chat.Message {
	var out []chat.Message
	for _, m := range h.Messages() {
		if m.Role == chat.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

type skipHook struct {
	callback.NoopCallback
	reason string
}

func (h *skipHook) BeforeToolCall(_ context.Context, _ string, _ *string) callback.Decision {
	return callback.Skip(h.reason)
}

type abortHook struct {
	callback.NoopCallback
	err error
}

func (h *abortHook) BeforeToolCall(_ context.Context, _ string, _ *string) callback.Decision {
	return callback.Abort(h.err)
}

type recoverHook struct {
	callback.NoopCallback
	text string
}

func (h *recoverHook) AfterToolCall(_ context.Context, _ string, r tool.Result) tool.Result {
	if r.Failed() {
		return r.Recover(h.text)
	}
	return r
}

func TestNewAgent(t *testing.T) {
	t.Run("should require an engine", func(t *testing.T) {
		_, err := New(Config{Logger: zerolog.Nop()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "engine")
	})

	t.Run("should default tools and callbacks", func(t *testing.T) {
		a, err := New(Config{Engine: &scriptedEngine{}, Logger: zerolog.Nop()})
		require.NoError(t, err)
		assert.NotNil(t, a.Tools())
	})
}

func TestRun(t *testing.T) {
	t.Run("should return a plain reply unchanged", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{chat.Assistant("hello there")}}
		a := newTestAgent(t, eng, "", nil)
		h := chat.NewHistory(chat.User("hi"))

		out, err := a.Run(context.Background(), h, nil)

		require.NoError(t, err)
		assert.Equal(t, "hello there", out)
		assert.Equal(t, chat.RoleAssistant, h.Last().Role)
	})

	t.Run("should insert instructions once across runs", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			chat.Assistant("first"),
			chat.Assistant("second"),
		}}
		a := newTestAgent(t, eng, "be terse", nil)
		h := chat.NewHistory(chat.User("hi"))

		_, err := a.Run(context.Background(), h, nil)
		require.NoError(t, err)
		h.Append(chat.User("again"))
		_, err = a.Run(context.Background(), h, nil)
		require.NoError(t, err)

		systems := 0
		for _, m := range h.Messages() {
			if m.Role == chat.RoleSystem {
				systems++
			}
		}
		assert.Equal(t, 1, systems)
		assert.Equal(t, chat.RoleSystem, h.Messages()[0].Role)
		assert.Equal(t, "be terse", h.Messages()[0].Content)
	})

	t.Run("should pair each tool call with one tool message", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "echo", `{"text":"hi"}`),
			chat.Assistant("done"),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{echoTool(nil)})
		h := chat.NewHistory(chat.User("say hi"))

		out, err := a.Run(context.Background(), h, nil)

		require.NoError(t, err)
		assert.Equal(t, "done", out)
		replies := toolMessages(h)
		require.Len(t, replies, 1)
		assert.Equal(t, "call_1", replies[0].ToolCallID)
		assert.Equal(t, "echo", replies[0].ToolName)
		assert.Equal(t, "hi", replies[0].Content)
	})

	t.Run("should dispatch multiple calls in emission order", func(t *testing.T) {
		var executed []string
		first := tool.NewFunc(tool.Definition{Name: "first", Description: "First tool"},
			func(_ context.Context, _ map[string]interface{}) (string, error) {
				executed = append(executed, "first")
				return "one", nil
			})
		second := tool.NewFunc(tool.Definition{Name: "second", Description: "Second tool"},
			func(_ context.Context, _ map[string]interface{}) (string, error) {
				executed = append(executed, "second")
				return "two", nil
			})

		reply := chat.Message{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{ID: "call_1", Name: "first", Arguments: "{}"},
			{ID: "call_2", Name: "second", Arguments: "{}"},
		}}
		eng := &scriptedEngine{replies: []chat.Message{reply, chat.Assistant("done")}}
		a := newTestAgent(t, eng, "", []tool.Tool{first, second})
		h := chat.NewHistory(chat.User("go"))

		_, err := a.Run(context.Background(), h, nil)

		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, executed)
		replies := toolMessages(h)
		require.Len(t, replies, 2)
		assert.Equal(t, "call_1", replies[0].ToolCallID)
		assert.Equal(t, "call_2", replies[1].ToolCallID)
	})

	t.Run("should propagate engine failures", func(t *testing.T) {
		eng := &scriptedEngine{fail: errors.New("backend gone")}
		a := newTestAgent(t, eng, "", nil)

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("hi")), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend gone")
	})
}

func TestRunSkip(t *testing.T) {
	t.Run("should skip execution and record the reason", func(t *testing.T) {
		var executed []string
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "echo", `{"text":"hi"}`),
			chat.Assistant("done"),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{echoTool(&executed)}, &skipHook{reason: "blocked"})
		h := chat.NewHistory(chat.User("say hi"))

		out, err := a.Run(context.Background(), h, nil)

		require.NoError(t, err)
		assert.Equal(t, "done", out)
		assert.Empty(t, executed)
		replies := toolMessages(h)
		require.Len(t, replies, 1)
		assert.JSONEq(t, `{"skipped":"blocked"}`, replies[0].Content)
	})

	t.Run("should abort the run on an abort decision", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "echo", `{"text":"hi"}`),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{echoTool(nil)}, &abortHook{err: errors.New("policy violation")})

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("hi")), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "aborted")
		assert.Contains(t, err.Error(), "policy violation")
	})
}

func TestRunFailures(t *testing.T) {
	t.Run("should name the tool when a failure goes unrecovered", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "flaky", "{}"),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{failingTool("flaky", "exit status 1")})
		h := chat.NewHistory(chat.User("go"))

		_, err := a.Run(context.Background(), h, nil)

		require.Error(t, err)
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "flaky", toolErr.Tool)
		assert.Contains(t, err.Error(), "flaky")
		assert.Contains(t, err.Error(), "exit status 1")
		assert.Empty(t, toolMessages(h))
	})

	t.Run("should not dispatch later calls after a failure", func(t *testing.T) {
		var executed []string
		reply := chat.Message{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{
			{ID: "call_1", Name: "flaky", Arguments: "{}"},
			{ID: "call_2", Name: "echo", Arguments: `{"text":"hi"}`},
		}}
		eng := &scriptedEngine{replies: []chat.Message{reply}}
		a := newTestAgent(t, eng, "", []tool.Tool{failingTool("flaky", "boom"), echoTool(&executed)})

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("go")), nil)

		require.Error(t, err)
		assert.Empty(t, executed)
	})

	t.Run("should continue when a hook recovers the failure", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "flaky", "{}"),
			chat.Assistant("done"),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{failingTool("flaky", "boom")}, &recoverHook{text: "ok"})
		h := chat.NewHistory(chat.User("go"))

		out, err := a.Run(context.Background(), h, nil)

		require.NoError(t, err)
		assert.Equal(t, "done", out)
		replies := toolMessages(h)
		require.Len(t, replies, 1)
		assert.Equal(t, "ok", replies[0].Content)
	})

	t.Run("should capture unknown tools as dispatch failures", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "missing", "{}"),
		}}
		a := newTestAgent(t, eng, "", nil)

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("go")), nil)

		require.Error(t, err)
		var toolErr *ToolError
		require.ErrorAs(t, err, &toolErr)
		assert.Equal(t, "missing", toolErr.Tool)
		assert.Contains(t, err.Error(), "tool not found")
	})

	t.Run("should capture malformed arguments as dispatch failures", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "echo", `{"text":`),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{echoTool(nil)})

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("go")), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid arguments")
	})

	t.Run("should capture tool panics", func(t *testing.T) {
		panicky := tool.NewFunc(tool.Definition{Name: "panicky", Description: "Panics"},
			func(_ context.Context, _ map[string]interface{}) (string, error) {
				panic("unexpected state")
			})
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "panicky", "{}"),
			chat.Assistant("done"),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{panicky}, &recoverHook{text: "contained"})
		h := chat.NewHistory(chat.User("go"))

		out, err := a.Run(context.Background(), h, nil)

		require.NoError(t, err)
		assert.Equal(t, "done", out)
		assert.Equal(t, "contained", toolMessages(h)[0].Content)
	})
}

func TestRunReentrancy(t *testing.T) {
	t.Run("should reject a nested run from a tool", func(t *testing.T) {
		var a *Agent
		nested := tool.NewFunc(tool.Definition{Name: "nested", Description: "Calls back in"},
			func(ctx context.Context, _ map[string]interface{}) (string, error) {
				return a.Run(ctx, chat.NewHistory(chat.User("inner")), nil)
			})
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "nested", "{}"),
		}}
		a = newTestAgent(t, eng, "", []tool.Tool{nested})

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("outer")), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "run already in progress")
	})
}

type eventRecorder struct {
	callback.NoopCallback
	events    []string
	finalText string
}

func (r *eventRecorder) BeforeLoop(_ context.Context, _ *chat.History) {
	r.events = append(r.events, "before_loop")
}

func (r *eventRecorder) BeforeGenerate(_ context.Context, _ *chat.History) {
	r.events = append(r.events, "before_generate")
}

func (r *eventRecorder) AfterGenerate(_ context.Context, _ *chat.Message) {
	r.events = append(r.events, "after_generate")
}

func (r *eventRecorder) BeforeToolCall(_ context.Context, _ string, _ *string) callback.Decision {
	r.events = append(r.events, "before_tool")
	return callback.Proceed()
}

func (r *eventRecorder) AfterToolCall(_ context.Context, _ string, result tool.Result) tool.Result {
	r.events = append(r.events, "after_tool")
	return result
}

func (r *eventRecorder) AfterLoop(_ context.Context, _ *chat.History, response string) {
	r.events = append(r.events, "after_loop")
	r.finalText = response
}

func TestRunCallbackSequence(t *testing.T) {
	t.Run("should fire hooks in loop order", func(t *testing.T) {
		recorder := &eventRecorder{}
		eng := &scriptedEngine{replies: []chat.Message{
			assistantCall("call_1", "echo", `{"text":"hi"}`),
			chat.Assistant("all done"),
		}}
		a := newTestAgent(t, eng, "", []tool.Tool{echoTool(nil)}, recorder)

		_, err := a.Run(context.Background(), chat.NewHistory(chat.User("go")), nil)

		require.NoError(t, err)
		assert.Equal(t, []string{
			"before_loop",
			"before_generate",
			"after_generate",
			"before_tool",
			"after_tool",
			"before_generate",
			"after_generate",
			"after_loop",
		}, recorder.events)
		assert.Equal(t, "all done", recorder.finalText)
	})
}

func TestWarmCache(t *testing.T) {
	t.Run("should report engines without cache support", func(t *testing.T) {
		a := newTestAgent(t, &scriptedEngine{}, "be terse", nil)

		err := a.WarmCache(context.Background(), "prompt.cache")

		assert.ErrorIs(t, err, engine.ErrNoCache)
		assert.ErrorIs(t, a.SaveCache("prompt.cache"), engine.ErrNoCache)
	})
}
