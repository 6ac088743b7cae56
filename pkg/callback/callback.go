// Package callback defines the agent's extension surface: six hook points
// invoked synchronously around the generation loop, a tri-state decision
// for gating tool execution, and the pipeline that fans hooks out in
// registration order. Ready-made callbacks for logging, error recovery,
// history trimming, and interactive confirmation live here too.
package callback

import (
	"context"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

// Callback receives the agent loop's lifecycle events. Hooks run on the
// caller's goroutine with direct access to the mutable state they are
// handed; whatever one hook changes, later hooks observe. Implementations
// usually embed NoopCallback and override the hooks they care about.
//
// Hooks must not reentrantly drive a run on the agent that invoked them.
type Callback interface {
	// BeforeLoop runs once per run, before the first generation.
	BeforeLoop(ctx context.Context, history *chat.History)

	// BeforeGenerate runs before every model call.
	BeforeGenerate(ctx context.Context, history *chat.History)

	// AfterGenerate runs after every model call with the assistant message,
	// before it is appended to the history.
	AfterGenerate(ctx context.Context, msg *chat.Message)

	// BeforeToolCall gates one tool execution. Args points at the serialized
	// argument string and may be rewritten. The returned decision proceeds,
	// skips this one call with a reason, or aborts the whole run.
	BeforeToolCall(ctx context.Context, name string, args *string) Decision

	// AfterToolCall observes one tool result and returns the result to carry
	// forward, possibly recovered from a failure.
	AfterToolCall(ctx context.Context, name string, result tool.Result) tool.Result

	// AfterLoop runs once per run with the final response text.
	AfterLoop(ctx context.Context, history *chat.History, response string)
}

// NoopCallback implements Callback with no-ops for every hook.
type NoopCallback struct{}

func (NoopCallback) BeforeLoop(context.Context, *chat.History)    {}
func (NoopCallback) BeforeGenerate(context.Context, *chat.History) {}
func (NoopCallback) AfterGenerate(context.Context, *chat.Message) {}

func (NoopCallback) BeforeToolCall(context.Context, string, *string) Decision {
	return Proceed()
}

func (NoopCallback) AfterToolCall(_ context.Context, _ string, result tool.Result) tool.Result {
	return result
}

func (NoopCallback) AfterLoop(context.Context, *chat.History, string) {}
