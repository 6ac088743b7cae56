// Package agent implements the tool-calling run loop: generate a reply,
// dispatch any requested tools through the callback pipeline, append the
// results, and repeat until the model answers without tool calls.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/mika/saker/internal/observability"
	"github.com/mika/saker/pkg/callback"
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/tool"
)

// Config configures an Agent.
type Config struct {
	Engine       engine.Generator
	Tools        *tool.Registry
	Callbacks    *callback.Pipeline
	Instructions string
	Logger       zerolog.Logger
}

// Agent drives one conversation at a time against a Generator. The loop
// is synchronous: callbacks and tools run on the caller's goroutine, and
// a blocking tool blocks the run with it.
type Agent struct {
	engine       engine.Generator
	tools        *tool.Registry
	callbacks    *callback.Pipeline
	instructions string
	log          zerolog.Logger
	running      atomic.Bool
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tool.NewRegistry()
	}
	if cfg.Callbacks == nil {
		cfg.Callbacks = callback.NewPipeline()
	}

	observability.EnsureRegistered()

	return &Agent{
		engine:       cfg.Engine,
		tools:        cfg.Tools,
		callbacks:    cfg.Callbacks,
		instructions: cfg.Instructions,
		log:          cfg.Logger,
	}, nil
}

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *tool.Registry {
	return a.tools
}

// Instructions returns the agent's system prompt.
func (a *Agent) Instructions() string {
	return a.instructions
}

// Run executes the loop over history until the engine replies without
// tool calls, and returns that reply's text. The history accumulates
// every assistant and tool message along the way; callbacks may trim or
// rewrite it between turns. Generated text is mirrored to sink when
// non-nil.
//
// Run is not reentrant: a callback or tool must not call Run on the
// same Agent.
func (a *Agent) Run(ctx context.Context, history *chat.History, sink engine.StreamSink) (response string, err error) {
	if !a.running.CompareAndSwap(false, true) {
		return "", fmt.Errorf("run already in progress")
	}
	defer a.running.Store(false)

	started := time.Now()
	defer func() {
		observability.RecordRun(a.engine.Provider(), time.Since(started), err == nil)
	}()

	runID, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("mint run id: %w", err)
	}
	log := a.log.With().Str("run_id", runID).Logger()

	if history.EnsureSystem(a.instructions) {
		log.Debug().Msg("instructions inserted")
	}

	a.callbacks.BeforeLoop(ctx, history)
	defs := a.tools.Definitions()

	for turn := 1; ; turn++ {
		a.callbacks.BeforeGenerate(ctx, history)

		genStart := time.Now()
		reply, err := a.engine.Generate(ctx, history.Messages(), defs, sink)
		observability.RecordGenerate(a.engine.Provider(), time.Since(genStart))
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}

		a.callbacks.AfterGenerate(ctx, &reply)
		history.Append(reply)

		if !reply.HasToolCalls() {
			a.callbacks.AfterLoop(ctx, history, reply.Content)
			log.Debug().Int("turns", turn).Msg("run finished")
			return reply.Content, nil
		}

		log.Debug().Int("turn", turn).Int("tool_calls", len(reply.ToolCalls)).Msg("dispatching tool calls")
		for _, call := range reply.ToolCalls {
			result, err := a.dispatch(ctx, call)
			if err != nil {
				return "", err
			}
			if result.Failed() {
				return "", &ToolError{Tool: call.Name, Err: errors.New(result.ErrorMessage())}
			}
			history.Append(chat.ToolReply(call, result.Output()))
		}
	}
}

// dispatch runs one tool call through the callback pipeline. The
// returned result has been through the after-tool hooks; a still-failed
// result is the caller's cue to abort the run.
func (a *Agent) dispatch(ctx context.Context, call chat.ToolCall) (tool.Result, error) {
	args := call.Arguments
	decision := a.callbacks.BeforeToolCall(ctx, call.Name, &args)

	var result tool.Result
	switch {
	case decision.Aborted():
		return tool.Result{}, fmt.Errorf("tool call %s aborted: %w", call.Name, decision.Err())
	case decision.Skipped():
		payload, err := json.Marshal(map[string]string{"skipped": decision.Reason()})
		if err != nil {
			return tool.Result{}, fmt.Errorf("marshal skip payload: %w", err)
		}
		result = tool.Success(string(payload))
	default:
		result = a.execute(ctx, call.Name, args)
	}

	return a.callbacks.AfterToolCall(ctx, call.Name, result), nil
}

// execute resolves and runs a tool, normalizing every failure mode into
// a Result so callbacks get one uniform recovery point.
func (a *Agent) execute(ctx context.Context, name, rawArgs string) (result tool.Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("tool", name).Msg("Panic in tool execution")
			result = tool.Failuref("panic: %v", r)
		}
		observability.RecordToolExecution(name, time.Since(started), !result.Failed())
	}()

	args := map[string]interface{}{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return tool.Failuref("invalid arguments: %v", err)
		}
	}

	t, ok := a.tools.Lookup(name)
	if !ok {
		return tool.Failure("tool not found")
	}

	if err := a.tools.ValidateArguments(name, args); err != nil {
		return tool.Failuref("invalid arguments: %v", err)
	}

	output, err := t.Execute(ctx, args)
	if err != nil {
		return tool.FromError(err)
	}
	return tool.Success(output)
}
