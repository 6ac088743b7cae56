// Package telemetry traces agent runs with OpenTelemetry. TraceCallback
// hooks into the callback pipeline and emits one invoke_agent span per
// run, a chat span per model call, and an execute_tool span per tool
// invocation, following the gen_ai semantic conventions. Everything is
// built from an explicit TracerProvider; the package never touches the
// otel globals.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mika/saker/pkg/callback"
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

const tracerName = "saker.agent"

// TraceConfig configures a TraceCallback.
type TraceConfig struct {
	// Provider supplies the tracer. Required.
	Provider trace.TracerProvider
	// Engine and Model annotate every span (gen_ai.system and
	// gen_ai.request.model).
	Engine string
	Model  string
	// AgentName names the invoke_agent span. Defaults to "agent".
	AgentName string
}

// TraceCallback records spans around the agent loop. The hooks carry no
// return context, so span lineage is threaded through the callback's
// own state; like the loop it observes, one TraceCallback serves one
// run at a time. Give each agent its own instance.
type TraceCallback struct {
	tracer    trace.Tracer
	engine    string
	model     string
	agentName string

	rootCtx  context.Context
	root     trace.Span
	genSpan  trace.Span
	toolSpan trace.Span
}

var _ callback.Callback = (*TraceCallback)(nil)

// NewTraceCallback builds a TraceCallback from an explicit provider.
func NewTraceCallback(cfg TraceConfig) (*TraceCallback, error) {
	if cfg.Provider == nil {
		return nil, errors.New("tracer provider is required")
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "agent"
	}
	return &TraceCallback{
		tracer:    cfg.Provider.Tracer(tracerName),
		engine:    cfg.Engine,
		model:     cfg.Model,
		agentName: cfg.AgentName,
	}, nil
}

func (t *TraceCallback) common() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if t.engine != "" {
		attrs = append(attrs, attribute.String("gen_ai.system", t.engine))
	}
	if t.model != "" {
		attrs = append(attrs, attribute.String("gen_ai.request.model", t.model))
	}
	return attrs
}

// BeforeLoop opens the root invoke_agent span for the run.
func (t *TraceCallback) BeforeLoop(ctx context.Context, history *chat.History) {
	// A failed run never reaches AfterLoop, so close anything left
	// over from the previous one before starting fresh.
	t.closeStale()
	attrs := append(t.common(),
		attribute.String("gen_ai.operation.name", "invoke_agent"),
		attribute.String("gen_ai.agent.name", t.agentName),
		attribute.Int("history_messages", history.Len()),
	)
	t.rootCtx, t.root = t.tracer.Start(ctx, "invoke_agent "+t.agentName, trace.WithAttributes(attrs...))
}

// BeforeGenerate opens a chat span under the run's root span.
func (t *TraceCallback) BeforeGenerate(ctx context.Context, history *chat.History) {
	parent := t.rootCtx
	if parent == nil {
		parent = ctx
	}
	attrs := append(t.common(),
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.Int("history_messages", history.Len()),
	)
	name := "chat"
	if t.model != "" {
		name = "chat " + t.model
	}
	_, t.genSpan = t.tracer.Start(parent, name, trace.WithAttributes(attrs...))
}

// AfterGenerate closes the chat span with the reply's shape.
func (t *TraceCallback) AfterGenerate(_ context.Context, msg *chat.Message) {
	if t.genSpan == nil {
		return
	}
	finish := "stop"
	if msg.HasToolCalls() {
		finish = "tool_calls"
	}
	t.genSpan.SetAttributes(
		attribute.String("gen_ai.response.finish_reason", finish),
		attribute.Int("tool_calls", len(msg.ToolCalls)),
	)
	t.genSpan.End()
	t.genSpan = nil
}

// BeforeToolCall opens an execute_tool span and lets the call proceed.
func (t *TraceCallback) BeforeToolCall(ctx context.Context, name string, _ *string) callback.Decision {
	parent := t.rootCtx
	if parent == nil {
		parent = ctx
	}
	attrs := append(t.common(),
		attribute.String("gen_ai.operation.name", "execute_tool"),
		attribute.String("gen_ai.tool.name", name),
	)
	_, t.toolSpan = t.tracer.Start(parent, "execute_tool "+name, trace.WithAttributes(attrs...))
	return callback.Proceed()
}

// AfterToolCall closes the execute_tool span, marking recovered
// failures as span errors.
func (t *TraceCallback) AfterToolCall(_ context.Context, _ string, result tool.Result) tool.Result {
	if t.toolSpan == nil {
		return result
	}
	if result.Failed() {
		t.toolSpan.RecordError(errors.New(result.ErrorMessage()))
		t.toolSpan.SetStatus(codes.Error, result.ErrorMessage())
	}
	t.toolSpan.End()
	t.toolSpan = nil
	return result
}

// AfterLoop closes the root span.
func (t *TraceCallback) AfterLoop(_ context.Context, _ *chat.History, response string) {
	if t.root == nil {
		return
	}
	t.root.SetAttributes(attribute.Int("response_chars", len(response)))
	t.root.End()
	t.root = nil
	t.rootCtx = nil
}

func (t *TraceCallback) closeStale() {
	if t.toolSpan != nil {
		t.toolSpan.End()
		t.toolSpan = nil
	}
	if t.genSpan != nil {
		t.genSpan.End()
		t.genSpan = nil
	}
	if t.root != nil {
		t.root.SetStatus(codes.Error, "run abandoned")
		t.root.End()
		t.root = nil
		t.rootCtx = nil
	}
}
