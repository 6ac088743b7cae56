package callback

import (
	"context"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

// Pipeline fans lifecycle events out to registered callbacks in
// registration order. Order is part of the contract: a trimming callback
// registered before a logging callback means logs reflect the trimmed
// history.
type Pipeline struct {
	callbacks []Callback
}

// NewPipeline creates a pipeline over the given callbacks.
func NewPipeline(callbacks ...Callback) *Pipeline {
	p := &Pipeline{}
	p.callbacks = append(p.callbacks, callbacks...)
	return p
}

// Register appends a callback to the pipeline.
func (p *Pipeline) Register(c Callback) {
	p.callbacks = append(p.callbacks, c)
}

// Len returns the number of registered callbacks.
func (p *Pipeline) Len() int {
	return len(p.callbacks)
}

// BeforeLoop invokes every before-loop hook.
func (p *Pipeline) BeforeLoop(ctx context.Context, history *chat.History) {
	for _, c := range p.callbacks {
		c.BeforeLoop(ctx, history)
	}
}

// BeforeGenerate invokes every before-generate hook.
func (p *Pipeline) BeforeGenerate(ctx context.Context, history *chat.History) {
	for _, c := range p.callbacks {
		c.BeforeGenerate(ctx, history)
	}
}

// AfterGenerate invokes every after-generate hook.
func (p *Pipeline) AfterGenerate(ctx context.Context, msg *chat.Message) {
	for _, c := range p.callbacks {
		c.AfterGenerate(ctx, msg)
	}
}

// BeforeToolCall invokes before-tool hooks until one decides to skip or
// abort; hooks after the deciding one do not run for this call.
func (p *Pipeline) BeforeToolCall(ctx context.Context, name string, args *string) Decision {
	for _, c := range p.callbacks {
		if d := c.BeforeToolCall(ctx, name, args); !d.Proceeds() {
			return d
		}
	}
	return Proceed()
}

// AfterToolCall folds the result through every after-tool hook in order,
// each hook receiving the previous hook's result.
func (p *Pipeline) AfterToolCall(ctx context.Context, name string, result tool.Result) tool.Result {
	for _, c := range p.callbacks {
		result = c.AfterToolCall(ctx, name, result)
	}
	return result
}

// AfterLoop invokes every after-loop hook.
func (p *Pipeline) AfterLoop(ctx context.Context, history *chat.History, response string) {
	for _, c := range p.callbacks {
		c.AfterLoop(ctx, history, response)
	}
}
