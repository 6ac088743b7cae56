package callback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

type recorder struct {
	NoopCallback
	name   string
	events *[]string
	before func(args *string) Decision
	after  func(result tool.Result) tool.Result
}

func (r *recorder) BeforeLoop(_ context.Context, _ *chat.History) {
	*r.events = append(*r.events, r.name+":before_loop")
}

func (r *recorder) BeforeToolCall(_ context.Context, _ string, args *string) Decision {
	*r.events = append(*r.events, r.name+":before_tool")
	if r.before != nil {
		return r.before(args)
	}
	return Proceed()
}

func (r *recorder) AfterToolCall(_ context.Context, _ string, result tool.Result) tool.Result {
	*r.events = append(*r.events, r.name+":after_tool")
	if r.after != nil {
		return r.after(result)
	}
	return result
}

func TestPipelineOrder(t *testing.T) {
	t.Run("should invoke hooks in registration order", func(t *testing.T) {
		var events []string
		p := NewPipeline(
			&recorder{name: "first", events: &events},
			&recorder{name: "second", events: &events},
		)

		p.BeforeLoop(context.Background(), chat.NewHistory())

		assert.Equal(t, []string{"first:before_loop", "second:before_loop"}, events)
	})

	t.Run("should let later hooks observe earlier argument rewrites", func(t *testing.T) {
		var events []string
		var seenBySecond string
		p := NewPipeline(
			&recorder{name: "first", events: &events, before: func(args *string) Decision {
				*args = `{"rewritten":true}`
				return Proceed()
			}},
			&recorder{name: "second", events: &events, before: func(args *string) Decision {
				seenBySecond = *args
				return Proceed()
			}},
		)

		args := `{"original":true}`
		d := p.BeforeToolCall(context.Background(), "any", &args)

		assert.True(t, d.Proceeds())
		assert.Equal(t, `{"rewritten":true}`, seenBySecond)
		assert.Equal(t, `{"rewritten":true}`, args)
	})
}

func TestPipelineBeforeToolCall(t *testing.T) {
	t.Run("should stop at the first skip decision", func(t *testing.T) {
		var events []string
		p := NewPipeline(
			&recorder{name: "skipper", events: &events, before: func(*string) Decision {
				return Skip("blocked")
			}},
			&recorder{name: "late", events: &events},
		)

		args := "{}"
		d := p.BeforeToolCall(context.Background(), "any", &args)

		require.True(t, d.Skipped())
		assert.Equal(t, "blocked", d.Reason())
		assert.Equal(t, []string{"skipper:before_tool"}, events)
	})

	t.Run("should surface abort decisions", func(t *testing.T) {
		var events []string
		cause := errors.New("policy violation")
		p := NewPipeline(&recorder{name: "guard", events: &events, before: func(*string) Decision {
			return Abort(cause)
		}})

		args := "{}"
		d := p.BeforeToolCall(context.Background(), "any", &args)

		require.True(t, d.Aborted())
		assert.Equal(t, cause, d.Err())
	})

	t.Run("should proceed when no callback objects", func(t *testing.T) {
		p := NewPipeline(NoopCallback{})
		args := "{}"
		assert.True(t, p.BeforeToolCall(context.Background(), "any", &args).Proceeds())
	})
}

func TestPipelineAfterToolCall(t *testing.T) {
	t.Run("should fold the result through hooks in order", func(t *testing.T) {
		var events []string
		p := NewPipeline(
			&recorder{name: "recoverer", events: &events, after: func(r tool.Result) tool.Result {
				if r.Failed() {
					return r.Recover("ok")
				}
				return r
			}},
			&recorder{name: "observer", events: &events},
		)

		result := p.AfterToolCall(context.Background(), "any", tool.Failure("boom"))

		assert.False(t, result.Failed())
		assert.Equal(t, "ok", result.Output())
		assert.Equal(t, []string{"recoverer:after_tool", "observer:after_tool"}, events)
	})
}

func TestDecisionZeroValue(t *testing.T) {
	t.Run("should proceed by default", func(t *testing.T) {
		var d Decision
		assert.True(t, d.Proceeds())
		assert.False(t, d.Skipped())
		assert.False(t, d.Aborted())
	})
}
