package cli

import (
	"context"

	"github.com/mika/saker/pkg/callback"
)

// guard skips tool calls whose names are on the configured deny list.
// The model receives the skip reason and can route around the missing
// tool instead of the run aborting.
type guard struct {
	callback.NoopCallback
	denied map[string]bool
}

func newGuard(names []string) *guard {
	denied := make(map[string]bool, len(names))
	for _, name := range names {
		denied[name] = true
	}
	return &guard{denied: denied}
}

func (g *guard) BeforeToolCall(_ context.Context, name string, _ *string) callback.Decision {
	if g.denied[name] {
		return callback.Skip("tool disabled by configuration")
	}
	return callback.Proceed()
}
