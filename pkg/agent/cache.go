package agent

import (
	"context"

	"github.com/mika/saker/pkg/engine"
)

// WarmCache loads or primes the engine's persistent prompt cache for the
// agent's instructions and tool set, so later runs start from an already
// encoded prefix. Engines without persistent decode state yield
// engine.ErrNoCache.
func (a *Agent) WarmCache(ctx context.Context, path string) error {
	cacher, ok := a.engine.(engine.Cacher)
	if !ok {
		return engine.ErrNoCache
	}
	return cacher.LoadOrCreateCache(ctx, path, a.instructions, a.tools.Definitions())
}

// SaveCache persists the engine's current decode state to path.
func (a *Agent) SaveCache(path string) error {
	cacher, ok := a.engine.(engine.Cacher)
	if !ok {
		return engine.ErrNoCache
	}
	return cacher.SaveCache(path)
}
