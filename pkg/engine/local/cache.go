package local

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/engine"
)

// cache tracks the token sequence currently encoded in the backend's
// decode state. The invariant it protects: processed is always exactly
// the sequence the backend has decoded, so prefix reuse never serves
// positions the backend no longer holds.
type cache struct {
	backend   Backend
	processed []engine.Token
	log       zerolog.Logger
}

func newCache(backend Backend, log zerolog.Logger) *cache {
	return &cache{backend: backend, log: log}
}

// align diffs target against the processed sequence and invalidates the
// divergent suffix. Returns the number of leading tokens already encoded.
func (c *cache) align(target []engine.Token) (int, error) {
	k := commonPrefix(c.processed, target)
	if k < len(c.processed) {
		if err := c.backend.RemoveRange(k, len(c.processed)); err != nil {
			return 0, fmt.Errorf("invalidate cache suffix: %w", err)
		}
		c.log.Debug().
			Int("kept", k).
			Int("dropped", len(c.processed)-k).
			Msg("history diverged from cache")
		c.processed = c.processed[:k]
	}
	return k, nil
}

// prime feeds target[from:] through the backend in batch-size chunks,
// extending the processed sequence as each batch lands.
func (c *cache) prime(ctx context.Context, target []engine.Token, from int) error {
	batchSize := c.backend.BatchSize()
	for pos := from; pos < len(target); pos += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(pos+batchSize, len(target))
		if len(c.processed)+(end-pos) > c.backend.ContextSize() {
			return fmt.Errorf("%w: prompt needs %d tokens, context holds %d",
				engine.ErrContextExceeded, len(target), c.backend.ContextSize())
		}
		batch := target[pos:end]
		if err := c.backend.Decode(batch); err != nil {
			return fmt.Errorf("decode batch at position %d: %w", pos, err)
		}
		c.processed = append(c.processed, batch...)
	}
	return nil
}

// appendToken records a sampled token after the backend decoded it.
func (c *cache) appendToken(t engine.Token) {
	c.processed = append(c.processed, t)
}

// adopt replaces the tracked sequence wholesale, used after the backend
// restored a serialized decode state.
func (c *cache) adopt(tokens []engine.Token) {
	c.processed = tokens
}

func (c *cache) length() int {
	return len(c.processed)
}

func (c *cache) tokens() []engine.Token {
	return c.processed
}

func commonPrefix(a, b []engine.Token) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func hasPrefix(sequence, prefix []engine.Token) bool {
	return len(prefix) <= len(sequence) && commonPrefix(sequence, prefix) == len(prefix)
}
