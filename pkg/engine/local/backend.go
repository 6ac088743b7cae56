// Package local layers prefix-aware cache management over a token-level
// inference backend. The Model implements the full engine contract: it
// renders conversations through the backend's chat template, diffs the
// resulting token sequence against what the backend has already encoded,
// decodes only the divergent suffix, and samples the completion one token
// at a time. Decode state survives restarts through SaveCache and
// LoadOrCreateCache.
package local

import (
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/tool"
)

// Backend is the token-level surface of a local inference runtime. One
// Backend owns one mutable decode state; implementations are not expected
// to be safe for concurrent use.
type Backend interface {
	// Tokenize converts text to vocabulary tokens.
	Tokenize(text string) ([]engine.Token, error)

	// Render applies the model's chat template to the conversation and
	// tool definitions. addGenerationPrompt appends the assistant header
	// that cues the model to reply.
	Render(messages []chat.Message, tools []tool.Definition, addGenerationPrompt bool) (string, error)

	// Parse interprets raw model output as an assistant message,
	// extracting tool calls emitted in the template's call format.
	Parse(raw string) (chat.Message, error)

	// Decode feeds a batch of tokens into the decode state at the next
	// positions.
	Decode(batch []engine.Token) error

	// Sample draws the next token from the current logits.
	Sample() (engine.Token, error)

	// Piece returns the text fragment for a token.
	Piece(t engine.Token) (string, error)

	// IsEOG reports whether a token ends generation.
	IsEOG(t engine.Token) bool

	// RemoveRange drops decode state for positions [from, to).
	RemoveRange(from, to int) error

	// ContextSize returns the context window in tokens.
	ContextSize() int

	// BatchSize returns the maximum tokens per Decode call.
	BatchSize() int

	// SaveState serializes the decode state and the token sequence it
	// reflects to path.
	SaveState(path string, tokens []engine.Token) error

	// LoadState restores a serialized decode state from path and returns
	// the token sequence it reflects.
	LoadState(path string) ([]engine.Token, error)
}
