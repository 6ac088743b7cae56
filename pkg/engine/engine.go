// Package engine defines the generation contracts the agent loop runs
// against, plus hosted API providers that implement them.
//
// Generator is the minimal surface: one conversation in, one assistant
// message out. Engines that own an incremental decode state additionally
// implement Cacher so callers can persist and reuse encoded prompt
// prefixes across process restarts.
package engine

import (
	"context"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

// Token is a vocabulary id in a local backend's token space.
type Token int32

// StreamSink receives generated text incrementally. Local engines call it
// once per decoded token; API providers deliver whole chunks as their
// transport yields them. A nil sink disables streaming.
type StreamSink func(chunk string)

// Generator produces one assistant reply for a conversation.
type Generator interface {
	// Generate returns the next assistant message given the conversation
	// and the tool definitions the model may call. Text is mirrored to
	// sink when non-nil.
	Generate(ctx context.Context, messages []chat.Message, tools []tool.Definition, sink StreamSink) (chat.Message, error)

	// Provider returns the provider name for logging and telemetry.
	Provider() string
}

// Cacher is implemented by engines that keep a reusable decode state.
type Cacher interface {
	// SaveCache serializes the current decode state and its token
	// sequence to path.
	SaveCache(path string) error

	// LoadOrCreateCache adopts a previously saved state from path, or
	// primes a fresh one from the instructions and tool definitions and
	// persists it. The primed state contains no user turns, so it stays
	// valid for every conversation that starts with the same prompt.
	LoadOrCreateCache(ctx context.Context, path string, instructions string, tools []tool.Definition) error
}

// Engine is the full contract of a token-level engine: chat generation
// plus direct access to the tokenizer and the incremental decode state.
type Engine interface {
	Generator
	Cacher

	// Tokenize converts text to backend tokens.
	Tokenize(ctx context.Context, text string) ([]Token, error)

	// GenerateFromTokens primes the decode state with tokens and samples
	// a completion, reusing whatever prefix is already encoded.
	GenerateFromTokens(ctx context.Context, tokens []Token, sink StreamSink) (string, error)
}
