package local

import (
	"context"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/mika/saker/internal/observability"
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/tool"
)

// Config configures a local Model.
type Config struct {
	Backend Backend
	Logger  zerolog.Logger
}

// Model implements the full engine contract over a Backend. A Model owns
// its backend's decode state exclusively; two Models must not share one
// Backend. Not safe for concurrent use.
type Model struct {
	backend Backend
	cache   *cache
	log     zerolog.Logger
}

// New creates a Model over the given backend.
func New(cfg Config) (*Model, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Backend.BatchSize() <= 0 {
		return nil, fmt.Errorf("backend batch size must be positive")
	}
	if cfg.Backend.ContextSize() <= 0 {
		return nil, fmt.Errorf("backend context size must be positive")
	}

	observability.EnsureRegistered()

	return &Model{
		backend: cfg.Backend,
		cache:   newCache(cfg.Backend, cfg.Logger),
		log:     cfg.Logger,
	}, nil
}

// Provider returns the provider name.
func (m *Model) Provider() string {
	return "local"
}

// Tokenize converts text to backend tokens.
func (m *Model) Tokenize(_ context.Context, text string) ([]engine.Token, error) {
	return m.backend.Tokenize(text)
}

// Generate renders the conversation through the backend's chat template
// and samples a reply, reusing whatever prompt prefix is already encoded.
func (m *Model) Generate(ctx context.Context, messages []chat.Message, tools []tool.Definition, sink engine.StreamSink) (chat.Message, error) {
	prompt, err := m.backend.Render(messages, tools, true)
	if err != nil {
		return chat.Message{}, fmt.Errorf("render prompt: %w", err)
	}

	tokens, err := m.backend.Tokenize(prompt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("tokenize prompt: %w", err)
	}

	raw, err := m.GenerateFromTokens(ctx, tokens, sink)
	if err != nil {
		return chat.Message{}, err
	}

	reply, err := m.backend.Parse(raw)
	if err != nil {
		return chat.Message{}, fmt.Errorf("parse model output: %w", err)
	}
	reply.Role = chat.RoleAssistant

	// Template call formats carry no ids; mint them so tool replies pair up.
	for i := range reply.ToolCalls {
		if reply.ToolCalls[i].ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return chat.Message{}, fmt.Errorf("mint tool call id: %w", err)
			}
			reply.ToolCalls[i].ID = "call_" + id
		}
	}

	return reply, nil
}

// GenerateFromTokens primes the decode state with tokens and samples a
// completion. Only the suffix beyond the longest common prefix with the
// already-encoded sequence is submitted to the backend.
func (m *Model) GenerateFromTokens(ctx context.Context, tokens []engine.Token, sink engine.StreamSink) (string, error) {
	reused, err := m.cache.align(tokens)
	if err != nil {
		return "", err
	}
	m.log.Debug().
		Int("prompt_tokens", len(tokens)).
		Int("reused_tokens", reused).
		Msg("priming prompt")
	observability.RecordPromptTokens(reused, len(tokens)-reused)

	if err := m.cache.prime(ctx, tokens, reused); err != nil {
		return "", err
	}

	return m.sample(ctx, sink)
}

func (m *Model) sample(ctx context.Context, sink engine.StreamSink) (string, error) {
	var out strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		token, err := m.backend.Sample()
		if err != nil {
			return "", fmt.Errorf("sample token: %w", err)
		}
		if m.backend.IsEOG(token) {
			break
		}

		piece, err := m.backend.Piece(token)
		if err != nil {
			return "", fmt.Errorf("token piece: %w", err)
		}
		out.WriteString(piece)
		if sink != nil {
			sink(piece)
		}

		m.cache.appendToken(token)
		if m.cache.length() >= m.backend.ContextSize() {
			return "", fmt.Errorf("%w during generation", engine.ErrContextExceeded)
		}
		if err := m.backend.Decode([]engine.Token{token}); err != nil {
			return "", fmt.Errorf("decode sampled token: %w", err)
		}
	}
	return out.String(), nil
}

// SaveCache serializes the decode state and its token sequence to path.
func (m *Model) SaveCache(path string) error {
	if err := m.backend.SaveState(path, m.cache.tokens()); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	m.log.Info().Str("path", path).Int("tokens", m.cache.length()).Msg("cache saved")
	return nil
}

// LoadOrCreateCache restores a saved decode state from path, or primes a
// fresh one from the instructions and tool definitions and persists it.
// A loaded state is trusted only if the current priming sequence is a
// prefix of its token sequence; anything else is discarded and rebuilt,
// which covers tokenizer swaps and edited instructions or tool sets.
func (m *Model) LoadOrCreateCache(ctx context.Context, path string, instructions string, tools []tool.Definition) error {
	expected, err := m.primingTokens(instructions, tools)
	if err != nil {
		return err
	}

	if loaded, err := m.backend.LoadState(path); err == nil && len(loaded) > 0 {
		if hasPrefix(loaded, expected) {
			m.cache.adopt(loaded)
			m.log.Info().Str("path", path).Int("tokens", len(loaded)).Msg("cache loaded")
			return nil
		}
		if err := m.backend.RemoveRange(0, len(loaded)); err != nil {
			return fmt.Errorf("discard stale cache: %w", err)
		}
		m.log.Warn().Str("path", path).Msg("cache does not match current prompt, rebuilding")
	}

	reused, err := m.cache.align(expected)
	if err != nil {
		return err
	}
	observability.RecordPromptTokens(reused, len(expected)-reused)
	if err := m.cache.prime(ctx, expected, reused); err != nil {
		return err
	}
	if err := m.backend.SaveState(path, m.cache.tokens()); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	m.log.Info().Str("path", path).Int("tokens", m.cache.length()).Msg("cache primed")
	return nil
}

// primingTokens builds the warm-up sequence: instructions and tool
// definitions only, no user turns, no generation prompt.
func (m *Model) primingTokens(instructions string, tools []tool.Definition) ([]engine.Token, error) {
	var messages []chat.Message
	if instructions != "" {
		messages = append(messages, chat.System(instructions))
	}

	prompt, err := m.backend.Render(messages, tools, false)
	if err != nil {
		return nil, fmt.Errorf("render priming prompt: %w", err)
	}
	tokens, err := m.backend.Tokenize(prompt)
	if err != nil {
		return nil, fmt.Errorf("tokenize priming prompt: %w", err)
	}
	return tokens, nil
}
