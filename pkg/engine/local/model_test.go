package local

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/tool"
)

// fakeBackend scripts the token-level surface so cache behavior can be
// asserted without model weights.
type fakeBackend struct {
	contextSize int
	batchSize   int

	prompt  string
	vocab   map[string][]engine.Token
	samples []engine.Token
	eog     engine.Token
	pieces  map[engine.Token]string
	parse   func(raw string) (chat.Message, error)

	decoded [][]engine.Token
	removed [][2]int
	states  map[string][]engine.Token
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		contextSize: 64,
		batchSize:   4,
		eog:         -1,
		vocab:       map[string][]engine.Token{},
		pieces:      map[engine.Token]string{},
		states:      map[string][]engine.Token{},
	}
}

func (f *fakeBackend) Tokenize(text string) ([]engine.Token, error) {
	if tokens, ok := f.vocab[text]; ok {
		return tokens, nil
	}
	// One token per byte keeps scripted sequences easy to reason about.
	tokens := make([]engine.Token, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = engine.Token(text[i])
	}
	return tokens, nil
}

func (f *fakeBackend) Render(messages []chat.Message, tools []tool.Definition, addGenerationPrompt bool) (string, error) {
	if f.prompt != "" {
		return f.prompt, nil
	}
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role + ":" + m.Content + "\n")
	}
	for _, d := range tools {
		b.WriteString("tool:" + d.Name + "\n")
	}
	if addGenerationPrompt {
		b.WriteString("assistant:")
	}
	return b.String(), nil
}

func (f *fakeBackend) Parse(raw string) (chat.Message, error) {
	if f.parse != nil {
		return f.parse(raw)
	}
	return chat.Message{Content: raw}, nil
}

func (f *fakeBackend) Decode(batch []engine.Token) error {
	f.decoded = append(f.decoded, append([]engine.Token{}, batch...))
	return nil
}

func (f *fakeBackend) Sample() (engine.Token, error) {
	if len(f.samples) == 0 {
		return 0, fmt.Errorf("no scripted samples left")
	}
	token := f.samples[0]
	f.samples = f.samples[1:]
	return token, nil
}

func (f *fakeBackend) Piece(t engine.Token) (string, error) {
	piece, ok := f.pieces[t]
	if !ok {
		return "", fmt.Errorf("no piece for token %d", t)
	}
	return piece, nil
}

func (f *fakeBackend) IsEOG(t engine.Token) bool {
	return t == f.eog
}

func (f *fakeBackend) RemoveRange(from, to int) error {
	f.removed = append(f.removed, [2]int{from, to})
	return nil
}

func (f *fakeBackend) ContextSize() int { return f.contextSize }
func (f *fakeBackend) BatchSize() int   { return f.batchSize }

func (f *fakeBackend) SaveState(path string, tokens []engine.Token) error {
	f.states[path] = append([]engine.Token{}, tokens...)
	return nil
}

func (f *fakeBackend) LoadState(path string) ([]engine.Token, error) {
	tokens, ok := f.states[path]
	if !ok {
		return nil, fmt.Errorf("no state at %s", path)
	}
	return append([]engine.Token{}, tokens...), nil
}

func newTestModel(t *testing.T, backend *fakeBackend) *Model {
	m, err := New(Config{Backend: backend, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	t.Run("should require a backend", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "backend")
	})
}

func TestCachePrefixDiff(t *testing.T) {
	t.Run("should submit only the unseen suffix", func(t *testing.T) {
		backend := newFakeBackend()
		c := newCache(backend, zerolog.Nop())
		require.NoError(t, c.prime(context.Background(), []engine.Token{1, 2, 3}, 0))
		backend.decoded = nil

		target := []engine.Token{1, 2, 3, 4, 5}
		reused, err := c.align(target)
		require.NoError(t, err)
		require.NoError(t, c.prime(context.Background(), target, reused))

		assert.Equal(t, 3, reused)
		assert.Equal(t, [][]engine.Token{{4, 5}}, backend.decoded)
		assert.Equal(t, []engine.Token{1, 2, 3, 4, 5}, c.tokens())
		assert.Empty(t, backend.removed)
	})

	t.Run("should truncate diverged state before submitting", func(t *testing.T) {
		backend := newFakeBackend()
		c := newCache(backend, zerolog.Nop())
		require.NoError(t, c.prime(context.Background(), []engine.Token{1, 2, 3, 9}, 0))
		backend.decoded = nil

		target := []engine.Token{1, 2, 3, 4}
		reused, err := c.align(target)
		require.NoError(t, err)
		require.NoError(t, c.prime(context.Background(), target, reused))

		assert.Equal(t, 3, reused)
		assert.Equal(t, [][2]int{{3, 4}}, backend.removed)
		assert.Equal(t, [][]engine.Token{{4}}, backend.decoded)
		assert.Equal(t, []engine.Token{1, 2, 3, 4}, c.tokens())
	})

	t.Run("should split long prompts into batches", func(t *testing.T) {
		backend := newFakeBackend()
		backend.batchSize = 2
		c := newCache(backend, zerolog.Nop())

		require.NoError(t, c.prime(context.Background(), []engine.Token{1, 2, 3, 4, 5}, 0))

		assert.Equal(t, [][]engine.Token{{1, 2}, {3, 4}, {5}}, backend.decoded)
	})

	t.Run("should fail fatally when the prompt exceeds the context", func(t *testing.T) {
		backend := newFakeBackend()
		backend.contextSize = 4
		c := newCache(backend, zerolog.Nop())

		err := c.prime(context.Background(), []engine.Token{1, 2, 3, 4, 5, 6}, 0)

		require.Error(t, err)
		assert.ErrorIs(t, err, engine.ErrContextExceeded)
		assert.Contains(t, err.Error(), "context size exceeded")
	})

	t.Run("should stop priming on cancellation", func(t *testing.T) {
		backend := newFakeBackend()
		c := newCache(backend, zerolog.Nop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.prime(ctx, []engine.Token{1, 2, 3}, 0)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, backend.decoded)
	})
}

func TestModelGenerate(t *testing.T) {
	t.Run("should stream pieces and return the parsed reply", func(t *testing.T) {
		backend := newFakeBackend()
		backend.prompt = "PROMPT"
		backend.vocab["PROMPT"] = []engine.Token{1, 2, 3}
		backend.samples = []engine.Token{10, 11, -1}
		backend.pieces[10] = "Hel"
		backend.pieces[11] = "lo"
		m := newTestModel(t, backend)

		var chunks []string
		reply, err := m.Generate(context.Background(), []chat.Message{chat.User("hi")}, nil, func(chunk string) {
			chunks = append(chunks, chunk)
		})

		require.NoError(t, err)
		assert.Equal(t, chat.RoleAssistant, reply.Role)
		assert.Equal(t, "Hello", reply.Content)
		assert.Equal(t, []string{"Hel", "lo"}, chunks)
		assert.Equal(t, []engine.Token{1, 2, 3, 10, 11}, m.cache.tokens())
	})

	t.Run("should reuse the encoded prefix on the next turn", func(t *testing.T) {
		backend := newFakeBackend()
		backend.prompt = "PROMPT"
		backend.vocab["PROMPT"] = []engine.Token{1, 2, 3}
		backend.samples = []engine.Token{10, 11, -1}
		backend.pieces[10] = "Hel"
		backend.pieces[11] = "lo"
		m := newTestModel(t, backend)

		_, err := m.Generate(context.Background(), []chat.Message{chat.User("hi")}, nil, nil)
		require.NoError(t, err)

		backend.decoded = nil
		backend.prompt = "PROMPT2"
		backend.vocab["PROMPT2"] = []engine.Token{1, 2, 3, 10, 11, 4, 5}
		backend.samples = []engine.Token{12, -1}
		backend.pieces[12] = "!"

		reply, err := m.Generate(context.Background(), []chat.Message{chat.User("hi"), chat.Assistant("Hello"), chat.User("go on")}, nil, nil)

		require.NoError(t, err)
		assert.Equal(t, "!", reply.Content)
		assert.Equal(t, [][]engine.Token{{4, 5}, {12}}, backend.decoded)
		assert.Equal(t, []engine.Token{1, 2, 3, 10, 11, 4, 5, 12}, m.cache.tokens())
	})

	t.Run("should fail when generation overruns the context", func(t *testing.T) {
		backend := newFakeBackend()
		backend.contextSize = 4
		backend.prompt = "PROMPT"
		backend.vocab["PROMPT"] = []engine.Token{1, 2, 3}
		backend.samples = []engine.Token{10, 11, -1}
		backend.pieces[10] = "x"
		backend.pieces[11] = "y"
		m := newTestModel(t, backend)

		_, err := m.Generate(context.Background(), []chat.Message{chat.User("hi")}, nil, nil)

		require.Error(t, err)
		assert.ErrorIs(t, err, engine.ErrContextExceeded)
		assert.Contains(t, err.Error(), "during generation")
	})

	t.Run("should mint ids for template tool calls", func(t *testing.T) {
		backend := newFakeBackend()
		backend.prompt = "PROMPT"
		backend.vocab["PROMPT"] = []engine.Token{1}
		backend.samples = []engine.Token{-1}
		backend.parse = func(raw string) (chat.Message, error) {
			return chat.Message{ToolCalls: []chat.ToolCall{{Name: "search", Arguments: "{}"}}}, nil
		}
		m := newTestModel(t, backend)

		reply, err := m.Generate(context.Background(), []chat.Message{chat.User("hi")}, nil, nil)

		require.NoError(t, err)
		require.Len(t, reply.ToolCalls, 1)
		assert.True(t, strings.HasPrefix(reply.ToolCalls[0].ID, "call_"))
	})
}

func TestModelCache(t *testing.T) {
	instructions := "You are terse."
	searchTool := tool.Definition{Name: "search", Description: "Search the web"}

	t.Run("should prime and persist a fresh cache", func(t *testing.T) {
		backend := newFakeBackend()
		m := newTestModel(t, backend)

		err := m.LoadOrCreateCache(context.Background(), "prompt.cache", instructions, []tool.Definition{searchTool})

		require.NoError(t, err)
		assert.NotEmpty(t, backend.decoded)
		assert.Equal(t, m.cache.tokens(), backend.states["prompt.cache"])
	})

	t.Run("should adopt a saved cache without re-priming", func(t *testing.T) {
		backend := newFakeBackend()
		m := newTestModel(t, backend)
		priming, err := m.primingTokens(instructions, []tool.Definition{searchTool})
		require.NoError(t, err)
		backend.states["prompt.cache"] = append(append([]engine.Token{}, priming...), 99)

		err = m.LoadOrCreateCache(context.Background(), "prompt.cache", instructions, []tool.Definition{searchTool})

		require.NoError(t, err)
		assert.Empty(t, backend.decoded)
		assert.Equal(t, append(priming, 99), m.cache.tokens())
	})

	t.Run("should rebuild when the saved cache does not match", func(t *testing.T) {
		backend := newFakeBackend()
		m := newTestModel(t, backend)
		backend.states["prompt.cache"] = []engine.Token{200, 201}

		err := m.LoadOrCreateCache(context.Background(), "prompt.cache", instructions, nil)

		require.NoError(t, err)
		assert.Equal(t, [][2]int{{0, 2}}, backend.removed)
		assert.NotEmpty(t, backend.decoded)
		assert.Equal(t, m.cache.tokens(), backend.states["prompt.cache"])
	})

	t.Run("should save the current sequence on demand", func(t *testing.T) {
		backend := newFakeBackend()
		m := newTestModel(t, backend)
		require.NoError(t, m.cache.prime(context.Background(), []engine.Token{1, 2, 3}, 0))

		err := m.SaveCache("turn.cache")

		require.NoError(t, err)
		assert.Equal(t, []engine.Token{1, 2, 3}, backend.states["turn.cache"])
	})
}
