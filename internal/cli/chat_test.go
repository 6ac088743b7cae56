package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/internal/config"
	"github.com/mika/saker/pkg/agent"
	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/session"
	"github.com/mika/saker/pkg/tool"
)

// newTestRuntime hand-assembles a runtime around a scripted engine, the
// way newRuntime would from a config.
func newTestRuntime(t *testing.T, eng engine.Generator, tools ...tool.Tool) *runtime {
	t.Helper()

	registry := tool.NewRegistry()
	for _, item := range tools {
		require.NoError(t, registry.Register(item))
	}

	ag, err := agent.New(agent.Config{
		Engine:       eng,
		Tools:        registry,
		Instructions: "You are terse.",
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	store, err := session.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	return &runtime{
		cfg:      config.DefaultConfig(),
		log:      zerolog.Nop(),
		engine:   eng,
		registry: registry,
		agent:    ag,
		sessions: store,
	}
}

func replOutput(t *testing.T, rt *runtime, input string) string {
	t.Helper()
	runner := newSessionRunner(rt.agent, rt.sessions, rt.log)
	output := &bytes.Buffer{}
	err := repl(context.Background(), rt, runner, "default", strings.NewReader(input), output)
	require.NoError(t, err)
	return output.String()
}

func TestRepl(t *testing.T) {
	t.Run("answers and loops until exit", func(t *testing.T) {
		eng := &scriptedEngine{replies: []chat.Message{chat.Assistant("hi")}}
		rt := newTestRuntime(t, eng)

		output := replOutput(t, rt, "hello\nexit\n")
		assert.Contains(t, output, "saker "+version+", engine scripted")
		assert.Contains(t, output, "> ")
		assert.Contains(t, output, "hi")
	})

	t.Run("eof ends the loop", func(t *testing.T) {
		eng := &scriptedEngine{}
		rt := newTestRuntime(t, eng)

		replOutput(t, rt, "")
		assert.Empty(t, eng.calls)
	})

	t.Run("blank lines are ignored", func(t *testing.T) {
		eng := &scriptedEngine{}
		rt := newTestRuntime(t, eng)

		replOutput(t, rt, "\n\nexit\n")
		assert.Empty(t, eng.calls)
	})

	t.Run("slash tools lists the registry", func(t *testing.T) {
		eng := &scriptedEngine{}
		rt := newTestRuntime(t, eng, echoTool())

		output := replOutput(t, rt, "/tools\nexit\n")
		assert.Contains(t, output, "echo")
		assert.Empty(t, eng.calls, "listing tools should not hit the engine")
	})

	t.Run("slash clear wipes the session", func(t *testing.T) {
		eng := &scriptedEngine{}
		rt := newTestRuntime(t, eng)
		require.NoError(t, rt.sessions.Append("default", chat.User("old"), chat.Assistant("gone")))

		output := replOutput(t, rt, "/clear\nexit\n")
		assert.Contains(t, output, `Session "default" cleared.`)

		stored, err := rt.sessions.Load("default")
		require.NoError(t, err)
		assert.Equal(t, 0, stored.Len())
	})

	t.Run("a failed run keeps the loop alive", func(t *testing.T) {
		eng := &scriptedEngine{fail: assert.AnError}
		rt := newTestRuntime(t, eng)

		output := replOutput(t, rt, "boom\nexit\n")
		assert.Contains(t, output, "error:")
	})
}

func TestChatCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		found := false
		for _, c := range GetRootCmd().Commands() {
			if c.Name() == "chat" {
				found = true
				break
			}
		}
		assert.True(t, found, "chat command should exist")
	})

	t.Run("flags", func(t *testing.T) {
		sessionFlag := chatCmd.Flags().Lookup("session")
		require.NotNil(t, sessionFlag)
		assert.Equal(t, "default", sessionFlag.DefValue)

		promptFlag := chatCmd.Flags().Lookup("prompt")
		require.NotNil(t, promptFlag)
		assert.Equal(t, "", promptFlag.DefValue)

		confirmFlag := chatCmd.Flags().Lookup("confirm")
		require.NotNil(t, confirmFlag)
	})
}
