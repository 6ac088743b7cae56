package cli

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/internal/config"
	"github.com/mika/saker/pkg/engine/local"
)

func engineConfig(provider string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.Provider = provider
	cfg.Engine.AnthropicAPIKey = "sk-ant-test123"
	cfg.Engine.OpenAIAPIKey = "sk-test123"
	cfg.Engine.ModelPath = "/models/test.gguf"
	return cfg
}

func TestBuildEngine(t *testing.T) {
	t.Run("anthropic", func(t *testing.T) {
		eng, err := buildEngine(engineConfig(config.ProviderAnthropic), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "anthropic", eng.Provider())
	})

	t.Run("openai", func(t *testing.T) {
		eng, err := buildEngine(engineConfig(config.ProviderOpenAI), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "openai", eng.Provider())
	})

	t.Run("ollama", func(t *testing.T) {
		cfg := engineConfig(config.ProviderOllama)
		cfg.Engine.Model = "qwen3:8b"
		eng, err := buildEngine(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "ollama", eng.Provider())
	})

	t.Run("local without a linked backend", func(t *testing.T) {
		newLocalBackend = nil
		_, err := buildEngine(engineConfig(config.ProviderLocal), zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no local inference backend")
	})

	t.Run("local backend open failure", func(t *testing.T) {
		newLocalBackend = func(*config.Config, zerolog.Logger) (local.Backend, error) {
			return nil, fmt.Errorf("weights not found")
		}
		t.Cleanup(func() { newLocalBackend = nil })

		_, err := buildEngine(engineConfig(config.ProviderLocal), zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open local backend")
		assert.Contains(t, err.Error(), "weights not found")
	})

	t.Run("local with a linked backend", func(t *testing.T) {
		newLocalBackend = func(*config.Config, zerolog.Logger) (local.Backend, error) {
			return newStubBackend(), nil
		}
		t.Cleanup(func() { newLocalBackend = nil })

		eng, err := buildEngine(engineConfig(config.ProviderLocal), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "local", eng.Provider())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := buildEngine(engineConfig("bard"), zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown engine provider")
	})
}
