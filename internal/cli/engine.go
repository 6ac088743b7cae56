package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mika/saker/internal/config"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/engine/local"
	"github.com/mika/saker/pkg/engine/ollama"
)

// newLocalBackend links a token-level backend into the local provider.
// The default build carries none; a build that embeds an inference
// runtime assigns this from an init function.
var newLocalBackend func(cfg *config.Config, log zerolog.Logger) (local.Backend, error)

// buildEngine constructs the configured inference engine.
func buildEngine(cfg *config.Config, log zerolog.Logger) (engine.Generator, error) {
	e := cfg.Engine

	switch e.Provider {
	case config.ProviderAnthropic:
		return engine.NewAnthropic(engine.AnthropicConfig{
			APIKey:      e.AnthropicAPIKey,
			Model:       e.Model,
			MaxTokens:   e.MaxTokens,
			Temperature: e.Temperature,
			Logger:      log,
		})

	case config.ProviderOpenAI:
		return engine.NewOpenAI(engine.OpenAIConfig{
			APIKey:      e.OpenAIAPIKey,
			BaseURL:     e.OpenAIBaseURL,
			Model:       e.Model,
			MaxTokens:   e.MaxTokens,
			Temperature: e.Temperature,
			Logger:      log,
		})

	case config.ProviderOllama:
		return ollama.New(ollama.Config{
			Model:       e.Model,
			BaseURL:     e.OllamaHost,
			Temperature: e.Temperature,
			Logger:      log,
		})

	case config.ProviderLocal:
		if newLocalBackend == nil {
			return nil, fmt.Errorf("this build carries no local inference backend; use the ollama provider for local models")
		}
		backend, err := newLocalBackend(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("open local backend: %w", err)
		}
		return local.New(local.Config{Backend: backend, Logger: log})

	default:
		return nil, fmt.Errorf("unknown engine provider: %s", e.Provider)
	}
}
