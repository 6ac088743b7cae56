package config

import (
	"fmt"
	"net"
	"strings"
)

// Validator checks configuration values. Field-level methods validate
// one value; ValidateConfig walks a whole Config and collects every
// problem.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider checks an engine provider name.
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case ProviderLocal, ProviderOllama, ProviderAnthropic, ProviderOpenAI:
		return nil
	}
	return fmt.Errorf("invalid engine provider: %s (must be one of: local, ollama, anthropic, openai)", provider)
}

// ValidateAPIKey checks an API key's shape for known providers.
func (v *Validator) ValidateAPIKey(key, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature checks a sampling temperature.
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateMaxTokens checks a completion token limit.
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateAddr checks a host:port listen address.
func (v *Validator) ValidateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %s: %w", addr, err)
	}
	return nil
}

// ValidateLogLevel checks a log level name.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig checks a whole Config and returns every problem found.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateProvider(cfg.Engine.Provider); err != nil {
		errs = append(errs, err)
	} else {
		errs = append(errs, v.validateEngine(&cfg.Engine)...)
	}

	if err := v.ValidateTemperature(cfg.Engine.Temperature); err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Engine.MaxTokens); err != nil {
			errs = append(errs, err)
		}
	}

	if err := v.ValidateAddr(cfg.Gateway.Addr); err != nil {
		errs = append(errs, err)
	}
	if cfg.Gateway.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("gateway requests_per_minute must be >= 0"))
	}
	if cfg.Gateway.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("gateway max_concurrent must be >= 0"))
	}
	if cfg.Gateway.TickIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("gateway tick_interval_ms must be positive"))
	}

	if cfg.Memory.Enabled && cfg.Memory.Embeddings.Enabled {
		if cfg.Memory.Embeddings.Model == "" {
			errs = append(errs, fmt.Errorf("memory embeddings model is required when embeddings are enabled"))
		}
		if cfg.Memory.Embeddings.APIKey == "" && cfg.Memory.Embeddings.BaseURL == "" {
			errs = append(errs, fmt.Errorf("memory embeddings need an api_key or a base_url"))
		}
	}

	for i, server := range cfg.MCPServers {
		if server.Name == "" {
			errs = append(errs, fmt.Errorf("mcp server %d: name is required", i))
		}
		if server.URL == "" {
			errs = append(errs, fmt.Errorf("mcp server %d (%s): url is required", i, server.Name))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.MaxSizeMB < 0 {
		errs = append(errs, fmt.Errorf("logging max_size_mb must be >= 0"))
	}
	if cfg.Logging.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("logging max_age_days must be >= 0"))
	}

	return errs
}

// validateEngine checks the requireds of the selected provider. Other
// providers' credentials may stay empty.
func (v *Validator) validateEngine(e *EngineConfig) []error {
	var errs []error

	switch e.Provider {
	case ProviderLocal:
		if e.ModelPath == "" {
			errs = append(errs, fmt.Errorf("engine model_path is required for the local provider"))
		}
	case ProviderOllama:
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("engine model is required for the ollama provider"))
		}
	case ProviderAnthropic:
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("engine model is required for the anthropic provider"))
		}
		if err := v.ValidateAPIKey(e.AnthropicAPIKey, ProviderAnthropic); err != nil {
			errs = append(errs, err)
		}
	case ProviderOpenAI:
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("engine model is required for the openai provider"))
		}
		if e.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("openai API key cannot be empty"))
		} else if e.OpenAIBaseURL == "" {
			// Key shape is only meaningful against the real endpoint;
			// compatible servers accept arbitrary keys.
			if err := v.ValidateAPIKey(e.OpenAIAPIKey, ProviderOpenAI); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errs
}
