// Package config defines the runtime configuration and its viper-based
// loader. Values resolve in order: SAKER_-prefixed environment variables,
// the YAML config file, then defaults. Paths left empty are derived from
// the data directory at load time.
package config

import (
	"encoding/json"
)

// Engine provider names. These match what each engine reports from
// Provider(), so metric labels and config values line up.
const (
	ProviderLocal     = "local"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config is the full runtime configuration.
type Config struct {
	// Engine selects and configures the inference engine.
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Agent configures the run loop.
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tools configures the built-in tools.
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Memory configures the note index.
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// MCPServers lists MCP servers whose tools join the registry.
	MCPServers []MCPServerConfig `json:"mcp_servers" mapstructure:"mcp_servers"`

	// Gateway configures the websocket server.
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Schedule configures programmed prompts.
	Schedule ScheduleConfig `json:"schedule" mapstructure:"schedule"`

	// Trace configures OTLP span export. Empty endpoint disables it.
	Trace TraceConfig `json:"trace" mapstructure:"trace"`

	// Logging configures the zerolog setup.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir roots all derived paths. Defaults to ~/.saker.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// SessionDir holds conversation transcripts. Defaults to
	// DataDir/sessions.
	SessionDir string `json:"session_dir" mapstructure:"session_dir"`
}

// EngineConfig selects the inference engine and carries its credentials.
type EngineConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // local, ollama, anthropic, openai
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`

	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `json:"openai_base_url" mapstructure:"openai_base_url"`

	// OllamaHost overrides the OLLAMA_HOST environment for the ollama
	// provider.
	OllamaHost string `json:"ollama_host" mapstructure:"ollama_host"`

	// ModelPath is the GGUF weights file for the local provider.
	ModelPath string `json:"model_path" mapstructure:"model_path"`

	// CacheDir holds persisted prompt caches. Defaults to DataDir/cache.
	CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
}

// AgentConfig configures the run loop.
type AgentConfig struct {
	// Name labels spans and gateway events.
	Name string `json:"name" mapstructure:"name"`

	// Instructions is the system prompt. Empty means none.
	Instructions string `json:"instructions" mapstructure:"instructions"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	WorkDir string `json:"work_dir" mapstructure:"work_dir"` // shell working directory
	Browser bool   `json:"browser" mapstructure:"browser"`   // register the browse tool

	// Deny lists tool names a guard callback skips before execution.
	Deny []string `json:"deny" mapstructure:"deny"`
}

// MemoryConfig configures the note index.
type MemoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" mapstructure:"dir"`         // note directory, defaults to DataDir/memory
	DBPath  string `json:"db_path" mapstructure:"db_path"` // index database, defaults to DataDir/memory.db

	Embeddings EmbeddingsConfig `json:"embeddings" mapstructure:"embeddings"`
}

// EmbeddingsConfig enables semantic search over the note index. Without
// it, search is keyword-only.
type EmbeddingsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Model   string `json:"model" mapstructure:"model"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"` // OpenAI-compatible /v1; empty targets api.openai.com
}

// MCPServerConfig is one MCP server connection.
type MCPServerConfig struct {
	Name    string            `json:"name" mapstructure:"name"`
	URL     string            `json:"url" mapstructure:"url"`
	Headers map[string]string `json:"headers" mapstructure:"headers"`
}

// GatewayConfig configures the websocket server.
type GatewayConfig struct {
	Addr              string `json:"addr" mapstructure:"addr"`
	Secret            string `json:"secret" mapstructure:"secret"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
	TickIntervalMS    int    `json:"tick_interval_ms" mapstructure:"tick_interval_ms"`
}

// ScheduleConfig configures programmed prompts.
type ScheduleConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"` // jobs JSON file, defaults to DataDir/jobs.json
}

// TraceConfig configures OTLP span export.
type TraceConfig struct {
	Endpoint    string `json:"endpoint" mapstructure:"endpoint"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// LoggingConfig configures the zerolog setup.
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"` // defaults to DataDir/saker.log
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values. Credentials and
// paths stay empty; paths are derived at load time.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Provider:    ProviderAnthropic,
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Agent: AgentConfig{
			Name: "saker",
		},
		Tools: ToolsConfig{
			Enabled: true,
		},
		Memory: MemoryConfig{
			Enabled: true,
			Embeddings: EmbeddingsConfig{
				Model: "text-embedding-3-small",
			},
		},
		Gateway: GatewayConfig{
			Addr:              "127.0.0.1:8787",
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
			TickIntervalMS:    30000,
		},
		Schedule: ScheduleConfig{
			Enabled: true,
		},
		Trace: TraceConfig{
			ServiceName: "saker",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Redaction:  true,
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// String returns an indented JSON dump. API keys and the gateway secret
// are masked.
func (c *Config) String() string {
	masked := *c
	masked.Engine.AnthropicAPIKey = mask(c.Engine.AnthropicAPIKey)
	masked.Engine.OpenAIAPIKey = mask(c.Engine.OpenAIAPIKey)
	masked.Memory.Embeddings.APIKey = mask(c.Memory.Embeddings.APIKey)
	masked.Gateway.Secret = mask(c.Gateway.Secret)

	if len(c.MCPServers) > 0 {
		servers := make([]MCPServerConfig, len(c.MCPServers))
		copy(servers, c.MCPServers)
		for i := range servers {
			if len(servers[i].Headers) == 0 {
				continue
			}
			headers := make(map[string]string, len(servers[i].Headers))
			for k := range servers[i].Headers {
				headers[k] = mask("set")
			}
			servers[i].Headers = headers
		}
		masked.MCPServers = servers
	}

	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "[set]"
}

// Validate returns the first problem ValidateConfig finds.
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
