package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads the configuration from disk and the environment.
type Loader struct {
	configPath string
}

// NewLoader creates a loader. An empty path uses DefaultPath.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// DefaultPath is the config file location when none is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".saker", "config.yaml")
}

// Path returns the config file path this loader reads.
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	return DefaultPath()
}

// Load resolves the configuration. A missing config file is not an
// error; defaults and SAKER_ environment overrides still apply.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(l.Path())
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SAKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key is registered as a default so environment overrides
	// resolve even when the config file never mentions them.
	bindDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := derivePaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is a convenience wrapper around NewLoader(path).Load().
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// bindDefaults registers every config key with its default value.
// DefaultConfig is the single source; empty strings still register the
// key for environment lookup.
func bindDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("engine.provider", d.Engine.Provider)
	v.SetDefault("engine.model", d.Engine.Model)
	v.SetDefault("engine.temperature", d.Engine.Temperature)
	v.SetDefault("engine.max_tokens", d.Engine.MaxTokens)
	v.SetDefault("engine.anthropic_api_key", d.Engine.AnthropicAPIKey)
	v.SetDefault("engine.openai_api_key", d.Engine.OpenAIAPIKey)
	v.SetDefault("engine.openai_base_url", d.Engine.OpenAIBaseURL)
	v.SetDefault("engine.ollama_host", d.Engine.OllamaHost)
	v.SetDefault("engine.model_path", d.Engine.ModelPath)
	v.SetDefault("engine.cache_dir", d.Engine.CacheDir)

	v.SetDefault("agent.name", d.Agent.Name)
	v.SetDefault("agent.instructions", d.Agent.Instructions)

	v.SetDefault("tools.enabled", d.Tools.Enabled)
	v.SetDefault("tools.work_dir", d.Tools.WorkDir)
	v.SetDefault("tools.browser", d.Tools.Browser)
	v.SetDefault("tools.deny", d.Tools.Deny)

	v.SetDefault("memory.enabled", d.Memory.Enabled)
	v.SetDefault("memory.dir", d.Memory.Dir)
	v.SetDefault("memory.db_path", d.Memory.DBPath)
	v.SetDefault("memory.embeddings.enabled", d.Memory.Embeddings.Enabled)
	v.SetDefault("memory.embeddings.model", d.Memory.Embeddings.Model)
	v.SetDefault("memory.embeddings.api_key", d.Memory.Embeddings.APIKey)
	v.SetDefault("memory.embeddings.base_url", d.Memory.Embeddings.BaseURL)

	v.SetDefault("mcp_servers", d.MCPServers)

	v.SetDefault("gateway.addr", d.Gateway.Addr)
	v.SetDefault("gateway.secret", d.Gateway.Secret)
	v.SetDefault("gateway.requests_per_minute", d.Gateway.RequestsPerMinute)
	v.SetDefault("gateway.max_concurrent", d.Gateway.MaxConcurrent)
	v.SetDefault("gateway.tick_interval_ms", d.Gateway.TickIntervalMS)

	v.SetDefault("schedule.enabled", d.Schedule.Enabled)
	v.SetDefault("schedule.path", d.Schedule.Path)

	v.SetDefault("trace.endpoint", d.Trace.Endpoint)
	v.SetDefault("trace.service_name", d.Trace.ServiceName)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("session_dir", d.SessionDir)
}

// derivePaths fills empty paths from the data directory.
func derivePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".saker")
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Engine.CacheDir == "" {
		cfg.Engine.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}
	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = filepath.Join(cfg.DataDir, "memory")
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(cfg.DataDir, "memory.db")
	}
	if cfg.Schedule.Path == "" {
		cfg.Schedule.Path = filepath.Join(cfg.DataDir, "jobs.json")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "saker.log")
	}
	return nil
}
