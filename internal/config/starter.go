package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// StarterYAML is the commented config file `saker config init` writes.
// Its values mirror DefaultConfig; TestStarterMatchesDefaults keeps the
// two from drifting.
const StarterYAML = `# saker configuration.
# Every key can also be set through the environment with a SAKER_ prefix,
# dots replaced by underscores: engine.model -> SAKER_ENGINE_MODEL.

engine:
  # One of: local, ollama, anthropic, openai.
  provider: anthropic
  model: claude-sonnet-4-20250514
  temperature: 0.7
  max_tokens: 4096

  # anthropic / openai credentials.
  anthropic_api_key: ""
  openai_api_key: ""
  # Point the openai provider at any compatible endpoint.
  openai_base_url: ""

  # ollama server, empty falls back to OLLAMA_HOST.
  ollama_host: ""

  # local provider: GGUF weights and the prompt cache directory.
  model_path: ""
  cache_dir: ""

agent:
  name: saker
  instructions: ""

tools:
  enabled: true
  # Shell working directory, empty means the process working directory.
  work_dir: ""
  # The browse tool launches a headless Chrome on first use.
  browser: false
  # Tool names the guard callback refuses to execute, for example:
  # deny: [shell, browse]

memory:
  enabled: true
  # Note directory and index database, empty derives from data_dir.
  dir: ""
  db_path: ""
  embeddings:
    # Without embeddings, memory search is keyword-only.
    enabled: false
    model: text-embedding-3-small
    api_key: ""
    # OpenAI-compatible /v1 endpoint for local embedding servers.
    base_url: ""

# MCP servers whose tools join the registry, for example:
# mcp_servers:
#   - name: github
#     url: https://example.com/mcp
#     headers:
#       Authorization: Bearer <token>

gateway:
  addr: 127.0.0.1:8787
  # Required to serve; clients sign the connection challenge with it.
  secret: ""
  requests_per_minute: 60
  max_concurrent: 10
  tick_interval_ms: 30000

schedule:
  enabled: true
  # Jobs file, empty derives from data_dir.
  path: ""

trace:
  # OTLP HTTP endpoint, for example http://localhost:4318. Empty
  # disables span export.
  endpoint: ""
  service_name: saker

logging:
  level: info
  # Log file, empty derives from data_dir.
  file: ""
  console: true
  pretty: false
  redaction: true
  max_size_mb: 100
  max_age_days: 7
  compress: true

# Root for sessions, memory, caches and logs. Empty means ~/.saker.
data_dir: ""
session_dir: ""
`

// WriteStarter writes the starter config to path, creating parent
// directories. It refuses to overwrite an existing file.
func WriteStarter(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(StarterYAML), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
