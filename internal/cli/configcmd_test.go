package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInitCommand(t *testing.T) {
	t.Run("writes a starter config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")

		output, err := runCommand(t, "--config", path, "config", "init")
		require.NoError(t, err)

		assert.Contains(t, output, "Configuration written to "+path)
		assert.Contains(t, output, "saker chat")

		body, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(body), "engine:")
		assert.Contains(t, string(body), "provider:")
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")

		_, err := runCommand(t, "--config", path, "config", "init")
		require.NoError(t, err)

		_, err = runCommand(t, "--config", path, "config", "init")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})
}

func TestConfigCheckCommand(t *testing.T) {
	t.Run("reports every problem", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		_, err := runCommand(t, "--config", path, "config", "init")
		require.NoError(t, err)

		// The starter keeps the anthropic provider but carries no key.
		output, err := runCommand(t, "--config", path, "config", "check")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 configuration problem(s)")
		assert.Contains(t, output, "API key")
	})

	t.Run("passes a valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		body := `data_dir: ` + dir + `
engine:
  provider: ollama
  model: qwen3:8b
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))

		output, err := runCommand(t, "--config", path, "config", "check")
		require.NoError(t, err)
		assert.Contains(t, output, "Configuration OK")
		assert.Contains(t, output, path)
	})

	t.Run("show masks secrets", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		body := `data_dir: ` + dir + `
engine:
  provider: anthropic
  model: claude-sonnet-4-20250514
  anthropic_api_key: sk-ant-supersecret
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))
		t.Cleanup(func() { configShow = false })

		output, err := runCommand(t, "--config", path, "config", "check", "--show")
		require.NoError(t, err)
		assert.Contains(t, output, "[set]")
		assert.NotContains(t, output, "sk-ant-supersecret")
	})
}
