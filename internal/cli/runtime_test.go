package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/internal/config"
	"github.com/mika/saker/pkg/engine/local"
)

func runtimeTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Engine.Provider = config.ProviderLocal
	cfg.Engine.ModelPath = filepath.Join(dir, "model.gguf")
	cfg.Tools.Enabled = false
	cfg.Memory.Enabled = false
	cfg.Logging.Console = false
	cfg.Logging.File = filepath.Join(dir, "saker.log")
	cfg.DataDir = dir
	cfg.SessionDir = filepath.Join(dir, "sessions")
	cfg.Engine.CacheDir = filepath.Join(dir, "cache")
	return cfg
}

func TestNewRuntime(t *testing.T) {
	t.Run("assembles agent, engine and sessions", func(t *testing.T) {
		newLocalBackend = func(*config.Config, zerolog.Logger) (local.Backend, error) {
			return newStubBackend(), nil
		}
		t.Cleanup(func() { newLocalBackend = nil })

		cfg := runtimeTestConfig(t)
		rt, err := newRuntime(context.Background(), cfg, runtimeOptions{})
		require.NoError(t, err)
		defer rt.Close()

		assert.Equal(t, "local", rt.engine.Provider())
		assert.NotNil(t, rt.agent)
		assert.NotNil(t, rt.sessions)
		assert.Equal(t, 0, rt.registry.Len(), "tools are disabled")
	})

	t.Run("engine failure tears down cleanly", func(t *testing.T) {
		cfg := runtimeTestConfig(t)
		cfg.Engine.Provider = "bard"

		_, err := newRuntime(context.Background(), cfg, runtimeOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown engine provider")
	})
}

func TestBuildCallbacks(t *testing.T) {
	t.Run("logger and recovery always run", func(t *testing.T) {
		rt := &runtime{cfg: config.DefaultConfig(), log: zerolog.Nop()}

		pipeline, err := rt.buildCallbacks(context.Background(), runtimeOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, pipeline.Len())
	})

	t.Run("deny list and confirmation add their gates", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Tools.Deny = []string{"shell"}
		rt := &runtime{cfg: cfg, log: zerolog.Nop()}

		pipeline, err := rt.buildCallbacks(context.Background(), runtimeOptions{
			confirm: []string{"write_file"},
			in:      os.Stdin,
			out:     os.Stdout,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, pipeline.Len())
	})
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `data_dir: ` + dir + `
engine:
  provider: bard
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	_, err := runCommand(t, "--config", path, "cache", "warm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "invalid engine provider")
}
