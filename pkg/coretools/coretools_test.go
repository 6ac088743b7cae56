package coretools

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mika/saker/pkg/tool"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
}

func TestRegisterAll(t *testing.T) {
	t.Run("should register calculator, time and shell", func(t *testing.T) {
		registry := tool.NewRegistry()
		tools, err := RegisterAll(registry, Options{WorkDir: t.TempDir()})
		require.NoError(t, err)
		defer tools.Close()

		for _, name := range []string{"calculator", "time", "shell"} {
			_, ok := registry.Lookup(name)
			assert.True(t, ok, "missing tool %s", name)
		}
		_, ok := registry.Lookup("browse")
		assert.False(t, ok, "browse should not be registered by default")
	})

	t.Run("should register browse when the browser is enabled", func(t *testing.T) {
		registry := tool.NewRegistry()
		tools, err := RegisterAll(registry, Options{WorkDir: t.TempDir(), EnableBrowser: true})
		require.NoError(t, err)
		defer tools.Close()

		_, ok := registry.Lookup("browse")
		assert.True(t, ok)
	})

	t.Run("should close cleanly when the browser never launched", func(t *testing.T) {
		registry := tool.NewRegistry()
		tools, err := RegisterAll(registry, Options{EnableBrowser: true})
		require.NoError(t, err)
		assert.NoError(t, tools.Close())
	})
}

func TestClockTool(t *testing.T) {
	t.Run("should return the current time in rfc3339", func(t *testing.T) {
		out, err := clockTool().Execute(context.Background(), map[string]interface{}{})
		require.NoError(t, err)

		var result struct {
			Time     string `json:"time"`
			Unix     int64  `json:"unix"`
			Weekday  string `json:"weekday"`
			Timezone string `json:"timezone"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &result))

		parsed, err := time.Parse(time.RFC3339, result.Time)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), parsed, time.Minute)
		assert.Equal(t, parsed.Weekday().String(), result.Weekday)
	})

	t.Run("should honor a timezone", func(t *testing.T) {
		out, err := clockTool().Execute(context.Background(), map[string]interface{}{
			"timezone": "UTC",
		})
		require.NoError(t, err)
		assert.Contains(t, out, `"timezone":"UTC"`)
	})

	t.Run("should reject unknown timezones", func(t *testing.T) {
		_, err := clockTool().Execute(context.Background(), map[string]interface{}{
			"timezone": "Mars/Olympus",
		})
		assert.ErrorContains(t, err, "unknown timezone")
	})

	t.Run("should format as unix seconds", func(t *testing.T) {
		out, err := clockTool().Execute(context.Background(), map[string]interface{}{
			"format": "unix",
		})
		require.NoError(t, err)

		var result struct {
			Time string `json:"time"`
			Unix int64  `json:"unix"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.NotEmpty(t, result.Time)
		assert.Greater(t, result.Unix, int64(0))
	})
}

func TestValidateFetchURL(t *testing.T) {
	assert.NoError(t, validateFetchURL("https://example.com/page"))
	assert.NoError(t, validateFetchURL("http://localhost:8080"))
	assert.ErrorContains(t, validateFetchURL(""), "url is required")
	assert.ErrorContains(t, validateFetchURL("ftp://example.com"), "http or https")
	assert.ErrorContains(t, validateFetchURL("file:///etc/passwd"), "http or https")
	assert.ErrorContains(t, validateFetchURL("https://"), "host")
}

func TestBrowseToolValidation(t *testing.T) {
	t.Run("should reject bad URLs before launching the browser", func(t *testing.T) {
		runner := newBrowserRunner(testLogger())
		defer runner.close()

		_, err := browseTool(runner).Execute(context.Background(), map[string]interface{}{
			"url": "ftp://example.com",
		})
		assert.ErrorContains(t, err, "http or https")
		assert.Nil(t, runner.browser)
	})
}
