package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mika/saker/pkg/tool"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 5 * time.Minute
	maxOutputBytes      = 64_000
)

func shellTool(opts Options) tool.Tool {
	def := tool.Definition{
		Name:        "shell",
		Description: "Run a shell command and return its stdout, stderr and exit code. Commands are killed after the timeout.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"command": tool.StringProp("The command line to run"),
			"cwd":     tool.StringProp("Working directory, relative to the configured work dir"),
			"timeout": tool.NumberProp("Timeout in seconds (default 30, max 300)"),
		}, "command"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Command string  `json:"command"`
			Cwd     string  `json:"cwd"`
			Timeout float64 `json:"timeout"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		if strings.TrimSpace(params.Command) == "" {
			return "", errors.New("command is required")
		}

		timeout := defaultShellTimeout
		if params.Timeout > 0 {
			timeout = time.Duration(params.Timeout * float64(time.Second))
			if timeout > maxShellTimeout {
				timeout = maxShellTimeout
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", params.Command)
		cmd.Dir = resolveDir(opts.WorkDir, params.Cwd)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		start := time.Now()
		err := cmd.Run()
		elapsed := time.Since(start)

		if runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", timeout)
		}

		exitCode := 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
			} else {
				return "", fmt.Errorf("run command: %w", err)
			}
		}

		outText, outTruncated := clip(stdout.String(), maxOutputBytes)
		errText, errTruncated := clip(stderr.String(), maxOutputBytes)

		return encodeResult(map[string]interface{}{
			"stdout":      outText,
			"stderr":      errText,
			"exit_code":   exitCode,
			"duration_ms": elapsed.Milliseconds(),
			"truncated":   outTruncated || errTruncated,
		})
	})
}

func resolveDir(root, cwd string) string {
	cwd = strings.TrimSpace(cwd)
	if cwd == "" {
		return root
	}
	if filepath.IsAbs(cwd) {
		return filepath.Clean(cwd)
	}
	return filepath.Clean(filepath.Join(root, cwd))
}

// clip truncates s to max bytes without splitting a rune in half.
func clip(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
