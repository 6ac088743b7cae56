// Package coretools provides the built-in tools every agent gets before
// any MCP servers are attached: calculator, shell, clock and an optional
// headless-browser page fetch.
package coretools

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/tool"
)

// Options configures the built-in tools.
type Options struct {
	WorkDir       string // default working directory for shell commands
	EnableBrowser bool   // register the browse tool (launches Chrome on first use)
	Logger        zerolog.Logger
}

// Tools holds resources owned by the built-in tools. Close releases
// them; today that is the headless browser, if one was ever launched.
type Tools struct {
	browser *browserRunner
}

// RegisterAll wires the built-in tools into the registry.
func RegisterAll(registry *tool.Registry, opts Options) (*Tools, error) {
	t := &Tools{}

	defs := []tool.Tool{
		calculatorTool(),
		clockTool(),
		shellTool(opts),
	}
	if opts.EnableBrowser {
		t.browser = newBrowserRunner(opts.Logger)
		defs = append(defs, browseTool(t.browser))
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return nil, fmt.Errorf("register %s: %w", def.Name(), err)
		}
	}
	return t, nil
}

// Close shuts down anything the tools started.
func (t *Tools) Close() error {
	if t.browser != nil {
		return t.browser.close()
	}
	return nil
}

func decodeArgs(args map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

func encodeResult(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(raw), nil
}
