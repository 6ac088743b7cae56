package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mika/saker/pkg/tool"
)

// remoteTool adapts one server-side tool to the Tool capability.
type remoteTool struct {
	client *Client
	def    tool.Definition
}

func (t *remoteTool) Name() string {
	return t.def.Name
}

func (t *remoteTool) Definition() tool.Definition {
	return t.def
}

func (t *remoteTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.client.call(ctx, t.def.Name, args)
}

// mapResult flattens an MCP call result into tool output. Error results
// surface as errors. Structured content wins over text; text that is
// already JSON passes through unchanged; bare text is wrapped so the
// model always sees a JSON document.
func mapResult(result *mcp.CallToolResult) (string, error) {
	text := textContent(result)

	if result.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return "", errors.New(text)
	}

	if result.StructuredContent != nil {
		payload, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("marshal structured content: %w", err)
		}
		return string(payload), nil
	}

	if text != "" && json.Valid([]byte(text)) {
		return text, nil
	}

	payload, err := json.Marshal(map[string]string{"result": text})
	if err != nil {
		return "", fmt.Errorf("marshal text content: %w", err)
	}
	return string(payload), nil
}

func textContent(result *mcp.CallToolResult) string {
	var b strings.Builder
	for _, item := range result.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
