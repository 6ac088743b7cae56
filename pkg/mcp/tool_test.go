package mcp

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapResult(t *testing.T) {
	t.Run("should surface error results as errors", func(t *testing.T) {
		result := mcp.NewToolResultError("remote exploded")

		_, err := mapResult(result)

		require.Error(t, err)
		assert.Equal(t, "remote exploded", err.Error())
	})

	t.Run("should prefer structured content", func(t *testing.T) {
		result := &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.TextContent{Type: "text", Text: "ignored"}},
			StructuredContent: map[string]interface{}{"count": 3},
		}

		out, err := mapResult(result)

		require.NoError(t, err)
		assert.JSONEq(t, `{"count":3}`, out)
	})

	t.Run("should pass json text through unchanged", func(t *testing.T) {
		result := mcp.NewToolResultText(`{"items":[1,2]}`)

		out, err := mapResult(result)

		require.NoError(t, err)
		assert.Equal(t, `{"items":[1,2]}`, out)
	})

	t.Run("should wrap bare text", func(t *testing.T) {
		result := mcp.NewToolResultText("all good")

		out, err := mapResult(result)

		require.NoError(t, err)
		assert.JSONEq(t, `{"result":"all good"}`, out)
	})

	t.Run("should concatenate text blocks", func(t *testing.T) {
		result := &mcp.CallToolResult{Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "part one "},
			mcp.TextContent{Type: "text", Text: "part two"},
		}}

		out, err := mapResult(result)

		require.NoError(t, err)
		assert.JSONEq(t, `{"result":"part one part two"}`, out)
	})
}
