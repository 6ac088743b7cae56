// Package ollama implements the Generator contract over the Ollama REST
// API, streaming completion chunks as the server produces them.
package ollama

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/engine"
	"github.com/mika/saker/pkg/tool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config configures the Ollama provider.
type Config struct {
	Model       string
	BaseURL     string
	Temperature float64
	Options     map[string]any
	Logger      zerolog.Logger
}

// Client implements the Generator contract against an Ollama server.
type Client struct {
	client  *api.Client
	model   string
	options map[string]any
	log     zerolog.Logger
}

// New creates an Ollama provider. An empty BaseURL falls back to the
// OLLAMA_HOST environment.
func New(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	// Model loads can take minutes; the HTTP client must not impose
	// response timeouts.
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 0,
		},
		Timeout: 0,
	}

	var client *api.Client
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		client = api.NewClient(u, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
	}

	options := map[string]any{}
	for k, v := range cfg.Options {
		options[k] = v
	}
	if cfg.Temperature > 0 {
		options["temperature"] = cfg.Temperature
	}

	return &Client{
		client:  client,
		model:   cfg.Model,
		options: options,
		log:     cfg.Logger,
	}, nil
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return "ollama"
}

// Generate streams one chat completion. Each content chunk reaches sink
// as the server emits it; tool calls and the final text are collected
// into the returned message.
func (c *Client) Generate(ctx context.Context, messages []chat.Message, tools []tool.Definition, sink engine.StreamSink) (chat.Message, error) {
	apiTools, err := convertTools(tools)
	if err != nil {
		return chat.Message{}, err
	}

	stream := true
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: convertMessages(messages, c.log),
		Options:  c.options,
		Tools:    apiTools,
		Stream:   &stream,
	}

	var content strings.Builder
	var toolCalls []chat.ToolCall

	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			content.WriteString(resp.Message.Content)
			if sink != nil {
				sink(resp.Message.Content)
			}
		}

		for _, tc := range resp.Message.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				c.log.Warn().Err(err).Str("tool", tc.Function.Name).Msg("failed to marshal tool call arguments")
				args = []byte("{}")
			}
			id := tc.ID
			if id == "" {
				minted, err := gonanoid.New()
				if err != nil {
					return fmt.Errorf("mint tool call id: %w", err)
				}
				id = "call_" + minted
			}
			toolCalls = append(toolCalls, chat.ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: string(args),
			})
		}

		if resp.Done {
			c.log.Debug().
				Str("done_reason", resp.DoneReason).
				Int("prompt_tokens", resp.PromptEvalCount).
				Int("eval_tokens", resp.EvalCount).
				Int("tool_calls", len(toolCalls)).
				Msg("Ollama completion finished")
		}
		return nil
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("ollama chat failed: %w", err)
	}

	return chat.Message{
		Role:      chat.RoleAssistant,
		Content:   content.String(),
		ToolCalls: toolCalls,
	}, nil
}

func convertMessages(messages []chat.Message, log zerolog.Logger) []api.Message {
	var converted []api.Message

	for _, m := range messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}

		if m.Role == chat.RoleAssistant && m.HasToolCalls() {
			for _, tc := range m.ToolCalls {
				var args api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					log.Warn().Err(err).Str("tool", tc.Name).Msg("failed to unmarshal tool arguments for history")
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
		}

		if m.Role == chat.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}

		converted = append(converted, msg)
	}

	return converted
}

// convertTools round-trips definitions through JSON into api.Tool, which
// sidesteps the SDK's nested parameter struct types.
func convertTools(tools []tool.Definition) ([]api.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	raw := make([]map[string]any, 0, len(tools))
	for _, def := range tools {
		parameters := map[string]any{}
		if len(def.Schema) > 0 {
			if err := json.Unmarshal(def.Schema, &parameters); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
			}
		}
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  parameters,
			},
		})
	}

	rawB, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal tools: %w", err)
	}
	var converted []api.Tool
	if err := json.Unmarshal(rawB, &converted); err != nil {
		return nil, fmt.Errorf("unmarshal to api.Tool: %w", err)
	}
	return converted, nil
}
