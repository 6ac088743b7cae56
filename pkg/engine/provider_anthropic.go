package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      zerolog.Logger
}

// Anthropic implements Generator over the Anthropic Messages API.
type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	log         zerolog.Logger
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	return &Anthropic{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         cfg.Logger,
	}, nil
}

// Provider returns the provider name.
func (p *Anthropic) Provider() string {
	return "anthropic"
}

// Generate makes one Messages API call. The reply is not streamed; the
// full text is delivered to sink as a single chunk.
func (p *Anthropic) Generate(ctx context.Context, messages []chat.Message, tools []tool.Definition, sink StreamSink) (chat.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  toAnthropicMessages(messages),
		MaxTokens: int64(p.maxTokens),
	}

	// System turns ride in a dedicated request field, not the message list.
	if system := systemPrompt(messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if p.temperature > 0 {
		params.Temperature = anthropic.Float(p.temperature)
	}

	if len(tools) > 0 {
		anthropicTools, err := toAnthropicTools(tools)
		if err != nil {
			return chat.Message{}, err
		}
		params.Tools = anthropicTools
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return chat.Message{}, fmt.Errorf("anthropic call failed: %w", err)
	}

	reply := chat.Message{Role: chat.RoleAssistant}
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			reply.Content += b.Text
		case anthropic.ToolUseBlock:
			reply.ToolCalls = append(reply.ToolCalls, chat.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: b.JSON.Input.Raw(),
			})
		}
	}

	p.log.Debug().
		Int64("input_tokens", response.Usage.InputTokens).
		Int64("output_tokens", response.Usage.OutputTokens).
		Int("tool_calls", len(reply.ToolCalls)).
		Msg("Anthropic completion finished")

	if sink != nil && reply.Content != "" {
		sink(reply.Content)
	}

	return reply, nil
}

func toAnthropicMessages(messages []chat.Message) []anthropic.MessageParam {
	converted := []anthropic.MessageParam{}

	for _, msg := range messages {
		switch {
		case msg.Role == chat.RoleSystem:
			continue

		case msg.Role == chat.RoleTool:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		case msg.Role == chat.RoleAssistant && msg.HasToolCalls():
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, json.RawMessage(tc.Arguments), tc.Name))
			}
			converted = append(converted, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case msg.Role == chat.RoleAssistant:
			converted = append(converted, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})

		default:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return converted
}

func toAnthropicTools(tools []tool.Definition) ([]anthropic.ToolUnionParam, error) {
	converted := []anthropic.ToolUnionParam{}

	for _, def := range tools {
		var schema struct {
			Properties map[string]interface{} `json:"properties"`
			Required   []string               `json:"required"`
		}
		if len(def.Schema) > 0 {
			if err := json.Unmarshal(def.Schema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
			}
		}

		converted = append(converted, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}

	return converted, nil
}

func systemPrompt(messages []chat.Message) string {
	for _, msg := range messages {
		if msg.Role == chat.RoleSystem {
			return msg.Content
		}
	}
	return ""
}
