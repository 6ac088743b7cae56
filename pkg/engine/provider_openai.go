package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/mika/saker/pkg/chat"
	"github.com/mika/saker/pkg/tool"
)

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      zerolog.Logger
}

// OpenAI implements Generator over the OpenAI chat completions API. A
// BaseURL override points it at any compatible endpoint.
type OpenAI struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
	log         zerolog.Logger
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         cfg.Logger,
	}, nil
}

// Provider returns the provider name.
func (p *OpenAI) Provider() string {
	return "openai"
}

// Generate makes one chat completions call. The reply is not streamed;
// the full text is delivered to sink as a single chunk.
func (p *OpenAI) Generate(ctx context.Context, messages []chat.Message, tools []tool.Definition, sink StreamSink) (chat.Message, error) {
	converted, err := toOpenAIMessages(messages)
	if err != nil {
		return chat.Message{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: converted,
	}

	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}

	if len(tools) > 0 {
		openaiTools, err := toOpenAITools(tools)
		if err != nil {
			return chat.Message{}, err
		}
		params.Tools = openaiTools
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return chat.Message{}, fmt.Errorf("openai call failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return chat.Message{}, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	reply := chat.Message{
		Role:    chat.RoleAssistant,
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, chat.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	p.log.Debug().
		Int64("input_tokens", response.Usage.PromptTokens).
		Int64("output_tokens", response.Usage.CompletionTokens).
		Int("tool_calls", len(reply.ToolCalls)).
		Msg("OpenAI completion finished")

	if sink != nil && reply.Content != "" {
		sink(reply.Content)
	}

	return reply, nil
}

func toOpenAIMessages(messages []chat.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	converted := []openai.ChatCompletionMessageParamUnion{}

	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Content))

		case chat.RoleUser:
			converted = append(converted, openai.UserMessage(msg.Content))

		case chat.RoleAssistant:
			if !msg.HasToolCalls() {
				converted = append(converted, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := []openai.ChatCompletionMessageToolCall{}
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			converted = append(converted, assistant.ToParam())

		case chat.RoleTool:
			converted = append(converted, openai.ToolMessage(msg.ToolCallID, msg.Content))

		default:
			return nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	return converted, nil
}

func toOpenAITools(tools []tool.Definition) ([]openai.ChatCompletionToolParam, error) {
	converted := []openai.ChatCompletionToolParam{}

	for _, def := range tools {
		parameters := map[string]interface{}{}
		if len(def.Schema) > 0 {
			if err := json.Unmarshal(def.Schema, &parameters); err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
			}
		}

		converted = append(converted, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(parameters),
			},
		})
	}

	return converted, nil
}
