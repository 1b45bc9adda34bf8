// Package openai adapts the OpenAI Chat Completions API (including
// function/tool calling) to the generic model.Model interface.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentcouncil/model"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI model adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model using a non-streaming completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Operations) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Operations))
		for i, op := range req.Operations {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        op.Name,
					Description: openai.String(op.Description),
					Parameters:  op.Parameters,
				},
			}
		}
		params.Tools = tools
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	out := &model.Response{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Calls = append(out.Calls, model.OperationCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// buildMessages converts normalized messages into OpenAI chat messages,
// keeping tool responses adjacent to the assistant calls that produced them.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Text))
		case "assistant":
			if len(msg.Calls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Text))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.Calls))
			for i, call := range msg.Calls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Text, msg.CallID))
		default:
			messages = append(messages, openai.UserMessage(msg.Text))
		}
	}
	return messages
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
