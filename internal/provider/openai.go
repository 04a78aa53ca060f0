// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"context"
	stderrors "errors"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/schema"
)

// OpenAIProvider implements Provider using the OpenAI SDK.
// It supports any OpenAI-compatible endpoint (OpenAI, Ollama, vLLM, Groq, etc.)
// via a configurable base URL.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	retry  RetryPolicy
	logger *logging.Logger
}

// NewOpenAIProvider creates a new OpenAI-backed Provider registered under
// name. If baseURL is non-empty it overrides the default API endpoint.
func NewOpenAIProvider(name, apiKey, baseURL string, retry RetryPolicy, logger *logging.Logger) *OpenAIProvider {
	// Retries are handled by RetryPolicy, not the SDK.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &OpenAIProvider{
		name:   name,
		client: &client,
		retry:  retry,
		logger: logger.WithField("provider", name),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// ListModels returns the model ids the endpoint reports.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return []string{}, classify(p.name+".list_models", openAIStatus(err), err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, req ChatRequest) iter.Seq[model.ChatEvent] {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.History),
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
		if req.ToolChoiceRequired {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(string(openai.ChatCompletionToolChoiceOptionAutoRequired)),
			}
		}
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	return p.retry.stream(ctx, p.name, p.logger, func(ctx context.Context, yield func(model.ChatEvent) bool) error {
		return p.streamOnce(ctx, params, yield)
	})
}

func (p *OpenAIProvider) streamOnce(ctx context.Context, params openai.ChatCompletionNewParams, yield func(model.ChatEvent) bool) error {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	asm := NewToolCallAssembler()
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !yield(textEvent(choice.Delta.Content)) {
					return errStopped
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				asm.Add(ToolCallDelta{
					Index:     int(tc.Index),
					HasIndex:  tc.JSON.Index.Valid(),
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if choice.FinishReason != "" {
				if !emitCalls(asm.Flush(), yield) {
					return errStopped
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return classify(p.name+".stream", openAIStatus(err), err)
	}
	// Some compatible servers close the stream without a finish reason.
	if !emitCalls(asm.Flush(), yield) {
		return errStopped
	}
	if !yield(doneEvent()) {
		return errStopped
	}
	return nil
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// toOpenAITools converts tool descriptors to the OpenAI SDK representation.
func toOpenAITools(tools []model.ToolDescriptor) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(schema.JSONSchema(t)),
			},
		}
	}
	return out
}

// toOpenAIMessages converts history to OpenAI SDK message unions. A tool
// turn expands into the assistant tool-call message and the tool result.
func toOpenAIMessages(history []model.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(t.Content))
		case model.RoleUser:
			out = append(out, openai.UserMessage(t.Content))
		case model.RoleTool:
			if t.ToolCall == nil {
				out = append(out, openai.UserMessage(t.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID: t.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      t.ToolCall.Name,
						Arguments: argumentsOrEmpty(t.ToolCall.RawArguments),
					},
				}},
			}
			if t.Preamble != "" {
				asst.Content.OfString = openai.String(t.Preamble)
			}
			out = append(out,
				openai.ChatCompletionMessageParamUnion{OfAssistant: &asst},
				openai.ToolMessage(t.Content, t.ToolCall.ID),
			)
		default: // assistant
			asst := openai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = openai.String(t.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func argumentsOrEmpty(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}
