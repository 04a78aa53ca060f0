// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"iter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/schema"
)

// AnthropicProvider implements Provider using the Anthropic SDK.
type AnthropicProvider struct {
	client    *anthropic.Client
	maxTokens int64
	retry     RetryPolicy
	logger    *logging.Logger
}

// NewAnthropicProvider creates a new Anthropic-backed Provider. baseURL is
// optional.
func NewAnthropicProvider(apiKey, baseURL string, maxTokens int, retry RetryPolicy, logger *logging.Logger) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &AnthropicProvider{
		client:    &client,
		maxTokens: int64(maxTokens),
		retry:     retry,
		logger:    logger.WithField("provider", "anthropic"),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return []string{}, classify("anthropic.list_models", anthropicStatus(err), err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (p *AnthropicProvider) StreamChat(ctx context.Context, req ChatRequest) iter.Seq[model.ChatEvent] {
	withTools := len(req.Tools) > 0
	system, msgs := toAnthropicMessages(req.History, withTools)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: p.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if withTools {
		params.Tools = toAnthropicTools(req.Tools)
		if req.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	return p.retry.stream(ctx, "anthropic", p.logger, func(ctx context.Context, yield func(model.ChatEvent) bool) error {
		return p.streamOnce(ctx, params, yield)
	})
}

func (p *AnthropicProvider) streamOnce(ctx context.Context, params anthropic.MessageNewParams, yield func(model.ChatEvent) bool) error {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	asm := NewToolCallAssembler()
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				asm.Add(ToolCallDelta{
					Index:    int(event.Index),
					HasIndex: true,
					ID:       event.ContentBlock.ID,
					Name:     event.ContentBlock.Name,
				})
			}
		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" && !yield(textEvent(event.Delta.Text)) {
					return errStopped
				}
			case "input_json_delta":
				asm.Add(ToolCallDelta{Index: int(event.Index), HasIndex: true, Arguments: event.Delta.PartialJSON})
			}
		case "content_block_stop":
			if call, ok := asm.Complete(int(event.Index)); ok {
				if !yield(toolCallEvent(call)) {
					return errStopped
				}
			}
		case "message_stop":
			if !emitCalls(asm.Flush(), yield) {
				return errStopped
			}
		}
	}
	if err := stream.Err(); err != nil {
		return classify("anthropic.stream", anthropicStatus(err), err)
	}
	if !emitCalls(asm.Flush(), yield) {
		return errStopped
	}
	if !yield(doneEvent()) {
		return errStopped
	}
	return nil
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// toAnthropicTools converts tool descriptors to Anthropic SDK tool params.
func toAnthropicTools(tools []model.ToolDescriptor) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		js := schema.JSONSchema(t)
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: js["properties"],
					Required:   schema.RequiredParams(t),
				},
			},
		}
	}
	return out
}

// toAnthropicMessages splits off the system turn and converts the rest.
//
// Anthropic rejects tool_use and tool_result blocks in a request that defines
// no tools, so without tools a tool turn is rendered as plain text.
func toAnthropicMessages(history []model.Turn, withTools bool) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case model.RoleSystem:
			system = t.Content
		case model.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		case model.RoleAssistant:
			if t.Content == "" {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		case model.RoleTool:
			if t.ToolCall == nil {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
				continue
			}
			if !withTools {
				calling := fmt.Sprintf("Calling tool %s with arguments %s", t.ToolCall.Name, argumentsOrEmpty(t.ToolCall.RawArguments))
				if t.Preamble != "" {
					calling = t.Preamble + "\n\n" + calling
				}
				out = append(out,
					anthropic.NewAssistantMessage(anthropic.NewTextBlock(calling)),
					anthropic.NewUserMessage(anthropic.NewTextBlock(
						fmt.Sprintf("Result of tool %s:\n%s", t.ToolCall.Name, t.Content))),
				)
				continue
			}
			var blocks []anthropic.ContentBlockParamUnion
			if t.Preamble != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Preamble))
			}
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    t.ToolCall.ID,
					Name:  t.ToolCall.Name,
					Input: json.RawMessage(argumentsOrEmpty(t.ToolCall.RawArguments)),
				},
			})
			out = append(out,
				anthropic.NewAssistantMessage(blocks...),
				anthropic.NewUserMessage(anthropic.NewToolResultBlock(t.ToolCall.ID, t.Content, false)),
			)
		}
	}
	return system, out
}
