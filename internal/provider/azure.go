// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"iter"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/schema"
)

// AzureProvider implements Provider against an Azure OpenAI deployment.
type AzureProvider struct {
	client     *azopenai.Client
	deployment string
	maxTokens  int32
	retry      RetryPolicy
	logger     *logging.Logger
}

// NewAzureProvider creates an Azure OpenAI Provider for one deployment.
func NewAzureProvider(endpoint, apiKey, deployment string, maxTokens int, retry RetryPolicy, logger *logging.Logger) (*AzureProvider, error) {
	opts := &azopenai.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			// Retries are handled by RetryPolicy, not the SDK.
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), opts)
	if err != nil {
		return nil, fmt.Errorf("create Azure OpenAI client: %w", err)
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &AzureProvider{
		client:     client,
		deployment: deployment,
		maxTokens:  int32(maxTokens),
		retry:      retry,
		logger:     logger.WithField("provider", "azure"),
	}, nil
}

func (p *AzureProvider) Name() string { return "azure" }

// ListModels returns the configured deployment; Azure OpenAI has no
// data-plane model listing.
func (p *AzureProvider) ListModels(ctx context.Context) ([]string, error) {
	if p.deployment == "" {
		return []string{}, nil
	}
	return []string{p.deployment}, nil
}

func (p *AzureProvider) StreamChat(ctx context.Context, req ChatRequest) iter.Seq[model.ChatEvent] {
	deployment := req.Model
	if deployment == "" {
		deployment = p.deployment
	}
	opts := azopenai.ChatCompletionsStreamOptions{
		DeploymentName: to.Ptr(deployment),
		Messages:       toAzureMessages(req.History),
	}
	if p.maxTokens > 0 {
		opts.MaxTokens = to.Ptr(p.maxTokens)
	}
	if len(req.Tools) > 0 {
		opts.Tools = toAzureTools(req.Tools)
	}
	if req.Temperature != nil {
		opts.Temperature = to.Ptr(float32(*req.Temperature))
	}

	return p.retry.stream(ctx, "azure", p.logger, func(ctx context.Context, yield func(model.ChatEvent) bool) error {
		return p.streamOnce(ctx, opts, yield)
	})
}

func (p *AzureProvider) streamOnce(ctx context.Context, opts azopenai.ChatCompletionsStreamOptions, yield func(model.ChatEvent) bool) error {
	resp, err := p.client.GetChatCompletionsStream(ctx, opts, nil)
	if err != nil {
		return classify("azure.stream", azureStatus(err), err)
	}
	defer resp.ChatCompletionsStream.Close()

	asm := NewToolCallAssembler()
	for {
		chunk, err := resp.ChatCompletionsStream.Read()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classify("azure.stream", azureStatus(err), err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta != nil {
				if choice.Delta.Content != nil && *choice.Delta.Content != "" {
					if !yield(textEvent(*choice.Delta.Content)) {
						return errStopped
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					fn, ok := tc.(*azopenai.ChatCompletionsFunctionToolCall)
					if !ok || fn.Function == nil {
						continue
					}
					asm.Add(ToolCallDelta{
						ID:        deref(fn.ID),
						Name:      deref(fn.Function.Name),
						Arguments: deref(fn.Function.Arguments),
					})
				}
			}
			if choice.FinishReason != nil {
				if !emitCalls(asm.Flush(), yield) {
					return errStopped
				}
			}
		}
	}
	if !emitCalls(asm.Flush(), yield) {
		return errStopped
	}
	if !yield(doneEvent()) {
		return errStopped
	}
	return nil
}

func azureStatus(err error) int {
	var respErr *azcore.ResponseError
	if stderrors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toAzureTools(tools []model.ToolDescriptor) []azopenai.ChatCompletionsToolDefinitionClassification {
	out := make([]azopenai.ChatCompletionsToolDefinitionClassification, 0, len(tools))
	for _, t := range tools {
		params, err := json.Marshal(schema.JSONSchema(t))
		if err != nil {
			continue
		}
		out = append(out, &azopenai.ChatCompletionsFunctionToolDefinition{
			Type: to.Ptr("function"),
			Function: &azopenai.ChatCompletionsFunctionToolDefinitionFunction{
				Name:        to.Ptr(t.Name),
				Description: to.Ptr(t.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func toAzureMessages(history []model.Turn) []azopenai.ChatRequestMessageClassification {
	out := make([]azopenai.ChatRequestMessageClassification, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case model.RoleSystem:
			out = append(out, &azopenai.ChatRequestSystemMessage{
				Content: azopenai.NewChatRequestSystemMessageContent(t.Content),
			})
		case model.RoleUser:
			out = append(out, &azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(t.Content),
			})
		case model.RoleTool:
			if t.ToolCall == nil {
				out = append(out, &azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(t.Content),
				})
				continue
			}
			asst := &azopenai.ChatRequestAssistantMessage{
				ToolCalls: []azopenai.ChatCompletionsToolCallClassification{
					&azopenai.ChatCompletionsFunctionToolCall{
						ID:   to.Ptr(t.ToolCall.ID),
						Type: to.Ptr("function"),
						Function: &azopenai.FunctionCall{
							Name:      to.Ptr(t.ToolCall.Name),
							Arguments: to.Ptr(argumentsOrEmpty(t.ToolCall.RawArguments)),
						},
					},
				},
			}
			if t.Preamble != "" {
				asst.Content = azopenai.NewChatRequestAssistantMessageContent(t.Preamble)
			}
			out = append(out,
				asst,
				&azopenai.ChatRequestToolMessage{
					Content:    azopenai.NewChatRequestToolMessageContent(t.Content),
					ToolCallID: to.Ptr(t.ToolCall.ID),
				},
			)
		default:
			out = append(out, &azopenai.ChatRequestAssistantMessage{
				Content: azopenai.NewChatRequestAssistantMessageContent(t.Content),
			})
		}
	}
	return out
}
