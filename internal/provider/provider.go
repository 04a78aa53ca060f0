// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"context"
	"iter"

	"github.com/jolks/mcp-relay/internal/model"
)

// ChatRequest is one streaming chat-completion call.
type ChatRequest struct {
	Model string
	// History starts with the system turn.
	History []model.Turn
	// Tools is nil for a plain chat call.
	Tools []model.ToolDescriptor
	// ToolChoiceRequired forces the model to call a tool. Ignored without tools.
	ToolChoiceRequired bool
	// Temperature is left to the provider default when nil.
	Temperature *float64
}

// Provider is a language-model backend. Implementations hide every wire
// format difference; callers never branch on the provider identity.
type Provider interface {
	// Name returns the registry name ("openai", "anthropic", ...).
	Name() string

	// ListModels returns the available model identifiers. Failure is
	// reported but callers treat it as best-effort.
	ListModels(ctx context.Context) ([]string, error)

	// StreamChat streams a chat completion. The sequence ends with exactly
	// one ChatDone or ChatError event unless the consumer stops early.
	StreamChat(ctx context.Context, req ChatRequest) iter.Seq[model.ChatEvent]
}

// streamFunc performs one attempt of a streaming call, passing events to
// yield. It returns errStopped when yield asked to stop.
type streamFunc func(ctx context.Context, yield func(model.ChatEvent) bool) error

func textEvent(text string) model.ChatEvent {
	return model.ChatEvent{Type: model.ChatTextDelta, Text: text}
}

func toolCallEvent(call model.ToolCallIntent) model.ChatEvent {
	return model.ChatEvent{Type: model.ChatToolCall, ToolCall: &call}
}

func doneEvent() model.ChatEvent {
	return model.ChatEvent{Type: model.ChatDone}
}

func errorEvent(err error) model.ChatEvent {
	return model.ChatEvent{Type: model.ChatError, Err: err}
}

// emitCalls yields each completed tool call and reports whether the
// consumer wants more.
func emitCalls(calls []model.ToolCallIntent, yield func(model.ChatEvent) bool) bool {
	for _, c := range calls {
		if !yield(toolCallEvent(c)) {
			return false
		}
	}
	return true
}
