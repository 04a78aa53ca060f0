// SPDX-License-Identifier: AGPL-3.0-only
package model

// ChatEventType enumerates what a provider stream can yield.
type ChatEventType int

const (
	ChatTextDelta ChatEventType = iota
	ChatToolCall
	ChatDone
	ChatError
)

func (t ChatEventType) String() string {
	switch t {
	case ChatTextDelta:
		return "text_delta"
	case ChatToolCall:
		return "tool_call"
	case ChatDone:
		return "done"
	case ChatError:
		return "error"
	default:
		return "unknown"
	}
}

// ChatEvent is one element of a provider stream. Exactly one of Text,
// ToolCall or Err is meaningful, depending on Type.
type ChatEvent struct {
	Type     ChatEventType
	Text     string
	ToolCall *ToolCallIntent
	Err      error
}

// EventType is the transport-facing event discriminator.
type EventType string

const (
	EventResponse   EventType = "response"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventError      EventType = "error"
	EventDebug      EventType = "debug"
)

// Event is what the orchestrator hands to the transport. It marshals to
// {"type": ..., "message": ...}.
type Event struct {
	Type    EventType `json:"type"`
	Message any       `json:"message"`
}

// ToolCallMessage is the payload of a tool-call event.
type ToolCallMessage struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResultMessage is the payload of a tool-result event. Result holds the
// raw structured output; Error is set when the call failed.
type ToolResultMessage struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// InboundTurn is one user message received from the transport.
type InboundTurn struct {
	Text             string  `json:"text"`
	UseMCP           bool    `json:"use_mcp"`
	LLMProvider      string  `json:"llm_provider"`
	LLMModel         *string `json:"llm_model"`
	DBConnectionName *string `json:"db_connection_name"`
}

// Model returns the requested model or "" when none was given.
func (in InboundTurn) Model() string {
	if in.LLMModel == nil {
		return ""
	}
	return *in.LLMModel
}

// DBConnection returns the requested database connection or "" for none.
func (in InboundTurn) DBConnection() string {
	if in.DBConnectionName == nil {
		return ""
	}
	return *in.DBConnectionName
}
