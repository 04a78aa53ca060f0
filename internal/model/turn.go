// SPDX-License-Identifier: AGPL-3.0-only
package model

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is a single provider-agnostic conversation message.
//
// A RoleTool turn carries both the call that produced it (ToolCall) and the
// formatted result (Content). Provider adapters expand it into whatever pair
// of wire messages their API expects (an assistant tool-use request followed
// by the tool result).
type Turn struct {
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCall   *ToolCallIntent `json:"tool_call,omitempty"`
	// Preamble is the text the model streamed in the same response before
	// requesting ToolCall. It belongs to the assistant side of the pair.
	Preamble string `json:"preamble,omitempty"`
}

// CloneTurns returns a shallow copy of turns that can be appended to without
// touching the original backing array.
func CloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
