// SPDX-License-Identifier: AGPL-3.0-only
package model

import "time"

// ParamType is the closed set of parameter types a ToolDescriptor may declare.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter is one normalized tool argument.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	// Items is the element type when Type is TypeArray.
	Items ParamType `json:"items,omitempty"`
}

// ToolDescriptor is the provider-agnostic description of a tool.
//
// Name is sanitized for provider function-calling limits; Source is the name
// the tool-execution service knows the tool by and is what gets invoked.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Source      string      `json:"source"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
}

// Param returns the named parameter, if declared.
func (d ToolDescriptor) Param(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ToolCallIntent is a complete tool call requested by a model.
type ToolCallIntent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RawArguments string `json:"raw_arguments"`
}

// ToolInvocationResult is the outcome of one tool call. Payload is set when
// OK is true, Error otherwise.
type ToolInvocationResult struct {
	ToolName string `json:"tool_name"`
	OK       bool   `json:"ok"`
	Payload  any    `json:"payload,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FailedResult builds a non-OK result.
func FailedResult(toolName, msg string) *ToolInvocationResult {
	return &ToolInvocationResult{ToolName: toolName, OK: false, Error: msg}
}

// InvocationRecord is one journal entry describing a tool invocation.
type InvocationRecord struct {
	SessionID     string    `json:"session_id"`
	CorrelationID string    `json:"correlation_id"`
	ToolName      string    `json:"tool_name"`
	Arguments     string    `json:"arguments"`
	OK            bool      `json:"ok"`
	Payload       string    `json:"payload,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Duration      string    `json:"duration"`
}

// InvocationJournal persists tool invocation records.
type InvocationJournal interface {
	SaveInvocation(rec *InvocationRecord) error
	RecentInvocations(sessionID string, limit int) ([]*InvocationRecord, error)
	Close() error
}
