// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"context"
	"reflect"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolDefinition represents a tool the relay exposes on its own MCP endpoint
type ToolDefinition struct {
	// Name is the name of the tool
	Name string

	// Description is a brief description of what the tool does
	Description string

	// Handler is the function that will be called when the tool is invoked
	Handler func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error)

	// Parameters is the parameter schema for the tool (can be a struct)
	Parameters interface{}
}

// AskParams are the arguments of the ask tool
type AskParams struct {
	Text         string `json:"text" description:"the user message to send to the model"`
	SessionID    string `json:"session_id,omitempty" description:"conversation to continue; a new one is started when empty"`
	Provider     string `json:"provider,omitempty" description:"language-model provider (openai, anthropic, ollama, azure)"`
	Model        string `json:"model,omitempty" description:"model name; the provider default is used when empty"`
	DBConnection string `json:"db_connection,omitempty" description:"database connection the tools should target"`
	UseTools     *bool  `json:"use_tools,omitempty" description:"attach the discovered tools (default true)"`
}

// InvocationParams are the arguments of the recent_invocations tool
type InvocationParams struct {
	SessionID string `json:"session_id,omitempty" description:"restrict to one conversation"`
	Limit     int    `json:"limit,omitempty" description:"maximum number of records (default 20)"`
}

// SessionParams identify a conversation
type SessionParams struct {
	SessionID string `json:"session_id" description:"the conversation to close"`
}

// registerTools sets up the relay's own MCP tools
func (s *Server) registerTools() {
	tools := []ToolDefinition{
		{
			Name:        "ask",
			Description: "Sends a message to a language model that may call the discovered tools, and returns the final answer together with the tool calls it made.",
			Handler:     s.handleAsk,
			Parameters:  AskParams{},
		},
		{
			Name:        "list_tools",
			Description: "Lists the normalized tool catalog discovered from the tool-execution service",
			Handler:     s.handleListTools,
			Parameters:  struct{}{},
		},
		{
			Name:        "list_models",
			Description: "Lists the models available per configured provider",
			Handler:     s.handleListModels,
			Parameters:  struct{}{},
		},
		{
			Name:        "recent_invocations",
			Description: "Returns the most recent tool invocations from the journal, newest first",
			Handler:     s.handleRecentInvocations,
			Parameters:  InvocationParams{},
		},
		{
			Name:        "close_session",
			Description: "Discards a conversation and its history",
			Handler:     s.handleCloseSession,
			Parameters:  SessionParams{},
		},
	}

	for _, tool := range tools {
		registerTool(s.mcp, tool)
	}
}

// registerTool registers a tool with the MCP server
func registerTool(srv *mcp.Server, def ToolDefinition) {
	tool := &mcp.Tool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: buildSchema(def.Parameters),
	}
	srv.AddTool(tool, def.Handler)
}

// buildSchema converts a Go struct with json and description tags into a JSON Schema object
func buildSchema(params interface{}) map[string]interface{} {
	t := reflect.TypeOf(params)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	properties := map[string]interface{}{}
	var required []string

	collectFields(t, properties, &required)

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// collectFields extracts JSON schema properties from struct fields,
// recursing into embedded (anonymous) structs.
func collectFields(t reflect.Type, properties map[string]interface{}, required *[]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectFields(field.Type, properties, required)
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		parts := strings.Split(jsonTag, ",")
		fieldName := parts[0]
		omitempty := false
		for _, p := range parts[1:] {
			if p == "omitempty" {
				omitempty = true
			}
		}

		prop := map[string]interface{}{
			"type": goTypeToJSONType(field.Type),
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		properties[fieldName] = prop

		if !omitempty {
			*required = append(*required, fieldName)
		}
	}
}

// goTypeToJSONType maps Go types to JSON Schema types
func goTypeToJSONType(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}
