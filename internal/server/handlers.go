// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/mcp-relay/internal/agent"
	"github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/model"
)

const (
	askTimeout         = 5 * time.Minute
	defaultRecentLimit = 20
	mcpSessionIDPrefix = "mcp-"
)

// extractParams extracts parameters from a tool request
func extractParams(request *mcp.CallToolRequest, params interface{}) error {
	raw := request.Params.Arguments
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return errors.InvalidInput(fmt.Sprintf("invalid parameters: %v", err))
	}
	return nil
}

// createJSONResponse wraps v as a single JSON text content
func createJSONResponse(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to marshal response: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil
}

// createSuccessResponse creates a success response
func createSuccessResponse(message string) (*mcp.CallToolResult, error) {
	return createJSONResponse(map[string]interface{}{
		"success": true,
		"message": message,
	})
}

// createErrorResponse creates an error response
func createErrorResponse(err error) (*mcp.CallToolResult, error) {
	// The error goes back as the second value so the SDK reports it as a
	// protocol-level tool error.
	return nil, err
}

// handleAsk runs one turn and returns the collected answer
func (s *Server) handleAsk(ctx context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params AskParams
	if err := extractParams(request, &params); err != nil {
		return createErrorResponse(err)
	}
	if params.Text == "" {
		return createErrorResponse(errors.InvalidInput("text is required"))
	}
	if s.deps.Manager == nil {
		return createErrorResponse(errors.Internal(fmt.Errorf("no session manager configured")))
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = mcpSessionIDPrefix + uuid.NewString()
	}

	in := model.InboundTurn{
		Text:        params.Text,
		UseMCP:      params.UseTools == nil || *params.UseTools,
		LLMProvider: params.Provider,
	}
	if params.Model != "" {
		in.LLMModel = &params.Model
	}
	if params.DBConnection != "" {
		in.DBConnectionName = &params.DBConnection
	}

	// A failed turn still returns the partial answer; the error text is in it.
	ans, err := agent.Ask(ctx, s.deps.Manager, sessionID, in, askTimeout)
	if err != nil {
		s.logger.Warnf("ask on session %s failed: %v", sessionID, err)
	}
	res, rerr := createJSONResponse(ans)
	if rerr != nil {
		return nil, rerr
	}
	res.IsError = err != nil
	return res, nil
}

func (s *Server) handleListTools(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return createJSONResponse(s.toolSnapshot().Tools)
}

func (s *Server) handleListModels(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return createJSONResponse(s.deps.Capabilities.Load().Models)
}

// handleRecentInvocations reads the tool invocation journal
func (s *Server) handleRecentInvocations(_ context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params InvocationParams
	if err := extractParams(request, &params); err != nil {
		return createErrorResponse(err)
	}
	records, err := s.recentInvocations(params.SessionID, params.Limit)
	if err != nil {
		return createErrorResponse(err)
	}
	return createJSONResponse(records)
}

func (s *Server) handleCloseSession(_ context.Context, request *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params SessionParams
	if err := extractParams(request, &params); err != nil {
		return createErrorResponse(err)
	}
	if params.SessionID == "" {
		return createErrorResponse(errors.InvalidInput("session_id is required"))
	}
	if s.deps.Manager == nil || !s.deps.Manager.Close(params.SessionID) {
		return createErrorResponse(errors.NotFound("session", params.SessionID))
	}
	return createSuccessResponse(fmt.Sprintf("Session %s closed", params.SessionID))
}

func (s *Server) recentInvocations(sessionID string, limit int) ([]*model.InvocationRecord, error) {
	if s.deps.Journal == nil {
		return nil, fmt.Errorf("the invocation journal is disabled: %w", errors.ErrNotFound)
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	records, err := s.deps.Journal.RecentInvocations(sessionID, limit)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("failed to read journal: %w", err))
	}
	if records == nil {
		records = []*model.InvocationRecord{}
	}
	return records, nil
}
