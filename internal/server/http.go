// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

// UIConfig is the body of GET /api/ui-config.
type UIConfig struct {
	ServerName      string                    `json:"server_name"`
	MCPVersion      string                    `json:"mcp_version"`
	Tools           []model.ToolDescriptor    `json:"tools"`
	Resources       []toolclient.ResourceInfo `json:"resources"`
	Prompts         []toolclient.PromptInfo   `json:"prompts"`
	DBConnections   []string                  `json:"db_connections"`
	Models          map[string][]string       `json:"models"`
	Providers       []string                  `json:"providers"`
	DefaultProvider string                    `json:"default_provider"`
}

// Health is the body of GET /health.
type Health struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	model.InboundTurn
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// toolsReady reports whether the tool session is usable. A relay without a
// tool service is always ready.
func (s *Server) toolsReady() bool {
	return s.deps.Tools == nil || s.deps.Tools.Connected()
}

func (s *Server) toolSnapshot() *toolclient.Snapshot {
	var snap *toolclient.Snapshot
	if s.deps.Tools != nil {
		snap = s.deps.Tools.Snapshot()
	}
	if snap == nil {
		snap = s.deps.Capabilities.Load().Tools
	}
	if snap == nil {
		snap = &toolclient.Snapshot{}
	}
	return snap
}

func (s *Server) providerNames() []string {
	if s.deps.Providers == nil {
		return []string{}
	}
	return s.deps.Providers.Names()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	providers := s.providerNames()
	details := map[string]any{
		"providers":       providers,
		"tools_enabled":   s.deps.Tools != nil,
		"tools_connected": s.deps.Tools != nil && s.deps.Tools.Connected(),
		"journal_enabled": s.deps.Journal != nil,
	}
	if s.deps.Manager != nil {
		details["sessions"] = s.deps.Manager.Len()
	}

	status, code := "ok", http.StatusOK
	if !s.toolsReady() || len(providers) == 0 {
		status, code = "error", http.StatusServiceUnavailable
	}
	writeJSON(w, code, Health{Status: status, Details: details})
}

func (s *Server) handleUIConfig(w http.ResponseWriter, r *http.Request) {
	if !s.toolsReady() {
		writeError(w, http.StatusServiceUnavailable, "tool session is not ready")
		return
	}

	snap := s.toolSnapshot()
	models := s.deps.Capabilities.Load().Models
	if models == nil {
		models = map[string][]string{}
	}

	writeJSON(w, http.StatusOK, UIConfig{
		ServerName:      snap.ServerInfo.Name,
		MCPVersion:      snap.ServerInfo.Version,
		Tools:           nonNil(snap.Tools),
		Resources:       nonNil(snap.Resources),
		Prompts:         nonNil(snap.Prompts),
		DBConnections:   nonNil(snap.DBConnections),
		Models:          models,
		Providers:       s.providerNames(),
		DefaultProvider: s.cfg.AI.DefaultProvider,
	})
}

// handleChat runs one turn and streams its events as newline-delimited
// JSON, flushing after every event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeError(w, http.StatusServiceUnavailable, "no session manager configured")
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-ID", req.SessionID)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for ev := range s.deps.Manager.HandleTurn(r.Context(), req.SessionID, req.InboundTurn) {
		if err := enc.Encode(ev); err != nil {
			s.logger.Debugf("chat stream for session %s closed: %v", req.SessionID, err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	records, err := s.recentInvocations(r.URL.Query().Get("session_id"), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func statusFor(err error) int {
	switch {
	case stderrors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
