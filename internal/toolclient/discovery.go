// SPDX-License-Identifier: AGPL-3.0-only
package toolclient

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/schema"
)

// ResourceInfo describes one resource exposed by the tool service.
type ResourceInfo struct {
	Name        string `json:"name"`
	URI         string `json:"uri"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// PromptInfo describes one prompt exposed by the tool service.
type PromptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ServerInfo identifies the connected tool service.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Snapshot is an immutable discovery result.
type Snapshot struct {
	Tools         []model.ToolDescriptor `json:"tools"`
	Resources     []ResourceInfo         `json:"resources"`
	Prompts       []PromptInfo           `json:"prompts"`
	ServerInfo    ServerInfo             `json:"server_info"`
	DBConnections []string               `json:"db_connections"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Tools:         []model.ToolDescriptor{},
		Resources:     []ResourceInfo{},
		Prompts:       []PromptInfo{},
		DBConnections: []string{},
	}
}

// Snapshot returns the last successful discovery result. It never blocks on
// a discovery in progress and never returns nil.
func (c *Client) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Changed returns a channel closed at the next snapshot replacement.
func (c *Client) Changed() <-chan struct{} {
	c.changedMu.Lock()
	defer c.changedMu.Unlock()
	return c.changed
}

func (c *Client) publish(s *Snapshot) {
	c.snapshot.Store(s)
	c.changedMu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.changedMu.Unlock()
}

// Discover lists tools, resources and prompts, normalizes the tools and
// publishes a new snapshot. Resource, prompt and database-connection
// listings are best-effort; only a tool listing failure fails discovery.
func (c *Client) Discover(ctx context.Context) (*Snapshot, error) {
	session := c.currentSession()
	if session == nil {
		return c.Snapshot(), apperrors.Unavailable("toolclient.discover", nil)
	}

	snap := emptySnapshot()
	snap.UpdatedAt = time.Now()

	var caps *mcp.ServerCapabilities
	if init := session.InitializeResult(); init != nil {
		caps = init.Capabilities
		if init.ServerInfo != nil {
			snap.ServerInfo = ServerInfo{Name: init.ServerInfo.Name, Version: init.ServerInfo.Version}
		}
	}

	var rawTools []*mcp.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return c.Snapshot(), fmt.Errorf("list tools: %w", err)
		}
		rawTools = append(rawTools, tool)
	}
	descs, errs := schema.Normalize(rawToolsFromMCP(rawTools))
	for _, err := range errs {
		c.logger.Warnf("Skipping tool: %v", err)
	}
	snap.Tools = descs

	if caps == nil || caps.Resources != nil {
		for r, err := range session.Resources(ctx, nil) {
			if err != nil {
				c.logger.Warnf("Failed to list resources: %v", err)
				break
			}
			snap.Resources = append(snap.Resources, ResourceInfo{Name: r.Name, URI: r.URI, Description: r.Description, MIMEType: r.MIMEType})
		}
	}
	if caps == nil || caps.Prompts != nil {
		for p, err := range session.Prompts(ctx, nil) {
			if err != nil {
				c.logger.Warnf("Failed to list prompts: %v", err)
				break
			}
			snap.Prompts = append(snap.Prompts, PromptInfo{Name: p.Name, Description: p.Description})
		}
	}

	snap.DBConnections = c.discoverDBConnections(ctx, snap.Tools)

	c.publish(snap)
	return snap, nil
}

// discoverDBConnections calls the configured listing tool, if the service
// exposes it, and extracts connection names.
func (c *Client) discoverDBConnections(ctx context.Context, tools []model.ToolDescriptor) []string {
	if c.cfg.DBConnectionsTool == "" {
		return []string{}
	}
	desc, ok := schema.Lookup(tools, c.cfg.DBConnectionsTool)
	if !ok {
		return []string{}
	}
	res, err := c.Invoke(ctx, desc.Source, nil)
	if err != nil {
		c.logger.Warnf("Failed to list database connections: %v", err)
		return []string{}
	}
	if !res.OK {
		c.logger.Warnf("Listing database connections failed: %s", res.Error)
		return []string{}
	}
	return ConnectionNames(res.Payload)
}

// ConnectionNames extracts connection names from the shapes the listing
// tool is known to return: {"connections": [...]}, {"result": [...]} or a
// bare list, whose items are names or objects with a "name" field.
func ConnectionNames(payload any) []string {
	var items []any
	switch p := payload.(type) {
	case []any:
		items = p
	case map[string]any:
		for _, key := range []string{"connections", "result", "data"} {
			if list, ok := p[key].([]any); ok {
				items = list
				break
			}
		}
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			names = append(names, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
