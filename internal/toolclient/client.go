// SPDX-License-Identifier: AGPL-3.0-only
package toolclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/mcp-relay/internal/config"
	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/schema"
)

// TransportFactory creates a fresh transport for each connection attempt.
type TransportFactory func(ctx context.Context) (mcp.Transport, error)

// TransportFromConfig builds a TransportFactory for the configured transport.
func TransportFromConfig(cfg config.ToolsConfig) (TransportFactory, error) {
	switch cfg.Transport {
	case "sse":
		return func(context.Context) (mcp.Transport, error) {
			return &mcp.SSEClientTransport{Endpoint: cfg.ServerURL}, nil
		}, nil
	case "streamable":
		return func(context.Context) (mcp.Transport, error) {
			return &mcp.StreamableClientTransport{Endpoint: cfg.ServerURL}, nil
		}, nil
	case "command":
		return func(ctx context.Context) (mcp.Transport, error) {
			// exec.Cmd cannot be reused, so every attempt gets a new one.
			return &mcp.CommandTransport{Command: exec.Command(cfg.Command, cfg.Args...)}, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported tool transport: %s", cfg.Transport)
	}
}

// Client is the long-lived session with the tool-execution service.
type Client struct {
	impl      *mcp.Implementation
	transport TransportFactory
	cfg       config.ToolsConfig
	logger    *logging.Logger

	mu      sync.RWMutex
	session *mcp.ClientSession

	snapshot atomic.Pointer[Snapshot]
	// changed is closed and replaced whenever the snapshot is replaced.
	changedMu sync.Mutex
	changed   chan struct{}
}

// New creates a Client. It does not connect; call Run or Connect.
func New(impl *mcp.Implementation, transport TransportFactory, cfg config.ToolsConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	c := &Client{
		impl:      impl,
		transport: transport,
		cfg:       cfg,
		logger:    logger.WithField("component", "toolclient"),
		changed:   make(chan struct{}),
	}
	c.snapshot.Store(emptySnapshot())
	return c
}

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil
}

func (c *Client) currentSession() *mcp.ClientSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Connect establishes a session and runs discovery once.
func (c *Client) Connect(ctx context.Context) error {
	tp, err := c.transport(ctx)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	cli := mcp.NewClient(c.impl, nil)
	session, err := cli.Connect(ctx, tp, nil)
	if err != nil {
		return fmt.Errorf("connect to tool service: %w", err)
	}

	c.mu.Lock()
	old := c.session
	c.session = session
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	if _, err := c.Discover(ctx); err != nil {
		c.logger.Warnf("Discovery after connect failed: %v", err)
	}
	return nil
}

// Run keeps the session alive until ctx is cancelled, reconnecting with
// capped exponential backoff whenever the connection drops. With
// MaxReconnectAttempts > 0 it gives up after that many consecutive failures.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if c.cfg.MaxReconnectAttempts > 0 && failures >= c.cfg.MaxReconnectAttempts {
				return fmt.Errorf("giving up after %d connection attempts: %w", failures, err)
			}
			delay := c.backoff(failures)
			c.logger.Warnf("Tool service unavailable (attempt %d), retrying in %s: %v", failures, delay, err)
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		failures = 0
		snap := c.Snapshot()
		c.logger.Infof("Connected to tool service %s %s with %d tools", snap.ServerInfo.Name, snap.ServerInfo.Version, len(snap.Tools))

		session := c.currentSession()
		waitErr := make(chan error, 1)
		go func() { waitErr <- session.Wait() }()

		select {
		case <-ctx.Done():
			c.drop(session)
			return ctx.Err()
		case err := <-waitErr:
			c.drop(session)
			c.logger.Warnf("Tool service connection lost: %v", err)
		}
	}
}

// backoff returns the delay before reconnect attempt n (1-based).
func (c *Client) backoff(n int) time.Duration {
	base := c.cfg.ReconnectBaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := c.cfg.ReconnectMaxDelay
	if maxDelay < base {
		maxDelay = base
	}
	d := base
	for i := 1; i < n && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// drop forgets session if it is still the current one.
func (c *Client) drop(session *mcp.ClientSession) {
	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	c.mu.Unlock()
	_ = session.Close()
}

// Close ends the current session.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// Invoke calls a tool by its service-side name.
//
// Tool-side failures come back as a result with OK false. The error return is
// reserved for an unavailable session, so callers can fail fast instead of
// waiting for a reconnect.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (*model.ToolInvocationResult, error) {
	session := c.currentSession()
	if session == nil {
		return nil, apperrors.Unavailable("toolclient.invoke", nil)
	}

	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	if args == nil {
		args = map[string]any{}
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if stderrors.Is(err, mcp.ErrConnectionClosed) {
			c.drop(session)
			return nil, apperrors.Unavailable("toolclient.invoke", err)
		}
		return model.FailedResult(name, err.Error()), nil
	}
	return resultFromMCP(name, res), nil
}

// resultFromMCP converts a CallToolResult. Structured content wins; otherwise
// text content is decoded as JSON when possible and kept as text if not.
func resultFromMCP(name string, res *mcp.CallToolResult) *model.ToolInvocationResult {
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return model.FailedResult(name, text)
	}

	var payload any
	switch {
	case res.StructuredContent != nil:
		payload = res.StructuredContent
	case text != "":
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			payload = decoded
		} else {
			payload = text
		}
	default:
		payload = map[string]any{}
	}
	return &model.ToolInvocationResult{ToolName: name, OK: true, Payload: payload}
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// rawToolsFromMCP adapts MCP tool metadata to the normalizer's input.
func rawToolsFromMCP(tools []*mcp.Tool) []schema.RawTool {
	out := make([]schema.RawTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, schema.RawTool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return out
}
