// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jolks/mcp-relay/internal/model"
)

// Answer is the collected outcome of a turn run to completion.
type Answer struct {
	SessionID   string                    `json:"session_id"`
	Text        string                    `json:"text"`
	ToolCalls   []model.ToolCallMessage   `json:"tool_calls,omitempty"`
	ToolResults []model.ToolResultMessage `json:"tool_results,omitempty"`
	Debug       []string                  `json:"debug,omitempty"`
	Error       string                    `json:"error,omitempty"`
	StartTime   time.Time                 `json:"start_time"`
	EndTime     time.Time                 `json:"end_time"`
	Duration    string                    `json:"duration"`
}

// Ask runs one turn on the manager with a timeout and collects every event
// into an Answer. The returned error mirrors Answer.Error.
func Ask(ctx context.Context, m *Manager, sessionID string, in model.InboundTurn, timeout time.Duration) (*Answer, error) {
	ans := &Answer{SessionID: sessionID, StartTime: time.Now()}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var text strings.Builder
	for ev := range m.HandleTurn(ctx, sessionID, in) {
		switch ev.Type {
		case model.EventResponse:
			if s, ok := ev.Message.(string); ok {
				text.WriteString(s)
			}
		case model.EventToolCall:
			if msg, ok := ev.Message.(model.ToolCallMessage); ok {
				ans.ToolCalls = append(ans.ToolCalls, msg)
			}
		case model.EventToolResult:
			if msg, ok := ev.Message.(model.ToolResultMessage); ok {
				ans.ToolResults = append(ans.ToolResults, msg)
			}
		case model.EventDebug:
			ans.Debug = append(ans.Debug, fmt.Sprint(ev.Message))
		case model.EventError:
			ans.Error = fmt.Sprint(ev.Message)
		}
	}

	ans.Text = text.String()
	ans.EndTime = time.Now()
	ans.Duration = ans.EndTime.Sub(ans.StartTime).String()

	if ans.Error != "" {
		return ans, fmt.Errorf("turn failed: %s", ans.Error)
	}
	return ans, nil
}
