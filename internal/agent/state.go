// SPDX-License-Identifier: AGPL-3.0-only
package agent

// State is the orchestrator's position within a turn.
type State int32

const (
	StateIdle State = iota
	StateAwaitingModel
	StateToolRequested
	StateAwaitingTool
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateToolRequested:
		return "tool_requested"
	case StateAwaitingTool:
		return "awaiting_tool"
	case StateResponding:
		return "responding"
	default:
		return "unknown"
	}
}
