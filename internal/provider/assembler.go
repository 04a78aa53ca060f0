// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"fmt"
	"strings"

	"github.com/jolks/mcp-relay/internal/model"
)

// ToolCallDelta is one streamed fragment of a tool call.
type ToolCallDelta struct {
	// Index identifies the call when HasIndex is set.
	Index     int
	HasIndex  bool
	ID        string
	Name      string
	Arguments string
}

type pendingCall struct {
	index int
	id    string
	name  strings.Builder
	args  strings.Builder
	done  bool
}

// ToolCallAssembler buffers tool-call fragments until a terminal signal.
//
// Fragments are keyed by index when the provider sends one, otherwise by id.
// A fragment with neither continues the most recent call.
type ToolCallAssembler struct {
	calls []*pendingCall
}

// NewToolCallAssembler creates an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{}
}

// Add buffers one fragment.
func (a *ToolCallAssembler) Add(d ToolCallDelta) {
	c := a.lookup(d)
	if c == nil {
		c = &pendingCall{index: len(a.calls)}
		if d.HasIndex {
			c.index = d.Index
		}
		a.calls = append(a.calls, c)
	}
	if d.ID != "" && c.id == "" {
		c.id = d.ID
	}
	c.name.WriteString(d.Name)
	c.args.WriteString(d.Arguments)
}

func (a *ToolCallAssembler) lookup(d ToolCallDelta) *pendingCall {
	switch {
	case d.HasIndex:
		for _, c := range a.calls {
			if c.index == d.Index && !c.done {
				return c
			}
		}
		return nil
	case d.ID != "":
		for _, c := range a.calls {
			if c.id == d.ID && !c.done {
				return c
			}
		}
		return nil
	default:
		for i := len(a.calls) - 1; i >= 0; i-- {
			if !a.calls[i].done {
				return a.calls[i]
			}
		}
		return nil
	}
}

// Complete finalizes the call with the given index, as when a provider
// signals the end of one content block.
func (a *ToolCallAssembler) Complete(index int) (model.ToolCallIntent, bool) {
	for pos, c := range a.calls {
		if c.index == index && !c.done {
			c.done = true
			return c.intent(pos), true
		}
	}
	return model.ToolCallIntent{}, false
}

// Flush finalizes every pending call in arrival order.
func (a *ToolCallAssembler) Flush() []model.ToolCallIntent {
	var out []model.ToolCallIntent
	for pos, c := range a.calls {
		if c.done {
			continue
		}
		c.done = true
		out = append(out, c.intent(pos))
	}
	return out
}

// Pending reports whether any call is still buffered.
func (a *ToolCallAssembler) Pending() bool {
	for _, c := range a.calls {
		if !c.done {
			return true
		}
	}
	return false
}

func (c *pendingCall) intent(pos int) model.ToolCallIntent {
	id := c.id
	if id == "" {
		id = fmt.Sprintf("call_%d", pos)
	}
	return model.ToolCallIntent{
		ID:           id,
		Name:         c.name.String(),
		RawArguments: c.args.String(),
	}
}
