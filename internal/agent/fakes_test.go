// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"

	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/provider"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

// fakeProvider replays one scripted event list per StreamChat call.
type fakeProvider struct {
	name string

	mu       sync.Mutex
	scripts  [][]model.ChatEvent
	requests []provider.ChatRequest

	// hold, when set, is received from before each stream starts.
	hold chan struct{}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (p *fakeProvider) StreamChat(ctx context.Context, req provider.ChatRequest) iter.Seq[model.ChatEvent] {
	return func(yield func(model.ChatEvent) bool) {
		if p.hold != nil {
			select {
			case <-p.hold:
			case <-ctx.Done():
				yield(model.ChatEvent{Type: model.ChatError, Err: ctx.Err()})
				return
			}
		}
		p.mu.Lock()
		req.History = model.CloneTurns(req.History)
		p.requests = append(p.requests, req)
		var script []model.ChatEvent
		if n := len(p.requests) - 1; n < len(p.scripts) {
			script = p.scripts[n]
		} else {
			script = []model.ChatEvent{done()}
		}
		p.mu.Unlock()

		for _, ev := range script {
			if !yield(ev) {
				return
			}
		}
	}
}

func (p *fakeProvider) Requests() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.requests...)
}

func text(s string) model.ChatEvent { return model.ChatEvent{Type: model.ChatTextDelta, Text: s} }
func done() model.ChatEvent         { return model.ChatEvent{Type: model.ChatDone} }

func toolCall(id, name, args string) model.ChatEvent {
	return model.ChatEvent{Type: model.ChatToolCall, ToolCall: &model.ToolCallIntent{ID: id, Name: name, RawArguments: args}}
}

// fakeProviders is a ProviderSource over fixed providers.
type fakeProviders map[string]*fakeProvider

func (f fakeProviders) Get(name string) (provider.Provider, error) {
	p, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider %q is not configured", name)
	}
	return p, nil
}

func (f fakeProviders) DefaultModel(name string) string {
	if _, ok := f[name]; ok {
		return "fake-model"
	}
	return ""
}

type invocation struct {
	Name string
	Args map[string]any
}

// fakeTools is a ToolService with a fixed catalog.
type fakeTools struct {
	snap *toolclient.Snapshot

	mu      sync.Mutex
	calls   []invocation
	results map[string]*model.ToolInvocationResult
	err     error
}

func (f *fakeTools) Snapshot() *toolclient.Snapshot { return f.snap }

func (f *fakeTools) Invoke(ctx context.Context, name string, args map[string]any) (*model.ToolInvocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{Name: name, Args: args})
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[name]; ok {
		copied := *res
		return &copied, nil
	}
	return &model.ToolInvocationResult{ToolName: name, OK: true, Payload: map[string]any{"ok": true}}, nil
}

func (f *fakeTools) Calls() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

func weatherTool() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:        "get_current_weather",
		Source:      "get_current_weather",
		Description: "Current weather for a city",
		Parameters: []model.Parameter{
			{Name: "city", Type: model.TypeString, Required: true},
			{Name: "units", Type: model.TypeString},
		},
	}
}

func sqlTool() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:   "run_sql_query",
		Source: "run_sql_query",
		Parameters: []model.Parameter{
			{Name: "db_connection_name", Type: model.TypeString, Required: true},
			{Name: "sql_query", Type: model.TypeString, Required: true},
			{Name: "limit", Type: model.TypeInteger},
		},
	}
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		snap: &toolclient.Snapshot{Tools: []model.ToolDescriptor{weatherTool(), sqlTool()}},
		results: map[string]*model.ToolInvocationResult{
			"get_current_weather": {OK: true, Payload: map[string]any{"city": "NYC", "temp_c": 21.0}},
		},
	}
}

func testDeps(p *fakeProvider, tools ToolService) Dependencies {
	return Dependencies{
		Providers: fakeProviders{p.name: p},
		Tools:     tools,
		Logger:    logging.Discard(),
	}
}

func testOptions() Options {
	return Options{DefaultProvider: "openai", MaxToolIterations: 1}
}

func strPtr(s string) *string { return &s }

func collect(seq iter.Seq[model.Event]) []model.Event {
	var out []model.Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []model.Event) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func countRoles(t *testing.T, history []model.Turn) map[model.Role]int {
	t.Helper()
	counts := map[model.Role]int{}
	for _, turn := range history {
		counts[turn.Role]++
	}
	return counts
}

// gatedSource serves a gatedProvider whose streams block in enter.
type gatedSource struct{ g *gatedProvider }

func (s gatedSource) Get(name string) (provider.Provider, error) {
	return gatedStream{s.g}, nil
}

func (s gatedSource) DefaultModel(name string) string { return "fake-model" }

type gatedStream struct{ g *gatedProvider }

func (s gatedStream) Name() string { return "openai" }

func (s gatedStream) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (s gatedStream) StreamChat(ctx context.Context, req provider.ChatRequest) iter.Seq[model.ChatEvent] {
	return func(yield func(model.ChatEvent) bool) {
		s.g.enter()
		if yield(text("hi")) {
			yield(done())
		}
	}
}
