// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/mcp-relay/internal/agent"
	"github.com/jolks/mcp-relay/internal/capability"
	"github.com/jolks/mcp-relay/internal/config"
	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/provider"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

// echoProvider asks for the weather tool whenever tools are attached and
// otherwise echoes the last turn.
type echoProvider struct{}

func (echoProvider) Name() string { return "openai" }

func (echoProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"gpt-test"}, nil
}

func (echoProvider) StreamChat(ctx context.Context, req provider.ChatRequest) iter.Seq[model.ChatEvent] {
	return func(yield func(model.ChatEvent) bool) {
		if len(req.Tools) > 0 {
			call := &model.ToolCallIntent{ID: "call_1", Name: "get_current_weather", RawArguments: `{"city":"Paris"}`}
			if !yield(model.ChatEvent{Type: model.ChatToolCall, ToolCall: call}) {
				return
			}
			yield(model.ChatEvent{Type: model.ChatDone})
			return
		}
		last := req.History[len(req.History)-1]
		if !yield(model.ChatEvent{Type: model.ChatTextDelta, Text: "echo: " + last.Content}) {
			return
		}
		yield(model.ChatEvent{Type: model.ChatDone})
	}
}

// heldProvider blocks every stream until released so tests can act while
// a turn is in flight.
type heldProvider struct {
	started   chan string
	release   chan struct{}
	cancelled chan struct{}
}

func newHeldProvider() *heldProvider {
	return &heldProvider{
		started:   make(chan string, 4),
		release:   make(chan struct{}),
		cancelled: make(chan struct{}, 4),
	}
}

func (*heldProvider) Name() string { return "anthropic" }

func (*heldProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"claude-test"}, nil
}

func (h *heldProvider) StreamChat(ctx context.Context, req provider.ChatRequest) iter.Seq[model.ChatEvent] {
	return func(yield func(model.ChatEvent) bool) {
		last := req.History[len(req.History)-1].Content
		h.started <- last
		select {
		case <-h.release:
		case <-ctx.Done():
			h.cancelled <- struct{}{}
			yield(model.ChatEvent{Type: model.ChatError, Err: ctx.Err()})
			return
		}
		if !yield(model.ChatEvent{Type: model.ChatTextDelta, Text: "held: " + last}) {
			return
		}
		yield(model.ChatEvent{Type: model.ChatDone})
	}
}

// fakeTools is a connected tool service with one weather tool.
type fakeTools struct {
	mu        sync.Mutex
	connected bool
	snap      *toolclient.Snapshot
}

func newFakeTools(connected bool) *fakeTools {
	return &fakeTools{
		connected: connected,
		snap: &toolclient.Snapshot{
			Tools: []model.ToolDescriptor{{
				Name:   "get_current_weather",
				Source: "get_current_weather",
				Parameters: []model.Parameter{
					{Name: "city", Type: model.TypeString, Required: true},
				},
			}},
			ServerInfo:    toolclient.ServerInfo{Name: "tools", Version: "1.2.3"},
			DBConnections: []string{"analytics"},
		},
	}
}

func (f *fakeTools) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTools) Snapshot() *toolclient.Snapshot { return f.snap }

func (f *fakeTools) Discover(ctx context.Context) (*toolclient.Snapshot, error) { return f.snap, nil }

func (f *fakeTools) Invoke(ctx context.Context, name string, args map[string]any) (*model.ToolInvocationResult, error) {
	return &model.ToolInvocationResult{ToolName: name, OK: true, Payload: map[string]any{"city": args["city"], "temp_c": 21.0}}, nil
}

// memJournal keeps invocation records in memory.
type memJournal struct {
	mu      sync.Mutex
	records []*model.InvocationRecord
}

func (j *memJournal) SaveInvocation(rec *model.InvocationRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *memJournal) RecentInvocations(sessionID string, limit int) ([]*model.InvocationRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*model.InvocationRecord
	for i := len(j.records) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID == "" || j.records[i].SessionID == sessionID {
			out = append(out, j.records[i])
		}
	}
	return out, nil
}

func (j *memJournal) Close() error { return nil }

type testEnv struct {
	server   *Server
	manager  *agent.Manager
	registry *provider.Registry
	store    *capability.Store
}

func newTestEnv(t *testing.T, tools *fakeTools, journal model.InvocationJournal) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	logger := logging.Discard()

	registry := provider.NewRegistry()
	registry.Register(echoProvider{}, "gpt-test")

	agentDeps := agent.Dependencies{Providers: registry, Journal: journal, Logger: logger}
	deps := Deps{Providers: registry, Journal: journal, Logger: logger, Capabilities: capability.NewStore()}
	if tools != nil {
		agentDeps.Tools = tools
		deps.Tools = tools

		refresher := capability.NewRefresher(deps.Capabilities, registry, tools, time.Minute, logger)
		if _, err := refresher.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	manager := agent.NewManager(agentDeps, agent.OptionsFromConfig(cfg))
	deps.Manager = manager

	return &testEnv{
		server:   New(cfg, deps),
		manager:  manager,
		registry: registry,
		store:    deps.Capabilities,
	}
}

func decodeEvents(t *testing.T, body []byte) []model.Event {
	t.Helper()
	var events []model.Event
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var ev model.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("Invalid NDJSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthOK(t *testing.T) {
	env := newTestEnv(t, newFakeTools(true), nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var health Health
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %s", health.Status)
	}
	if health.Details["tools_connected"] != true {
		t.Errorf("Expected tools_connected true, got %v", health.Details["tools_connected"])
	}
}

func TestHealthReportsDisconnectedTools(t *testing.T) {
	env := newTestEnv(t, newFakeTools(false), nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"error"`) {
		t.Errorf("Expected error status, got %s", rec.Body.String())
	}
}

func TestUIConfigNotReady(t *testing.T) {
	env := newTestEnv(t, newFakeTools(false), nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ui-config", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
}

func TestUIConfig(t *testing.T) {
	env := newTestEnv(t, newFakeTools(true), nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ui-config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var ui UIConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &ui); err != nil {
		t.Fatalf("Failed to decode ui config: %v", err)
	}
	if ui.ServerName != "tools" || ui.MCPVersion != "1.2.3" {
		t.Errorf("Expected server info tools/1.2.3, got %s/%s", ui.ServerName, ui.MCPVersion)
	}
	if len(ui.Tools) != 1 || ui.Tools[0].Name != "get_current_weather" {
		t.Errorf("Expected the weather tool, got %+v", ui.Tools)
	}
	if len(ui.DBConnections) != 1 || ui.DBConnections[0] != "analytics" {
		t.Errorf("Expected db connection analytics, got %v", ui.DBConnections)
	}
	if got := ui.Models["openai"]; len(got) != 1 || got[0] != "gpt-test" {
		t.Errorf("Expected openai models [gpt-test], got %v", got)
	}
	if ui.DefaultProvider != "openai" {
		t.Errorf("Expected default provider openai, got %s", ui.DefaultProvider)
	}
	if ui.Resources == nil || ui.Prompts == nil {
		t.Error("Expected empty lists rather than null for resources and prompts")
	}
}

func TestUIConfigWithoutToolService(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ui-config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"tools":[]`) {
		t.Errorf("Expected an empty tool list, got %s", rec.Body.String())
	}
}

func TestChatStreamsPlainAnswer(t *testing.T) {
	env := newTestEnv(t, newFakeTools(true), nil)
	h := env.server.Handler()

	rec := postChat(t, h, `{"session_id":"s1","text":"hello","use_mcp":false,"llm_provider":"openai"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Session-ID"); got != "s1" {
		t.Errorf("Expected X-Session-ID s1, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Expected NDJSON content type, got %q", got)
	}

	events := decodeEvents(t, rec.Body.Bytes())
	if len(events) != 1 || events[0].Type != model.EventResponse || events[0].Message != "echo: hello" {
		t.Fatalf("Expected a single echo response, got %+v", events)
	}

	postChat(t, h, `{"session_id":"s1","text":"again","use_mcp":false,"llm_provider":"openai"}`)
	sess, ok := env.manager.Session("s1")
	if !ok {
		t.Fatal("Expected session s1 to exist")
	}
	// system, user, assistant, user, assistant
	if n := len(sess.History()); n != 5 {
		t.Errorf("Expected 5 turns after two exchanges, got %d", n)
	}
}

func TestChatGeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := postChat(t, env.server.Handler(), `{"text":"hi","llm_provider":"openai"}`)
	id := rec.Header().Get("X-Session-ID")
	if id == "" {
		t.Fatal("Expected a generated session id")
	}
	if _, ok := env.manager.Session(id); !ok {
		t.Errorf("Expected session %s to be live", id)
	}
}

func TestChatRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := postChat(t, env.server.Handler(), `{"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	rec = postChat(t, env.server.Handler(), `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid body, got %d", rec.Code)
	}
}

func TestChatToolLoopIsJournaled(t *testing.T) {
	journal := &memJournal{}
	env := newTestEnv(t, newFakeTools(true), journal)
	h := env.server.Handler()

	rec := postChat(t, h, `{"session_id":"w1","text":"weather in Paris?","use_mcp":true,"llm_provider":"openai"}`)
	events := decodeEvents(t, rec.Body.Bytes())

	var types []model.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []model.EventType{model.EventToolCall, model.EventToolResult, model.EventResponse}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Expected events %v, got %v", want, types)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/invocations?session_id=w1&limit=5", nil)
	inv := httptest.NewRecorder()
	h.ServeHTTP(inv, req)
	if inv.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", inv.Code)
	}
	var records []*model.InvocationRecord
	if err := json.Unmarshal(inv.Body.Bytes(), &records); err != nil {
		t.Fatalf("Failed to decode records: %v", err)
	}
	if len(records) != 1 || records[0].ToolName != "get_current_weather" || !records[0].OK {
		t.Errorf("Expected one successful weather invocation, got %+v", records)
	}
}

func TestInvocationsJournalDisabled(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invocations", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/invocations?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", rec.Code)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWebSocketConversation(t *testing.T) {
	env := newTestEnv(t, newFakeTools(true), nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(model.InboundTurn{Text: "ping", LLMProvider: "openai"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != model.EventResponse || ev.Message != "echo: ping" {
		t.Errorf("Expected echo response, got %+v", ev)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != model.EventError {
		t.Errorf("Expected an error event for an invalid frame, got %+v", ev)
	}

	if env.manager.Len() != 1 {
		t.Fatalf("Expected one live session, got %d", env.manager.Len())
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.manager.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected the session to be discarded after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketQueuesOneTurnAndRejectsExtras(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	held := newHeldProvider()
	env.registry.Register(held, "claude-test")
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	send := func(text string) {
		t.Helper()
		if err := conn.WriteJSON(model.InboundTurn{Text: text, LLMProvider: "anthropic"}); err != nil {
			t.Fatalf("WriteJSON: %v", err)
		}
	}
	send("first")
	select {
	case got := <-held.started:
		if got != "first" {
			t.Fatalf("Expected the first turn to start, got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the first turn to start")
	}
	send("second")
	send("third")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev model.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Type != model.EventError || ev.Message != errTurnPending.Error() {
		t.Fatalf("Expected the third frame to be rejected mid-turn, got %+v", ev)
	}

	close(held.release)
	var responses []string
	for len(responses) < 2 {
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if ev.Type == model.EventResponse {
			msg, _ := ev.Message.(string)
			responses = append(responses, msg)
		}
	}
	if responses[0] != "held: first" || responses[1] != "held: second" {
		t.Errorf("Expected the queued turn to run after the first, got %v", responses)
	}
}

func TestWebSocketDisconnectCancelsRunningTurn(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	held := newHeldProvider()
	env.registry.Register(held, "claude-test")
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := conn.WriteJSON(model.InboundTurn{Text: "slow", LLMProvider: "anthropic"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	select {
	case <-held.started:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the turn to start")
	}

	conn.Close()

	select {
	case <-held.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the running turn to be cancelled after disconnect")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.NotFound("session", "abc"), http.StatusNotFound},
		{apperrors.InvalidInput("text is required"), http.StatusBadRequest},
		{apperrors.Internal(context.DeadlineExceeded), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("Expected %d for %v, got %d", c.want, c.err, got)
		}
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.server.cfg.Server.AllowedOrigins = []string{"http://allowed.example"}
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err == nil {
		t.Fatal("Expected the handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %+v", resp)
	}

	header.Set("Origin", "http://allowed.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("Expected allowed origin to connect: %v", err)
	}
	conn.Close()
}

func connectRelay(t *testing.T, srv *httptest.Server) *mcp.ClientSession {
	t.Helper()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &mcp.SSEClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return session
}

func TestMCPEndpointListsTools(t *testing.T) {
	env := newTestEnv(t, newFakeTools(true), nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	session := connectRelay(t, srv)
	defer session.Close()

	names := map[string]bool{}
	for tool, err := range session.Tools(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Tools: %v", err)
		}
		names[tool.Name] = true
	}
	for _, want := range []string{"ask", "list_tools", "list_models", "recent_invocations", "close_session"} {
		if !names[want] {
			t.Errorf("Expected tool %s to be registered", want)
		}
	}
}

func TestMCPAsk(t *testing.T) {
	env := newTestEnv(t, newFakeTools(true), nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	session := connectRelay(t, srv)
	defer session.Close()

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "ask",
		Arguments: map[string]any{"text": "hello", "use_tools": false, "session_id": "m1"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("Expected success, got error result")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	var ans agent.Answer
	if err := json.Unmarshal([]byte(text.Text), &ans); err != nil {
		t.Fatalf("Failed to decode answer: %v", err)
	}
	if ans.Text != "echo: hello" || ans.SessionID != "m1" {
		t.Errorf("Expected echo answer on m1, got %+v", ans)
	}

	if _, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "close_session",
		Arguments: map[string]any{"session_id": "m1"},
	}); err != nil {
		t.Fatalf("close_session: %v", err)
	}
	if env.manager.Len() != 0 {
		t.Errorf("Expected no live sessions, got %d", env.manager.Len())
	}
}

func TestMCPRecentInvocationsDisabled(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	session := connectRelay(t, srv)
	defer session.Close()

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: "recent_invocations", Arguments: map[string]any{}})
	if err == nil {
		t.Fatal("Expected an error while the journal is disabled")
	}
}

func TestBuildSchema(t *testing.T) {
	schema := buildSchema(AskParams{})
	props := schema["properties"].(map[string]interface{})

	if schema["type"] != "object" {
		t.Errorf("Expected object schema, got %v", schema["type"])
	}
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "text" {
		t.Errorf("Expected only text to be required, got %v", required)
	}
	if got := props["use_tools"].(map[string]interface{})["type"]; got != "boolean" {
		t.Errorf("Expected use_tools to be boolean, got %v", got)
	}
	if _, ok := buildSchema(struct{}{})["required"]; ok {
		t.Error("Expected no required list for an empty struct")
	}
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.server.cfg.Server.Address = "127.0.0.1"
	env.server.cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := env.server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	if err := env.server.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := env.server.Stop(); err != nil {
		t.Errorf("Expected a second Stop to be a no-op, got %v", err)
	}
}
