// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/provider"
	"github.com/jolks/mcp-relay/internal/schema"
)

// errConsumerGone ends a turn whose event consumer stopped reading.
var errConsumerGone = stderrors.New("event consumer stopped")

// Session is one conversation. It owns the history and the active database
// context. A Session runs one turn at a time; Manager enforces that.
type Session struct {
	id     string
	deps   Dependencies
	opts   Options
	logger *logging.Logger

	state atomic.Int32

	mu       sync.RWMutex
	history  []model.Turn
	activeDB string
	provider string
}

// NewSession creates a session whose history holds only the system prompt.
func NewSession(id string, deps Dependencies, opts Options) *Session {
	if deps.Logger == nil {
		deps.Logger = logging.GetDefaultLogger()
	}
	s := &Session{
		id:     id,
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: deps.Logger.WithField("session_id", id),
	}
	s.history = []model.Turn{{Role: model.RoleSystem, Content: s.systemPrompt("", s.catalog())}}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current orchestration state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.logger.Debugf("State %s -> %s", prev, st)
	}
}

// History returns a copy of the committed history.
func (s *Session) History() []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneTurns(s.history)
}

// ActiveDB returns the database connection the session is bound to.
func (s *Session) ActiveDB() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeDB
}

func (s *Session) catalog() []model.ToolDescriptor {
	if s.deps.Tools == nil {
		return nil
	}
	snap := s.deps.Tools.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Tools
}

func (s *Session) systemPrompt(db string, tools []model.ToolDescriptor) string {
	return BuildSystemPrompt(db, tools, s.opts.DBParamName)
}

// HandleTurn runs one user turn and yields transport events in order. Every
// failure ends in a single error event and leaves the history as it was
// before the turn. Stopping the iteration abandons the turn the same way.
func (s *Session) HandleTurn(ctx context.Context, in model.InboundTurn) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		correlationID := uuid.NewString()
		t := &turn{
			s:             s,
			ctx:           ctx,
			in:            in,
			yield:         yield,
			correlationID: correlationID,
			logger:        s.logger.WithField("correlation_id", correlationID),
		}

		defer func() {
			if r := recover(); r != nil {
				t.logger.Errorf("Recovered from panic in turn: %v", r)
				t.emit(errorEvent(fmt.Errorf("internal error: %v", r)))
			}
			s.setState(StateIdle)
		}()

		t.logger.Infof("New turn: %q", in.Text)
		if err := t.run(); err != nil {
			if stderrors.Is(err, errConsumerGone) {
				t.logger.Debugf("Turn abandoned by consumer")
				return
			}
			t.logger.Errorf("Turn failed: %v", err)
			t.emit(errorEvent(err))
		}
	}
}

// turn is the working state of one HandleTurn call. Nothing in it reaches
// the session until commit.
type turn struct {
	s             *Session
	ctx           context.Context
	in            model.InboundTurn
	yield         func(model.Event) bool
	correlationID string
	logger        *logging.Logger

	provider  provider.Provider
	modelName string
	activeDB  string
	work      []model.Turn
	reply     strings.Builder
	stopped   bool
}

func (t *turn) emit(ev model.Event) bool {
	if t.stopped {
		return false
	}
	if !t.yield(ev) {
		t.stopped = true
	}
	return !t.stopped
}

func (t *turn) debug(format string, args ...any) error {
	if !t.s.opts.Debug {
		return nil
	}
	msg := fmt.Sprintf("[%s] ", t.correlationID) + fmt.Sprintf(format, args...)
	if !t.emit(model.Event{Type: model.EventDebug, Message: msg}) {
		return errConsumerGone
	}
	return nil
}

func (t *turn) run() error {
	s := t.s
	catalog := s.catalog()

	if err := t.resolveProvider(); err != nil {
		return err
	}

	t.work = append(s.History(), model.Turn{Role: model.RoleUser, Content: t.in.Text})
	t.applyContext(catalog)

	if err := t.debug("provider=%s, model=%s, use_mcp=%t, db_connection=%s",
		t.provider.Name(), t.modelName, t.in.UseMCP, t.activeDB); err != nil {
		return err
	}

	if !t.in.UseMCP || len(catalog) == 0 {
		s.setState(StateResponding)
		if _, err := t.stream(nil, false); err != nil {
			return err
		}
		return t.commit()
	}

	for i := 0; i < s.opts.MaxToolIterations; i++ {
		s.setState(StateAwaitingModel)
		before := t.reply.Len()
		calls, err := t.stream(catalog, i == 0)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			if err := t.debug("model answered without calling a tool"); err != nil {
				return err
			}
			return t.commit()
		}
		if len(calls) > 1 {
			t.logger.Warnf("Model requested %d tool calls; only %s is executed", len(calls), calls[0].Name)
			if err := t.debug("dropping %d extra tool calls", len(calls)-1); err != nil {
				return err
			}
		}
		if err := t.resolveCall(calls[0], catalog, t.reply.String()[before:]); err != nil {
			return err
		}
	}

	// Final call without tools so the model has to answer in prose.
	s.setState(StateResponding)
	if _, err := t.stream(nil, false); err != nil {
		return err
	}
	return t.commit()
}

func (t *turn) resolveProvider() error {
	name := t.in.LLMProvider
	if name == "" {
		name = t.s.opts.DefaultProvider
	}
	p, err := t.s.deps.Providers.Get(name)
	if err != nil {
		return err
	}
	modelName := t.in.Model()
	if modelName == "" {
		modelName = t.s.deps.Providers.DefaultModel(name)
	}
	if modelName == "" {
		return fmt.Errorf("no model selected for provider %s", name)
	}

	t.provider = p
	t.modelName = modelName
	return nil
}

// applyContext sets the turn's database context and regenerates the system
// turn of the working history. Earlier turns are kept; the session sees the
// change only on commit.
func (t *turn) applyContext(catalog []model.ToolDescriptor) {
	t.activeDB = t.in.DBConnection()
	if prev := t.s.ActiveDB(); prev != t.activeDB {
		t.logger.Infof("Database connection changed from %q to %q", prev, t.activeDB)
	}
	prompt := t.s.systemPrompt(t.activeDB, catalog)
	if t.work[0].Content != prompt {
		t.work[0] = model.Turn{Role: model.RoleSystem, Content: prompt}
	}
}

// stream runs one model call over the working history, relaying text as
// response events, and returns the completed tool calls.
func (t *turn) stream(tools []model.ToolDescriptor, first bool) ([]model.ToolCallIntent, error) {
	req := provider.ChatRequest{
		Model:   t.modelName,
		History: t.work,
		Tools:   tools,
	}
	if len(tools) > 0 {
		temp := t.s.opts.Temperature
		req.Temperature = &temp
		req.ToolChoiceRequired = first && t.s.opts.ToolChoiceRequired
	}

	var calls []model.ToolCallIntent
	for ev := range t.provider.StreamChat(t.ctx, req) {
		switch ev.Type {
		case model.ChatTextDelta:
			if ev.Text == "" {
				continue
			}
			t.reply.WriteString(ev.Text)
			if !t.emit(model.Event{Type: model.EventResponse, Message: ev.Text}) {
				return nil, errConsumerGone
			}
		case model.ChatToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		case model.ChatError:
			return nil, ev.Err
		case model.ChatDone:
			return calls, nil
		}
	}
	if t.stopped {
		return nil, errConsumerGone
	}
	return calls, nil
}

// resolveCall validates, completes and executes one tool call, then folds
// the result into the working history.
func (t *turn) resolveCall(call model.ToolCallIntent, catalog []model.ToolDescriptor, preamble string) error {
	s := t.s
	s.setState(StateToolRequested)
	start := time.Now()
	logger := t.logger.WithField("tool", call.Name)

	var (
		result *model.ToolInvocationResult
		args   = map[string]any{}
		source = call.Name
	)

	desc, known := schema.Lookup(catalog, call.Name)
	switch {
	case !known:
		logger.Warnf("%v", apperrors.ArgumentInvalid("agent.tool", fmt.Errorf("unknown tool %q", call.Name)))
		result = model.FailedResult(call.Name, fmt.Sprintf("unknown tool %s", call.Name))
	default:
		source = desc.Source
		decoded, err := ParseArguments(call.RawArguments)
		if err != nil {
			logger.Warnf("%v", apperrors.ArgumentInvalid("agent.arguments", err))
			result = model.FailedResult(desc.Name, "could not parse tool arguments: "+err.Error())
			break
		}
		args = decoded
		coerceArguments(desc, args)
		if injected := injectDBConnection(desc, args, t.activeDB, s.opts.DBParamName); injected != "" {
			logger.Debugf("Injected %s=%q", injected, t.activeDB)
		}
		if missing := missingRequired(desc, args); missing != "" {
			logger.Infof("Skipping call, missing required argument %s", missing)
			result = model.FailedResult(desc.Name, "missing required argument "+missing)
		}
	}

	if result == nil {
		if !t.emit(model.Event{Type: model.EventToolCall, Message: model.ToolCallMessage{Name: desc.Name, Arguments: args}}) {
			return errConsumerGone
		}
		s.setState(StateAwaitingTool)
		res, err := s.deps.Tools.Invoke(t.ctx, source, args)
		if err != nil {
			if apperrors.IsUnavailable(err) {
				return err
			}
			return apperrors.ExecutionFailed("agent.invoke", err)
		}
		result = res
		result.ToolName = desc.Name
		if !result.OK {
			logger.Warnf("%v", apperrors.ExecutionFailed("agent.invoke", stderrors.New(result.Error)))
		}
	}

	argsJSON, _ := json.Marshal(args)
	// History carries the arguments actually used; unparseable input is
	// quoted in the error text instead.
	call.RawArguments = string(argsJSON)
	t.work = append(t.work, model.Turn{
		Role:       model.RoleTool,
		Content:    FormatToolResult(result, s.opts.MaxResultPreview),
		ToolCallID: call.ID,
		ToolCall:   &call,
		Preamble:   preamble,
	})

	t.journal(result, string(argsJSON), start)

	msg := model.ToolResultMessage{Name: result.ToolName, OK: result.OK, Result: result.Payload, Error: result.Error}
	if !t.emit(model.Event{Type: model.EventToolResult, Message: msg}) {
		return errConsumerGone
	}
	return nil
}

func (t *turn) journal(res *model.ToolInvocationResult, args string, start time.Time) {
	end := time.Now()
	rec := &model.InvocationRecord{
		SessionID:     t.s.id,
		CorrelationID: t.correlationID,
		ToolName:      res.ToolName,
		Arguments:     args,
		OK:            res.OK,
		Error:         res.Error,
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start).String(),
	}
	if res.Payload != nil {
		if data, err := json.Marshal(res.Payload); err == nil {
			rec.Payload = string(data)
		}
	}
	model.PersistAndLogInvocation(t.s.deps.Journal, rec, t.logger)
}

// commit appends the working turns and the assembled reply to the session.
func (t *turn) commit() error {
	s := t.s
	s.setState(StateResponding)
	t.work = append(t.work, model.Turn{Role: model.RoleAssistant, Content: t.reply.String()})

	s.mu.Lock()
	s.history = t.work
	s.activeDB = t.activeDB
	s.provider = t.provider.Name()
	s.mu.Unlock()
	t.logger.Infof("Turn completed (%d history turns)", len(t.work))
	return nil
}

func errorEvent(err error) model.Event {
	return model.Event{Type: model.EventError, Message: err.Error()}
}
