// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"
	"iter"
	"sync"

	apperrors "github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/model"
)

// Manager owns the live sessions and serializes turns per session id.
// Turns of different sessions run in parallel.
type Manager struct {
	deps Dependencies
	opts Options

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	// gate holds one token while a turn runs.
	gate    chan struct{}
	session *Session
}

// NewManager creates a Manager.
func NewManager(deps Dependencies, opts Options) *Manager {
	return &Manager{
		deps:     deps,
		opts:     opts,
		sessions: make(map[string]*sessionEntry),
	}
}

func (m *Manager) entry(id string) *sessionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		e = &sessionEntry{
			gate:    make(chan struct{}, 1),
			session: NewSession(id, m.deps, m.opts),
		}
		m.sessions[id] = e
	}
	return e
}

// Session returns the live session for id, if any.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// HandleTurn runs a turn on the session for id, creating it on first use.
// A second turn for the same id waits until the first one finishes or ctx
// is cancelled.
func (m *Manager) HandleTurn(ctx context.Context, id string, in model.InboundTurn) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		e := m.entry(id)
		select {
		case e.gate <- struct{}{}:
		case <-ctx.Done():
			yield(errorEvent(apperrors.Transient("agent.turn", ctx.Err())))
			return
		}
		defer func() { <-e.gate }()

		for ev := range e.session.HandleTurn(ctx, in) {
			if !yield(ev) {
				return
			}
		}
	}
}

// Close forgets the session for id. A turn already running finishes on the
// detached session; its caller is expected to cancel it.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
