// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 1 << 20
)

// errTurnPending is sent back for a frame that arrives while one turn is
// running and another is already queued.
var errTurnPending = errors.New("a turn is already running and another is queued; wait for it to finish")

// socketConn serializes data frames. Control frames go through
// WriteControl, which gorilla allows concurrently.
type socketConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *socketConn) writeEvent(ev model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.WriteJSON(ev) == nil
}

// handleWebSocket serves one conversation per connection. Inbound text
// frames are InboundTurn objects; every orchestrator event goes back as a
// JSON text frame. Closing the connection discards the conversation.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Manager == nil {
		writeError(w, http.StatusServiceUnavailable, "no session manager configured")
		return
	}
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}
	conn := &socketConn{Conn: raw}

	sessionID := uuid.NewString()
	logger := s.logger.WithField("session_id", sessionID)
	logger.Infof("websocket session opened from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		_ = conn.Close()
		s.deps.Manager.Close(sessionID)
		logger.Infof("websocket session closed")
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// One turn may wait while another runs; the reader keeps draining
	// frames either way so pongs and close frames are seen mid-turn.
	inbound := make(chan model.InboundTurn, 1)
	go readLoop(ctx, cancel, conn, inbound, logger)
	go pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-inbound:
			if !ok {
				return
			}
			if !s.runSocketTurn(ctx, conn, sessionID, in) {
				cancel()
				return
			}
		}
	}
}

// runSocketTurn streams one turn to the connection. It returns false once
// the connection can no longer be written to.
func (s *Server) runSocketTurn(ctx context.Context, conn *socketConn, sessionID string, in model.InboundTurn) bool {
	if strings.TrimSpace(in.Text) == "" {
		return conn.writeEvent(model.Event{Type: model.EventError, Message: "text is required"})
	}
	for ev := range s.deps.Manager.HandleTurn(ctx, sessionID, in) {
		if !conn.writeEvent(ev) {
			return false
		}
	}
	return true
}

// readLoop owns every read on conn. It ends the connection context when
// the peer goes away, which also cancels a turn in flight.
func readLoop(ctx context.Context, cancel context.CancelFunc, conn *socketConn, out chan<- model.InboundTurn, logger *logging.Logger) {
	defer close(out)
	defer cancel()
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warnf("websocket read failed: %v", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var in model.InboundTurn
		if err := json.Unmarshal(raw, &in); err != nil {
			if !conn.writeEvent(model.Event{Type: model.EventError, Message: fmt.Sprintf("invalid message: %v", err)}) {
				return
			}
			continue
		}
		select {
		case out <- in:
		case <-ctx.Done():
			return
		default:
			logger.Debugf("rejecting frame while a turn is queued")
			if !conn.writeEvent(model.Event{Type: model.EventError, Message: errTurnPending.Error()}) {
				return
			}
		}
	}
}

func pingLoop(ctx context.Context, conn *socketConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
