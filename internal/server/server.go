// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/mcp-relay/internal/agent"
	"github.com/jolks/mcp-relay/internal/capability"
	"github.com/jolks/mcp-relay/internal/config"
	"github.com/jolks/mcp-relay/internal/errors"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

// ToolStatus is the tool client as seen by the transport.
type ToolStatus interface {
	Connected() bool
	Snapshot() *toolclient.Snapshot
}

// ProviderNames lists the configured providers.
type ProviderNames interface {
	Names() []string
}

// Deps are the components the transport shell fronts.
type Deps struct {
	Manager      *agent.Manager
	Capabilities *capability.Store
	// Tools is nil when no tool service is configured.
	Tools     ToolStatus
	Providers ProviderNames
	// Journal is nil when journaling is disabled.
	Journal model.InvocationJournal
	Logger  *logging.Logger
}

// Server is the HTTP and WebSocket front end. It also exposes the relay
// itself as an MCP server under /mcp.
type Server struct {
	cfg      *config.Config
	deps     Deps
	logger   *logging.Logger
	router   chi.Router
	upgrader websocket.Upgrader
	mcp      *mcp.Server

	httpServer     *http.Server
	listener       net.Listener
	baseCtx        context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	shutdownMutex  sync.Mutex
	isShuttingDown bool
}

// New builds the server and its routes. It does not listen; call Start.
func New(cfg *config.Config, deps Deps) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetDefaultLogger()
	}
	if deps.Capabilities == nil {
		deps.Capabilities = capability.NewStore()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.WithField("component", "server"),
		baseCtx: context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)
	s.registerTools()
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/ui-config", s.handleUIConfig)
		r.Post("/chat", s.handleChat)
		r.Get("/invocations", s.handleInvocations)
	})

	mcpHandler := mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	r.Handle("/mcp", mcpHandler)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Address, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error running HTTP server: %v", err)
		}
	}()
	s.logger.Infof("Listening on %s", ln.Addr())

	go func() {
		<-s.baseCtx.Done()
		if err := s.Stop(); err != nil {
			s.logger.Errorf("Error stopping server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, waiting up to five seconds for open
// requests. Calling it more than once is harmless.
func (s *Server) Stop() error {
	s.shutdownMutex.Lock()
	defer s.shutdownMutex.Unlock()

	if s.isShuttingDown {
		s.logger.Debugf("Stop called but server is already shutting down, ignoring")
		return nil
	}
	s.isShuttingDown = true

	if s.cancel != nil {
		s.cancel()
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return errors.Internal(fmt.Errorf("error shutting down HTTP server: %w", err))
		}
	}

	s.wg.Wait()
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Zerolog().Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()

		next.ServeHTTP(ww, r)
	})
}
