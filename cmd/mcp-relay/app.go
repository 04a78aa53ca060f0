// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jolks/mcp-relay/internal/agent"
	"github.com/jolks/mcp-relay/internal/capability"
	"github.com/jolks/mcp-relay/internal/config"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/provider"
	"github.com/jolks/mcp-relay/internal/server"
	"github.com/jolks/mcp-relay/internal/singleton"
	"github.com/jolks/mcp-relay/internal/store"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

type appOptions struct {
	// tools connects a tool server; without it every turn is plain chat.
	tools bool
	// server builds the HTTP front end.
	server bool
}

// Application represents the running application
type Application struct {
	cfg       *config.Config
	registry  *provider.Registry
	tools     *toolclient.Client
	store     *capability.Store
	refresher *capability.Refresher
	journal   model.InvocationJournal
	lock      *singleton.Lock
	manager   *agent.Manager
	server    *server.Server
	logger    *logging.Logger

	toolCancel context.CancelFunc
	toolDone   chan struct{}
}

func newToolClient(cfg *config.Config, logger *logging.Logger) (*toolclient.Client, error) {
	factory, err := toolclient.TransportFromConfig(cfg.Tools)
	if err != nil {
		return nil, err
	}
	impl := &mcp.Implementation{Name: cfg.Server.Name, Version: cfg.Server.Version}
	return toolclient.New(impl, factory, cfg.Tools, logger), nil
}

// openJournal opens the invocation journal unless it is disabled or another
// process already writes to it.
func openJournal(cfg *config.Config, logger *logging.Logger) (model.InvocationJournal, *singleton.Lock, error) {
	if !cfg.Store.Enabled {
		return nil, nil, nil
	}

	lock, acquired, err := singleton.TryAcquire(cfg.Store.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if !acquired {
		logger.Warnf("Journal %s is locked by another process, running without a journal", cfg.Store.DBPath)
		return nil, nil, nil
	}

	journal, err := store.NewSQLiteStore(cfg.Store.DBPath)
	if err != nil {
		_ = lock.Release()
		return nil, nil, fmt.Errorf("create invocation journal: %w", err)
	}
	return journal, lock, nil
}

// createApp creates a new application instance
func createApp(cfg *config.Config, opts appOptions) (*Application, error) {
	logger := logging.GetDefaultLogger()

	registry, err := provider.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("configure providers: %w", err)
	}

	app := &Application{
		cfg:      cfg,
		registry: registry,
		store:    capability.NewStore(),
		logger:   logger,
	}

	if opts.tools {
		app.tools, err = newToolClient(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	app.journal, app.lock, err = openJournal(cfg, logger)
	if err != nil {
		return nil, err
	}

	// A nil *toolclient.Client must not end up inside a non-nil interface.
	agentDeps := agent.Dependencies{Providers: registry, Journal: app.journal, Logger: logger}
	serverDeps := server.Deps{
		Capabilities: app.store,
		Providers:    registry,
		Journal:      app.journal,
		Logger:       logger,
	}
	var discoverer capability.ToolDiscoverer
	if app.tools != nil {
		agentDeps.Tools = app.tools
		serverDeps.Tools = app.tools
		discoverer = app.tools
	}

	app.refresher = capability.NewRefresher(app.store, registry, discoverer, cfg.Tools.RefreshInterval, logger)
	app.manager = agent.NewManager(agentDeps, agent.OptionsFromConfig(cfg))

	if opts.server {
		serverDeps.Manager = app.manager
		app.server = server.New(cfg, serverDeps)
	}
	return app, nil
}

// Start starts the application
func (a *Application) Start(ctx context.Context) error {
	if a.tools != nil {
		toolCtx, cancel := context.WithCancel(ctx)
		a.toolCancel = cancel
		a.toolDone = make(chan struct{})
		go func() {
			defer close(a.toolDone)
			if err := a.tools.Run(toolCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Errorf("Tool server session ended: %v", err)
			}
		}()
		a.logger.Infof("Tool client started (%s %s)", a.cfg.Tools.Transport, a.cfg.Tools.ServerURL)
	}

	if err := a.refresher.Start(ctx); err != nil {
		return err
	}
	a.logger.Infof("Capability refresher started")

	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return err
		}
		a.logger.Infof("Relay server started")
	}
	return nil
}

// Stop stops the application
func (a *Application) Stop() error {
	var errs []error

	if a.server != nil {
		if err := a.server.Stop(); err != nil {
			a.logger.Errorf("Error stopping relay server: %v", err)
			errs = append(errs, err)
		} else {
			a.logger.Infof("Relay server stopped")
		}
	}

	a.refresher.Stop()

	if a.toolCancel != nil {
		a.toolCancel()
		<-a.toolDone
	}
	if a.tools != nil {
		if err := a.tools.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close tool client: %w", err))
		}
	}

	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if err := a.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release journal lock: %w", err))
	}

	return errors.Join(errs...)
}
