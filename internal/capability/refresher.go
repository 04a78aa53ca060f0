// SPDX-License-Identifier: AGPL-3.0-only
package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/jolks/mcp-relay/internal/logging"
)

// Refresher periodically rebuilds the capability snapshot.
type Refresher struct {
	store    *Store
	models   ModelLister
	tools    ToolDiscoverer
	interval time.Duration
	logger   *logging.Logger

	cron  *cron.Cron
	group singleflight.Group

	mu      sync.Mutex
	started bool
}

// NewRefresher creates a refresher. tools may be nil when no tool service
// is configured.
func NewRefresher(store *Store, models ModelLister, tools ToolDiscoverer, interval time.Duration, logger *logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	return &Refresher{
		store:    store,
		models:   models,
		tools:    tools,
		interval: interval,
		logger:   logger.WithField("component", "capability"),
		cron: cron.New(
			cron.WithChain(
				cron.Recover(cron.DefaultLogger),
				cron.SkipIfStillRunning(cron.DefaultLogger),
			),
		),
	}
}

// Start runs one refresh and then schedules a refresh every interval until
// ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if _, err := r.Refresh(ctx); err != nil {
		r.logger.Warnf("Initial capability refresh failed: %v", err)
	}

	if r.interval > 0 {
		spec := fmt.Sprintf("@every %s", r.interval)
		if _, err := r.cron.AddFunc(spec, func() {
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Warnf("Capability refresh failed: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule capability refresh: %w", err)
		}
	}
	r.cron.Start()
	r.started = true

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduled refreshes and waits for a running one to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	<-r.cron.Stop().Done()
	r.started = false
}

// Refresh rebuilds the snapshot now. Concurrent callers share one refresh.
// A failed tool discovery keeps the previous tool snapshot.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.refresh(ctx)
	})
	if v == nil {
		return r.store.Load(), err
	}
	return v.(*Snapshot), err
}

func (r *Refresher) refresh(ctx context.Context) (*Snapshot, error) {
	prev := r.store.Load()
	next := &Snapshot{Models: map[string][]string{}, Tools: prev.Tools, UpdatedAt: time.Now()}

	if r.models != nil {
		next.Models = r.models.ListAllModels(ctx, r.logger)
	}

	var discoverErr error
	if r.tools != nil {
		tools, err := r.tools.Discover(ctx)
		if err != nil {
			discoverErr = fmt.Errorf("discover tools: %w", err)
			next.Tools = r.tools.Snapshot()
		} else {
			next.Tools = tools
		}
	}

	r.store.replace(next)
	r.logger.Debugf("Capability snapshot refreshed: %d providers, %d tools", len(next.Models), len(next.Tools.Tools))
	return next, discoverErr
}
