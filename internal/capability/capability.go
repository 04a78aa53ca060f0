// SPDX-License-Identifier: AGPL-3.0-only
package capability

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

// Snapshot is the read-only view of what is currently available: models
// per provider and the last tool discovery result.
type Snapshot struct {
	Models    map[string][]string  `json:"models"`
	Tools     *toolclient.Snapshot `json:"tools"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Store holds the last-good Snapshot. Readers never block on a refresh.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore creates a Store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{Models: map[string][]string{}, Tools: &toolclient.Snapshot{}})
	return s
}

// Load returns the current snapshot. It never returns nil.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

func (s *Store) replace(snap *Snapshot) {
	s.current.Store(snap)
}

// ModelLister lists models for every configured provider.
type ModelLister interface {
	ListAllModels(ctx context.Context, logger *logging.Logger) map[string][]string
}

// ToolDiscoverer re-runs tool discovery and exposes the last result.
type ToolDiscoverer interface {
	Discover(ctx context.Context) (*toolclient.Snapshot, error)
	Snapshot() *toolclient.Snapshot
}
