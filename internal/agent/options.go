// SPDX-License-Identifier: AGPL-3.0-only
package agent

import (
	"context"

	"github.com/jolks/mcp-relay/internal/config"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/provider"
	"github.com/jolks/mcp-relay/internal/toolclient"
)

// ProviderSource resolves providers by name.
type ProviderSource interface {
	Get(name string) (provider.Provider, error)
	DefaultModel(name string) string
}

// ToolService is the tool-execution service as seen by a session.
type ToolService interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*model.ToolInvocationResult, error)
	Snapshot() *toolclient.Snapshot
}

// Dependencies are the collaborators shared by all sessions.
type Dependencies struct {
	Providers ProviderSource
	// Tools may be nil, in which case every turn is a plain chat turn.
	Tools ToolService
	// Journal may be nil.
	Journal model.InvocationJournal
	Logger  *logging.Logger
}

// Options tune the tool loop.
type Options struct {
	DefaultProvider    string
	MaxToolIterations  int
	ToolChoiceRequired bool
	Temperature        float64
	MaxResultPreview   int
	DBParamName        string
	Debug              bool
}

// OptionsFromConfig derives session options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultProvider:    cfg.AI.DefaultProvider,
		MaxToolIterations:  cfg.AI.MaxToolIterations,
		ToolChoiceRequired: cfg.AI.ToolChoiceRequired,
		Temperature:        cfg.AI.Temperature,
		MaxResultPreview:   cfg.AI.MaxResultPreview,
		DBParamName:        cfg.Tools.DBParamName,
		Debug:              cfg.AI.Debug,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxToolIterations < 1 {
		o.MaxToolIterations = 1
	}
	if o.MaxResultPreview <= 0 {
		o.MaxResultPreview = DefaultResultPreview
	}
	if o.DBParamName == "" {
		o.DBParamName = "db_connection_name"
	}
	return o
}
