// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jolks/mcp-relay/internal/config"
	"github.com/jolks/mcp-relay/internal/logging"
)

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	defaults  map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		defaults:  make(map[string]string),
	}
}

// Register adds or replaces a provider and its default model.
func (r *Registry) Register(p Provider, defaultModel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.defaults[p.Name()] = defaultModel
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("LLM provider %q is not configured", name)
	}
	return p, nil
}

// DefaultModel returns the configured model for a provider, or "".
func (r *Registry) DefaultModel(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults[strings.ToLower(name)]
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListAllModels queries every provider. A failing provider yields an empty
// list and a warning; it never fails the whole call.
func (r *Registry) ListAllModels(ctx context.Context, logger *logging.Logger) map[string][]string {
	out := make(map[string][]string)
	for _, name := range r.Names() {
		p, err := r.Get(name)
		if err != nil {
			continue
		}
		models, err := p.ListModels(ctx)
		if err != nil {
			logger.Warnf("Failed to list models for %s: %v", name, err)
			models = []string{}
		}
		out[name] = models
	}
	return out
}

// New builds a registry from configuration. Cloud providers are registered
// only when a key is available; Ollama is always registered since it runs
// locally without one.
func New(cfg *config.Config, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	retry := RetryPolicy{MaxAttempts: cfg.AI.MaxRetries, BaseDelay: cfg.AI.RetryBaseDelay}
	reg := NewRegistry()

	if apiKey := keyOrFallback(cfg.AI.OpenAIAPIKey, cfg.AI.APIKey); apiKey != "" {
		reg.Register(NewOpenAIProvider("openai", apiKey, cfg.AI.OpenAIBaseURL, retry, logger), cfg.AI.OpenAIModel)
	} else {
		logger.Warnf("OpenAI API key is not set in configuration")
	}

	if cfg.AI.OllamaBaseURL != "" {
		// Ollama ignores the key but the SDK requires one.
		reg.Register(NewOpenAIProvider("ollama", "ollama", cfg.AI.OllamaBaseURL, retry, logger), cfg.AI.OllamaModel)
	}

	if apiKey := keyOrFallback(cfg.AI.AnthropicAPIKey, cfg.AI.APIKey); apiKey != "" {
		reg.Register(NewAnthropicProvider(apiKey, "", cfg.AI.MaxTokens, retry, logger), cfg.AI.AnthropicModel)
	}

	if cfg.AI.AzureEndpoint != "" {
		apiKey := keyOrFallback(cfg.AI.AzureAPIKey, cfg.AI.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("Azure OpenAI API key is not set in configuration")
		}
		az, err := NewAzureProvider(cfg.AI.AzureEndpoint, apiKey, cfg.AI.AzureDeployment, cfg.AI.MaxTokens, retry, logger)
		if err != nil {
			return nil, err
		}
		reg.Register(az, cfg.AI.AzureDeployment)
	}

	if _, err := reg.Get(cfg.AI.DefaultProvider); err != nil {
		logger.Warnf("Default LLM provider %q is not available", cfg.AI.DefaultProvider)
	}
	return reg, nil
}

func keyOrFallback(key, fallback string) string {
	if key != "" {
		return key
	}
	return fallback
}
