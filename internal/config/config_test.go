// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	if cfg.AI.MaxToolIterations != 1 {
		t.Errorf("Expected MaxToolIterations 1, got %d", cfg.AI.MaxToolIterations)
	}
	if cfg.AI.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries 3, got %d", cfg.AI.MaxRetries)
	}
	if cfg.AI.RetryBaseDelay != time.Second {
		t.Errorf("Expected RetryBaseDelay 1s, got %s", cfg.AI.RetryBaseDelay)
	}
}

func TestFromEnvPrefixedAndBare(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "bare-key")
	t.Setenv("MCP_RELAY_AI_ANTHROPIC_API_KEY", "prefixed-key")
	t.Setenv("MCP_CLIENT_DEBUG", "true")
	t.Setenv("MCP_RELAY_TOOLS_MCP_REFRESH_INTERVAL", "5m")

	cfg := DefaultConfig()
	if err := FromEnv(cfg); err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.AI.OpenAIAPIKey != "bare-key" {
		t.Errorf("Expected OpenAI key from bare variable, got %q", cfg.AI.OpenAIAPIKey)
	}
	if cfg.AI.AnthropicAPIKey != "prefixed-key" {
		t.Errorf("Expected Anthropic key from prefixed variable, got %q", cfg.AI.AnthropicAPIKey)
	}
	if !cfg.AI.Debug {
		t.Errorf("Expected debug to be enabled")
	}
	if cfg.Tools.RefreshInterval != 5*time.Minute {
		t.Errorf("Expected refresh interval 5m, got %s", cfg.Tools.RefreshInterval)
	}
	// Untouched values keep their defaults.
	if cfg.Server.Port != 3000 {
		t.Errorf("Expected default port to survive, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error for invalid port")
	}

	cfg = DefaultConfig()
	cfg.AI.DefaultProvider = "gemini"
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error for unsupported provider")
	}

	cfg = DefaultConfig()
	cfg.AI.MaxToolIterations = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error for zero tool iterations")
	}

	cfg = DefaultConfig()
	cfg.Tools.Transport = "command"
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error for command transport without command")
	}
	cfg.Tools.Command = "python"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected command transport to validate, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Tools.ReconnectMaxDelay = 0
	if err := cfg.Validate(); err == nil {
		t.Errorf("Expected error when max reconnect delay is below base")
	}
}
