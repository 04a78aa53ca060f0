// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment key. Each field also honours its bare
// tag name, so MCP_RELAY_AI_OPENAI_API_KEY and OPENAI_API_KEY both work.
const EnvPrefix = "MCP_RELAY"

// Config holds the application configuration.
type Config struct {
	Server  ServerConfig  `envconfig:"SERVER"`
	Logging LoggingConfig `envconfig:"LOGGING"`
	AI      AIConfig      `envconfig:"AI"`
	Tools   ToolsConfig   `envconfig:"TOOLS"`
	Store   StoreConfig   `envconfig:"STORE"`
}

// ServerConfig holds HTTP transport settings.
type ServerConfig struct {
	Name           string   `envconfig:"SERVER_NAME"`
	Version        string   `envconfig:"SERVER_VERSION"`
	Address        string   `envconfig:"SERVER_ADDRESS"`
	Port           int      `envconfig:"SERVER_PORT"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level    string `envconfig:"LOG_LEVEL"`
	FilePath string `envconfig:"LOG_FILE"`
	Console  bool   `envconfig:"LOG_CONSOLE"`
}

// AIConfig holds language-model provider settings.
type AIConfig struct {
	DefaultProvider string `envconfig:"LLM_PROVIDER"`

	// APIKey is used for any provider without a dedicated key.
	APIKey          string `envconfig:"LLM_API_KEY"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	AzureAPIKey     string `envconfig:"AZURE_OPENAI_API_KEY"`

	OpenAIBaseURL   string `envconfig:"OPENAI_BASE_URL"`
	OllamaBaseURL   string `envconfig:"OLLAMA_BASE_URL"`
	AzureEndpoint   string `envconfig:"AZURE_OPENAI_ENDPOINT"`
	AzureDeployment string `envconfig:"AZURE_OPENAI_DEPLOYMENT"`

	OpenAIModel    string `envconfig:"OPENAI_MODEL"`
	AnthropicModel string `envconfig:"ANTHROPIC_MODEL"`
	OllamaModel    string `envconfig:"OLLAMA_MODEL_NAME"`

	MaxRetries         int           `envconfig:"LLM_MAX_RETRIES"`
	RetryBaseDelay     time.Duration `envconfig:"LLM_RETRY_BASE_DELAY"`
	MaxToolIterations  int           `envconfig:"MAX_TOOL_ITERATIONS"`
	ToolChoiceRequired bool          `envconfig:"TOOL_CHOICE_REQUIRED"`
	Temperature        float64       `envconfig:"LLM_TEMPERATURE"`
	MaxTokens          int           `envconfig:"LLM_MAX_TOKENS"`
	MaxResultPreview   int           `envconfig:"MAX_RESULT_PREVIEW"`
	Debug              bool          `envconfig:"MCP_CLIENT_DEBUG"`
}

// ToolsConfig holds tool-execution service settings.
type ToolsConfig struct {
	ServerURL string `envconfig:"SERVER_URL"`
	// Transport is one of "sse", "streamable" or "command".
	Transport string   `envconfig:"MCP_TRANSPORT"`
	Command   string   `envconfig:"MCP_COMMAND"`
	Args      []string `envconfig:"MCP_ARGS"`

	ReconnectBaseDelay   time.Duration `envconfig:"MCP_RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    time.Duration `envconfig:"MCP_RECONNECT_MAX_DELAY"`
	MaxReconnectAttempts int           `envconfig:"MCP_MAX_RECONNECT_ATTEMPTS"`
	CallTimeout          time.Duration `envconfig:"MCP_CALL_TIMEOUT"`
	RefreshInterval      time.Duration `envconfig:"MCP_REFRESH_INTERVAL"`

	DBConnectionsTool string `envconfig:"DB_CONNECTIONS_TOOL"`
	DBParamName       string `envconfig:"DB_PARAM_NAME"`
}

// StoreConfig holds invocation journal settings.
type StoreConfig struct {
	Enabled bool   `envconfig:"JOURNAL_ENABLED"`
	DBPath  string `envconfig:"JOURNAL_DB_PATH"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "mcp-relay",
			Version: "0.1.0",
			Address: "0.0.0.0",
			Port:    3000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		AI: AIConfig{
			DefaultProvider:   "openai",
			OllamaBaseURL:     "http://localhost:11434/v1",
			OpenAIModel:       "gpt-4o-mini",
			AnthropicModel:    "claude-sonnet-4-5-20250929",
			OllamaModel:       "llama3",
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			MaxToolIterations: 1,
			Temperature:       0,
			MaxTokens:         4096,
			MaxResultPreview:  4000,
		},
		Tools: ToolsConfig{
			ServerURL:          "http://localhost:8000/sse",
			Transport:          "sse",
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  30 * time.Second,
			CallTimeout:        60 * time.Second,
			RefreshInterval:    60 * time.Second,
			DBConnectionsTool:  "list_database_connections",
			DBParamName:        "db_connection_name",
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  defaultDBPath(),
		},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mcp-relay", "journal.db")
	}
	return filepath.Join(home, ".mcp-relay", "journal.db")
}

// FromEnv overlays environment variables onto cfg. Unset variables leave
// the existing values untouched.
func FromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch strings.ToLower(c.AI.DefaultProvider) {
	case "openai", "anthropic", "ollama", "azure":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.AI.DefaultProvider)
	}

	if c.AI.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.AI.MaxRetries)
	}
	if c.AI.RetryBaseDelay < 0 {
		return fmt.Errorf("retry base delay must not be negative")
	}
	if c.AI.MaxToolIterations < 1 {
		return fmt.Errorf("max tool iterations must be at least 1, got %d", c.AI.MaxToolIterations)
	}
	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", c.AI.MaxTokens)
	}

	switch c.Tools.Transport {
	case "sse", "streamable":
		if c.Tools.ServerURL == "" {
			return fmt.Errorf("tool server URL is required for %s transport", c.Tools.Transport)
		}
	case "command":
		if c.Tools.Command == "" {
			return fmt.Errorf("tool server command is required for command transport")
		}
	default:
		return fmt.Errorf("invalid tool transport: %s", c.Tools.Transport)
	}

	if c.Tools.ReconnectBaseDelay <= 0 || c.Tools.ReconnectMaxDelay < c.Tools.ReconnectBaseDelay {
		return fmt.Errorf("invalid reconnect delays: base %s, max %s", c.Tools.ReconnectBaseDelay, c.Tools.ReconnectMaxDelay)
	}
	if c.Tools.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}

	if c.Store.Enabled && c.Store.DBPath == "" {
		return fmt.Errorf("journal database path is required when the journal is enabled")
	}
	return nil
}
