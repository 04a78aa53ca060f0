// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jolks/mcp-relay/internal/agent"
	"github.com/jolks/mcp-relay/internal/config"
	"github.com/jolks/mcp-relay/internal/logging"
	"github.com/jolks/mcp-relay/internal/model"
	"github.com/jolks/mcp-relay/internal/provider"
	"github.com/jolks/mcp-relay/internal/store"
)

// flags holds the command-line overrides shared by every command.
type flags struct {
	address       string
	port          int
	logLevel      string
	logFile       string
	logConsole    bool
	provider      string
	toolURL       string
	toolTransport string
	toolCommand   string
	maxIterations int
	dbPath        string
	noJournal     bool
	noTools       bool
	debug         bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		f   flags
		cfg *config.Config
	)

	rootCmd := &cobra.Command{
		Use:   "mcp-relay",
		Short: "Chat relay between language models and an MCP tool server",
		Long: `mcp-relay connects chat clients to a language model (OpenAI, Anthropic,
Ollama or Azure OpenAI) and lets the model call the tools exposed by an MCP
tool-execution service.

Examples:
  mcp-relay serve --port 3000
  mcp-relay tools
  mcp-relay ask "what is the weather in Paris?"
  mcp-relay journal --limit 10`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(f)
			if err != nil {
				return err
			}
			return setupLogger(cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.logLevel, "log-level", "", "Logging level: debug, info, warn, error, fatal")
	pf.StringVar(&f.logFile, "log-file", "", "Log file path (default: stderr)")
	pf.BoolVar(&f.logConsole, "log-console", false, "Human-readable log lines instead of JSON")
	pf.StringVar(&f.provider, "provider", "", "Default LLM provider: openai, anthropic, ollama or azure")
	pf.StringVar(&f.toolURL, "tool-url", "", "URL of the MCP tool server")
	pf.StringVar(&f.toolTransport, "tool-transport", "", "Tool server transport: sse, streamable or command")
	pf.StringVar(&f.toolCommand, "tool-command", "", "Command that starts a stdio MCP tool server")
	pf.StringVar(&f.dbPath, "db-path", "", "Path to the SQLite invocation journal (default: ~/.mcp-relay/journal.db)")
	pf.BoolVar(&f.noJournal, "no-journal", false, "Do not record tool invocations")
	pf.BoolVar(&f.noTools, "no-tools", false, "Run without a tool server (plain chat only)")
	pf.IntVar(&f.maxIterations, "max-tool-iterations", 0, "Tool calls resolved per turn before the final answer (default: 1)")
	pf.BoolVar(&f.debug, "debug", false, "Emit debug events to clients")

	rootCmd.AddCommand(serveCmd(&f, &cfg))
	rootCmd.AddCommand(toolsCmd(out, &cfg))
	rootCmd.AddCommand(modelsCmd(out, &cfg))
	rootCmd.AddCommand(journalCmd(out, &cfg))
	rootCmd.AddCommand(askCmd(out, &f, &cfg))
	rootCmd.AddCommand(versionCmd(out))
	return rootCmd
}

func serveCmd(f *flags, cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, WebSocket and MCP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			if f.address != "" {
				c.Server.Address = f.address
			}
			if f.port != 0 {
				c.Server.Port = f.port
			}
			if err := c.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := createApp(c, appOptions{tools: !f.noTools, server: true})
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := app.Start(ctx); err != nil {
				_ = app.Stop()
				return fmt.Errorf("failed to start application: %w", err)
			}

			waitForShutdown(cancel, app)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.address, "address", "", "The address to bind the server to")
	cmd.Flags().IntVar(&f.port, "port", 0, "The port to bind the server to")
	return cmd
}

func toolsCmd(out io.Writer, cfg **config.Config) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Connect to the tool server once and print the normalized catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := newToolClient(*cfg, logging.GetDefaultLogger())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return fmt.Errorf("connect to tool server: %w", err)
			}
			return printJSON(out, client.Snapshot())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Connection and discovery timeout")
	return cmd
}

func modelsCmd(out io.Writer, cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models available per configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetDefaultLogger()
			registry, err := provider.New(*cfg, logger)
			if err != nil {
				return err
			}
			return printJSON(out, registry.ListAllModels(cmd.Context(), logger))
		},
	}
}

func journalCmd(out io.Writer, cfg **config.Config) *cobra.Command {
	var (
		sessionID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recent tool invocations from the journal, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := store.NewSQLiteStore((*cfg).Store.DBPath)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer journal.Close()

			records, err := journal.RecentInvocations(sessionID, limit)
			if err != nil {
				return err
			}
			if records == nil {
				records = []*model.InvocationRecord{}
			}
			return printJSON(out, records)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Only show invocations of this session")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	return cmd
}

func askCmd(out io.Writer, f *flags, cfg **config.Config) *cobra.Command {
	var (
		llmModel string
		dbName   string
		timeout  time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := createApp(c, appOptions{tools: !f.noTools})
			if err != nil {
				return err
			}
			defer app.Stop()

			if app.tools != nil {
				connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
				err := app.tools.Connect(connectCtx)
				connectCancel()
				if err != nil {
					return fmt.Errorf("connect to tool server: %w", err)
				}
			}

			in := model.InboundTurn{
				Text:        strings.Join(args, " "),
				UseMCP:      app.tools != nil,
				LLMProvider: c.AI.DefaultProvider,
			}
			if llmModel != "" {
				in.LLMModel = &llmModel
			}
			if dbName != "" {
				in.DBConnectionName = &dbName
			}

			ans, askErr := agent.Ask(ctx, app.manager, "cli", in, timeout)
			if asJSON {
				if err := printJSON(out, ans); err != nil {
					return err
				}
				return askErr
			}
			if askErr != nil {
				return askErr
			}
			fmt.Fprintln(out, ans.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&llmModel, "model", "", "Model name (default: the provider's configured model)")
	cmd.Flags().StringVar(&dbName, "db", "", "Database connection the tools should target")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time for the whole turn")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer with tool calls as JSON")
	return cmd
}

func versionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// Version does not need a valid configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultConfig()
			fmt.Fprintf(out, "%s version %s\n", cfg.Server.Name, cfg.Server.Version)
		},
	}
}

// loadConfig loads configuration from defaults, environment and command line flags
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if err := config.FromEnv(cfg); err != nil {
		return nil, err
	}

	applyFlagsToConfig(cfg, f)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlagsToConfig applies command line flags to the configuration
func applyFlagsToConfig(cfg *config.Config, f flags) {
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFile != "" {
		cfg.Logging.FilePath = f.logFile
	}
	if f.logConsole {
		cfg.Logging.Console = true
	}
	if f.provider != "" {
		cfg.AI.DefaultProvider = strings.ToLower(f.provider)
	}
	if f.toolURL != "" {
		cfg.Tools.ServerURL = f.toolURL
	}
	if f.toolTransport != "" {
		cfg.Tools.Transport = f.toolTransport
	}
	if f.toolCommand != "" {
		cfg.Tools.Command = f.toolCommand
		if f.toolTransport == "" {
			cfg.Tools.Transport = "command"
		}
	}
	if f.maxIterations > 0 {
		cfg.AI.MaxToolIterations = f.maxIterations
	}
	if f.dbPath != "" {
		cfg.Store.DBPath = f.dbPath
	}
	if f.noJournal {
		cfg.Store.Enabled = false
	}
	if f.debug {
		cfg.AI.Debug = true
	}
}

// setupLogger installs the default logger described by cfg.
func setupLogger(cfg *config.Config) error {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.FilePath != "" {
		logger, err := logging.FileLogger(cfg.Logging.FilePath, level)
		if err != nil {
			return err
		}
		logging.SetDefaultLogger(logger)
		return nil
	}
	logging.SetDefaultLogger(logging.New(logging.Options{
		Output:  os.Stderr,
		Level:   level,
		Console: cfg.Logging.Console,
	}))
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// waitForShutdown waits for a termination signal and performs cleanup
func waitForShutdown(cancel context.CancelFunc, app *Application) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	<-signalCh
	app.logger.Infof("Received termination signal, shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		if err := app.Stop(); err != nil {
			app.logger.Errorf("Error during shutdown: %v", err)
		}
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		app.logger.Infof("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		app.logger.Warnf("Shutdown timed out")
	}
}
