// Package main provides the CLI entry point for the Helmsman agent runner.
//
// Helmsman drives turn-based LLM agent runs against a tool registry, with
// human approval gating for mutating tools and checkpointed conversations
// that survive process restarts.
//
// # Basic Usage
//
// Start a run:
//
//	helmsman run "restart the nginx service" --conversation ops-42
//
// Resume a run paused for tool approval:
//
//	helmsman resume --conversation ops-42 --approve call_abc123
//
// Inspect the tool registry:
//
//	helmsman tools
//
// # Environment Variables
//
//   - HELMSMAN_CONFIG: Path to configuration file (default: helmsman.yaml)
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP gRPC collector for trace export
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/helmsman-ai/helmsman/internal/catalog"
	"github.com/helmsman-ai/helmsman/internal/checkpoint"
	"github.com/helmsman-ai/helmsman/internal/config"
	"github.com/helmsman-ai/helmsman/internal/observability"
	"github.com/helmsman-ai/helmsman/internal/orchestrator"
	"github.com/helmsman-ai/helmsman/internal/provider"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "helmsman",
		Short: "Helmsman - Turn-based LLM agent runner",
		Long: `Helmsman runs LLM agents against a JSON-over-HTTP tool registry.

Mutating tools pause the run for operator approval; conversations are
checkpointed so paused and completed runs can be picked up again with
"helmsman resume" or a follow-up "helmsman run".`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildToolsCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Start or continue an agent run",
		Long: `Start an agent run with the given prompt.

When --conversation names an existing checkpointed conversation, its
transcript is restored and the prompt continues it. Events stream to
stdout as JSON lines; press Ctrl-C to stop the run cooperatively.`,
		Example: `  # One-shot run
  helmsman run "why is disk usage growing on web-3?"

  # Continue a named conversation
  helmsman run "now fix it" --conversation ops-42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, debug)
			if err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg, args[0], func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.RunState, error) {
				return o.Run(ctx, conversationID, args[0])
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id for checkpointing (defaults to the run id)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildResumeCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		approve        []string
		deny           []string
		debug          bool
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a run paused for tool approval",
		Long: `Resume a conversation paused for tool approval, applying the given
decisions to the outstanding calls. Call ids are printed in the
tool.awaiting_approval event when the run pauses.`,
		Example: `  helmsman resume --conversation ops-42 --approve call_abc123
  helmsman resume --conversation ops-42 --deny call_abc123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if conversationID == "" {
				return fmt.Errorf("--conversation is required")
			}
			if len(approve) == 0 && len(deny) == 0 {
				return fmt.Errorf("at least one --approve or --deny is required")
			}
			cfg, err := loadConfig(configPath, debug)
			if err != nil {
				return err
			}
			decisions := make(map[string]bool, len(approve)+len(deny))
			for _, id := range approve {
				decisions[id] = true
			}
			for _, id := range deny {
				decisions[id] = false
			}
			return runAgent(cmd.Context(), cfg, "", func(ctx context.Context, o *orchestrator.Orchestrator) (*orchestrator.RunState, error) {
				return o.Resume(ctx, conversationID, decisions)
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation id of the paused run")
	cmd.Flags().StringArrayVar(&approve, "approve", nil, "Call id to approve (repeatable)")
	cmd.Flags().StringArrayVar(&deny, "deny", nil, "Call id to deny (repeatable)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools exposed by the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, false)
			if err != nil {
				return err
			}
			invoker := newInvoker(cfg)
			specs, err := invoker.ListTools(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list tools: %w", err)
			}
			for _, spec := range specs {
				marker := "requires approval"
				if spec.Annotations != nil && spec.Annotations.ReadOnlyHint {
					marker = "read-only"
				}
				fmt.Printf("%-30s %-18s %s\n", spec.Name, marker, spec.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("helmsman %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// loadConfig reads the config file, falling back to defaults when no
// path is given and HELMSMAN_CONFIG is unset.
func loadConfig(path string, debug bool) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("HELMSMAN_CONFIG")
	}
	var cfg *config.Config
	if path == "" {
		if _, err := os.Stat("helmsman.yaml"); err == nil {
			path = "helmsman.yaml"
		}
	}
	if path == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// runAgent wires the full stack and drives one run to a terminal state,
// streaming events to stdout as JSON lines. A non-empty firstPrompt
// marks a "run" invocation so a brand-new conversation gets a title.
func runAgent(ctx context.Context, cfg *config.Config, firstPrompt string, drive func(context.Context, *orchestrator.Orchestrator) (*orchestrator.RunState, error)) error {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	apiKey := cfg.ResolveAPIKey()
	if apiKey == "" {
		return fmt.Errorf("no API key configured for provider %q", cfg.LLM.Provider)
	}

	var client provider.Client
	var err error
	switch cfg.LLM.Provider {
	case "anthropic":
		client, err = provider.NewAnthropicClient(apiKey, cfg.LLM.Model, logger)
	default:
		client, err = provider.NewOpenAIClient(apiKey, cfg.LLM.Model, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s provider: %w", cfg.LLM.Provider, err)
	}

	store := newCheckpointStore(cfg, logger)

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName: "helmsman",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:  1.0,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithCheckpointStore(store),
		orchestrator.WithTracer(tracer),
		orchestrator.WithConfig(orchestrator.Config{
			Model:            cfg.LLM.Model,
			Temperature:      cfg.LLM.Temperature,
			MaxTokens:        cfg.LLM.MaxTokens,
			MaxIterations:    cfg.Run.MaxIterations,
			MaxRetries:       cfg.Run.MaxRetries,
			AutoContinueMax:  cfg.Run.AutoContinueMax,
			StopPollInterval: cfg.Run.StopPollInterval,
		}),
	}

	if cfg.Metrics.Enabled {
		metrics, registry := observability.NewMetrics()
		opts = append(opts, orchestrator.WithMetrics(metrics))
		go serveMetrics(cfg.Metrics.Addr, registry, logger)
	}

	// The run id is minted inside the orchestrator; capture it from the
	// event stream so Ctrl-C can target the right run.
	var runMu sync.Mutex
	var currentRunID string
	enc := json.NewEncoder(os.Stdout)
	opts = append(opts, orchestrator.WithEventSink(func(e *models.Event) {
		runMu.Lock()
		currentRunID = e.RunID
		runMu.Unlock()
		if err := enc.Encode(e); err != nil {
			logger.Warn("failed to write event", "error", err)
		}
	}))

	o := orchestrator.New(client, newInvoker(cfg), opts...)
	defer func() {
		if err := o.Close(); err != nil {
			logger.Warn("shutdown error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Info("stop requested", "signal", sig.String())
		runMu.Lock()
		id := currentRunID
		runMu.Unlock()
		if id != "" {
			o.Stops().RequestStop(id)
		}
	}()

	state, err := drive(ctx, o)
	if err != nil {
		return err
	}
	if state.Error != "" {
		logger.Warn("run finished with error", "run_id", state.RunID, "error", state.Error)
	}
	if state.AwaitingApproval {
		logger.Info("run paused for approval",
			"conversation_id", state.ConversationID,
			"pending_tools", len(state.PendingTools))
	}

	// Title a conversation on its first completed exchange. A restored
	// transcript starts with an earlier prompt, so this fires once.
	if firstPrompt != "" && state.Error == "" && !state.AwaitingApproval &&
		len(state.Messages) > 0 && state.Messages[0].Content == firstPrompt {
		title := o.GenerateTitle(ctx, state.Messages)
		logger.Info("conversation titled",
			"conversation_id", state.ConversationID, "title", title)
	}
	return nil
}

func newInvoker(cfg *config.Config) *catalog.HTTPInvoker {
	opts := []catalog.HTTPInvokerOption{
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Registry.Timeout}),
	}
	for k, v := range cfg.Registry.Headers {
		opts = append(opts, catalog.WithHeader(k, v))
	}
	return catalog.NewHTTPInvoker(cfg.Registry.URL, opts...)
}

// newCheckpointStore prefers Postgres when configured, falling back to
// the in-memory store so a database outage does not block one-shot use.
func newCheckpointStore(cfg *config.Config, logger *slog.Logger) checkpoint.Store {
	if cfg.Checkpoint.PostgresURL == "" {
		return checkpoint.NewMemoryStore()
	}
	store, err := checkpoint.NewPostgresStore(cfg.Checkpoint.PostgresURL, checkpoint.DefaultPostgresConfig())
	if err != nil {
		logger.Warn("postgres checkpoint store unavailable, using in-memory store", "error", err)
		return checkpoint.NewMemoryStore()
	}
	return store
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
