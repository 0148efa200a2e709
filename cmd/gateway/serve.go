package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/canopybank/llm-gateway/internal/audit"
	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/config"
	"github.com/canopybank/llm-gateway/internal/executor"
	"github.com/canopybank/llm-gateway/internal/gateway"
	"github.com/canopybank/llm-gateway/internal/memory"
	"github.com/canopybank/llm-gateway/internal/orchestrator"
	"github.com/canopybank/llm-gateway/internal/provider"
	"github.com/canopybank/llm-gateway/internal/registry"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the gateway server.

The server will:
1. Load configuration and the model registry
2. Open the conversation memory database
3. Initialize the provider adapter factory
4. Start the HTTP server with chat, permission, and model endpoints

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  gateway serve --config gateway.yaml

  # Start with debug logging
  gateway serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	auditor, err := audit.NewLogger(audit.Config{
		Enabled:           cfg.Audit.Enabled,
		Level:             audit.Level(cfg.Audit.Level),
		Format:            audit.Format(cfg.Audit.Format),
		Output:            cfg.Audit.Output,
		IncludeToolInput:  cfg.Audit.IncludeToolInput,
		IncludeToolOutput: cfg.Audit.IncludeToolOutput,
	})
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	defer auditor.Close()

	store, err := memory.NewSQLiteStore(memory.Config{
		Path:      cfg.Memory.Path,
		ActiveTTL: cfg.Memory.ActiveTTL,
	}, logger)
	if err != nil {
		return err
	}
	defer store.CloseDB()

	reg, err := registry.Load(cfg.Models.RegistryPath, logger)
	if err != nil {
		return err
	}

	factory := provider.NewFactory(provider.Credentials{
		OpenAIKey:    cfg.Providers.OpenAIAPIKey,
		OpenAIOrg:    cfg.Providers.OpenAIOrgID,
		AnthropicKey: cfg.Providers.AnthropicAPIKey,
		GoogleKey:    cfg.Providers.GoogleAPIKey,
		MistralKey:   cfg.Providers.MistralAPIKey,
		FireworksKey: cfg.Providers.FireworksAPIKey,
		CohereKey:    cfg.Providers.CohereAPIKey,
	})

	catalog := auth.DefaultCatalog()
	resolver := auth.NewResolver(catalog)
	validator := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Audience, resolver, logger)

	exec := executor.New(executor.Config{
		FinanceURL:   cfg.Backends.FinanceURL,
		UserURL:      cfg.Backends.UserURL,
		RetrievalURL: cfg.Backends.RetrievalURL,
	}, auditor, logger)

	systemPrompt := orchestrator.LoadSystemPrompt(cfg.Models.SystemPromptPath)
	orch := orchestrator.New(factory, store, exec, catalog, auditor, systemPrompt, logger)

	selector, err := gateway.NewModelSelector(reg, factory, cfg.Models.DefaultProvider, cfg.Models.DefaultModel, logger)
	if err != nil {
		return err
	}

	server := gateway.New(cfg.Server, orch, selector, reg, validator, resolver, store, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go store.RunSweeper(runCtx, cfg.Memory.SweepInterval)
	if cfg.Models.Watch {
		if err := reg.Watch(runCtx); err != nil {
			logger.Warn("registry watch unavailable", "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		return server.Shutdown(context.Background())
	}
}

func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
