// Package main provides the CLI entry point for the Canopy LLM gateway.
//
// The gateway fronts six LLM vendors behind one banking chat API with
// JWT-authenticated tool calling, conversation memory, and audit logging.
//
// # Basic Usage
//
// Start the server:
//
//	gateway serve --config gateway.yaml
//
// # Environment Variables
//
// API keys are normally provided via environment variables referenced from
// the config file:
//
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY
//   - MISTRAL_API_KEY, FIREWORKS_API_KEY, COHERE_API_KEY
//   - GATEWAY_JWT_SECRET: shared secret for bearer token verification
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
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

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Canopy LLM gateway - provider-agnostic banking chat API",
		Long: `The Canopy LLM gateway fronts multiple LLM vendors behind one chat API
with JWT-authenticated tool calling against banking backends.

Supported providers: OpenAI, Anthropic, Google, Cohere, Mistral, Fireworks`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildModelsCmd(),
	)
	return rootCmd
}
