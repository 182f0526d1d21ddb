// Package main provides the CLI entry point for the handoff routing data layer.
//
// Handoff tracks which conversations are registered for message routing, which
// of them are waiting for an operator, and which operator/conversation pairs
// are currently connected. All commands operate on a shared PostgreSQL or
// CockroachDB database, so any number of bot instances can route against the
// same state.
//
// # Basic Usage
//
// Create the routing tables:
//
//	handoff migrate --config handoff.yaml
//
// Register parties and inspect routing state:
//
//	handoff parties add telegram/chat-882/user-4411 --role user
//	handoff parties list
//
// Manage the request queue and connections:
//
//	handoff requests add telegram/chat-882/user-4411
//	handoff connections connect slack/ops-1/agent-7 telegram/chat-882/user-4411
//	handoff requests sweep --every "@every 10m"
//
// # Environment Variables
//
//   - HANDOFF_CONFIG: Path to configuration file, used when --config is not set
//   - Any variable referenced from the config file via ${VAR} expansion
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/handoff/internal/config"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Configure structured logging with JSON output for production parsing.
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

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "handoff",
		Short: "Handoff - routing data layer for human/bot conversation pairing",
		Long: `Handoff manages the shared routing state behind conversation pairing:
registered users, bot instances and aggregation channels, the queue of
pending connection requests, and the active operator connections.

State lives in PostgreSQL or CockroachDB so every bot instance sees the
same routing decisions.

Documentation: https://github.com/haasonsaas/handoff`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildPartiesCmd(),
		buildRequestsCmd(),
		buildConnectionsCmd(),
		buildMigrateCmd(),
		buildWipeCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return strings.TrimSpace(os.Getenv("HANDOFF_CONFIG"))
	}
	return path
}

// loadConfig loads the config file, falling back to built-in defaults when no
// path is given anywhere. The defaults point at a local database.
func loadConfig(path string) (*config.Config, error) {
	path = resolveConfigPath(path)
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
