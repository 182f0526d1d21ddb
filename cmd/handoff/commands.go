// Package main provides the CLI entry point for the handoff routing data layer.
//
// commands.go contains all cobra command definitions and their flag configurations.
// Each command builder function creates a command and wires it to its handler.
package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Parties Commands
// =============================================================================

// buildPartiesCmd creates the "parties" command group for managing registered
// users, bot instances, and aggregation channels.
func buildPartiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parties",
		Short: "Manage registered routing parties",
	}
	cmd.AddCommand(buildPartiesListCmd(), buildPartiesAddCmd(), buildPartiesRemoveCmd())
	return cmd
}

func buildPartiesListCmd() *cobra.Command {
	var configPath string
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartiesList(cmd, configPath, role)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "", "Filter by role (user, bot, aggregation)")
	return cmd
}

func buildPartiesAddCmd() *cobra.Command {
	var configPath string
	var role string
	cmd := &cobra.Command{
		Use:   "add [channel/conversation[/account]]",
		Short: "Register a party for routing",
		Long: `Register a party for routing.

The party is written as channel/conversation/account. When the account
segment is omitted a random account ID is generated.`,
		Example: `  # Register a user conversation
  handoff parties add telegram/chat-882/user-4411 --role user

  # Register a bot instance with a generated account ID
  handoff parties add slack/ops-1 --role bot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartiesAdd(cmd, configPath, args[0], role)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "user", "Party role (user, bot, aggregation)")
	return cmd
}

func buildPartiesRemoveCmd() *cobra.Command {
	var configPath string
	var role string
	cmd := &cobra.Command{
		Use:   "remove [channel/conversation/account]",
		Short: "Remove a registered party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartiesRemove(cmd, configPath, args[0], role)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "user", "Party role (user, bot, aggregation)")
	return cmd
}

// =============================================================================
// Requests Commands
// =============================================================================

// buildRequestsCmd creates the "requests" command group for the pending
// connection request queue.
func buildRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Manage pending connection requests",
	}
	cmd.AddCommand(
		buildRequestsListCmd(),
		buildRequestsAddCmd(),
		buildRequestsRejectCmd(),
		buildRequestsRemoveCmd(),
		buildRequestsSweepCmd(),
	)
	return cmd
}

func buildRequestsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending connection requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildRequestsAddCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "add [channel/conversation/account]",
		Short: "Queue a connection request for a party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestsAdd(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildRequestsRejectCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "reject [channel/conversation/account]",
		Short: "Reject a pending request, keeping it queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestsReject(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildRequestsRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "remove [channel/conversation/account]",
		Short: "Drop a pending request from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestsRemove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildRequestsSweepCmd() *cobra.Command {
	var (
		configPath string
		maxAge     time.Duration
		every      string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale pending requests",
		Long: `Expire pending requests older than the configured maximum age.

By default a single sweep runs and the command exits. With --every the
sweeper stays resident and runs on the given cron schedule until
interrupted; the metrics endpoint is served while it runs when enabled
in the configuration.`,
		Example: `  # One-shot sweep with an explicit age limit
  handoff requests sweep --max-age 48h

  # Resident sweeper
  handoff requests sweep --every "@every 10m"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequestsSweep(cmd, configPath, maxAge, every)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Age past which requests expire (default from config)")
	cmd.Flags().StringVar(&every, "every", "", "Cron schedule to keep sweeping on (default one-shot)")
	return cmd
}

// =============================================================================
// Connections Commands
// =============================================================================

// buildConnectionsCmd creates the "connections" command group for active
// operator/conversation pairings.
func buildConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage active connections",
	}
	cmd.AddCommand(buildConnectionsListCmd(), buildConnectionsConnectCmd(), buildConnectionsDisconnectCmd())
	return cmd
}

func buildConnectionsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectionsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConnectionsConnectCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "connect [owner] [client]",
		Short: "Connect an owner party to a client party",
		Example: `  # Pair an operator with a waiting user
  handoff connections connect slack/ops-1/agent-7 telegram/chat-882/user-4411`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectionsConnect(cmd, configPath, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func buildConnectionsDisconnectCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "disconnect [channel/conversation/account]",
		Short: "Tear down the connection involving a party",
		Long: `Tear down the connection involving a party.

The party may be either side of the pairing; the connection is resolved
from whichever side is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnectionsDisconnect(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Migrate Command
// =============================================================================

// buildMigrateCmd creates the "migrate" command that ensures the routing
// schema exists.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the routing tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Wipe Command
// =============================================================================

// buildWipeCmd creates the "wipe" command that clears all routing data.
func buildWipeCmd() *cobra.Command {
	var configPath string
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete all routing data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWipe(cmd, configPath, yes)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion of all routing data")
	return cmd
}
