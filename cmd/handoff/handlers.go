// Package main provides the CLI entry point for the handoff routing data layer.
//
// handlers.go contains the command handlers. Each handler loads configuration,
// opens the routing store, runs one manager operation, and prints the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/handoff/internal/config"
	"github.com/haasonsaas/handoff/pkg/models"
	"github.com/haasonsaas/handoff/pkg/routing"
)

// =============================================================================
// Parties Command Handlers
// =============================================================================

func runPartiesList(cmd *cobra.Command, configPath, role string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	sections := []struct {
		role    models.PartyRole
		parties []models.Party
	}{
		{models.RoleUser, manager.GetUsers(ctx)},
		{models.RoleBot, manager.GetBotInstances(ctx)},
		{models.RoleAggregation, manager.GetAggregationChannels(ctx)},
	}

	if strings.TrimSpace(role) != "" {
		wanted, err := parseRole(role)
		if err != nil {
			return err
		}
		filtered := sections[:0]
		for _, section := range sections {
			if section.role == wanted {
				filtered = append(filtered, section)
			}
		}
		sections = filtered
	}

	total := 0
	for _, section := range sections {
		total += len(section.parties)
	}
	if total == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No parties registered.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tCHANNEL\tCONVERSATION\tACCOUNT")
	for _, section := range sections {
		for _, party := range section.parties {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				section.role, party.ChannelID, party.ConversationID, party.AccountID)
		}
	}
	return w.Flush()
}

func runPartiesAdd(cmd *cobra.Command, configPath, partyArg, roleArg string) error {
	party, err := parseNewParty(partyArg)
	if err != nil {
		return err
	}
	role, err := parseRole(roleArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !manager.AddParty(cmd.Context(), party, role) {
		return fmt.Errorf("party %s was not added; it may already be registered", party)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s %s.\n", role, party)
	return nil
}

func runPartiesRemove(cmd *cobra.Command, configPath, partyArg, roleArg string) error {
	party, err := parseParty(partyArg)
	if err != nil {
		return err
	}
	role, err := parseRole(roleArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !manager.RemoveParty(cmd.Context(), party, role) {
		return fmt.Errorf("party %s is not registered as %s", party, role)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s %s.\n", role, party)
	return nil
}

// =============================================================================
// Requests Command Handlers
// =============================================================================

func runRequestsList(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	requests := manager.GetPendingRequests(cmd.Context())
	if len(requests) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending requests.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUESTER\tREQUESTED\tREJECTIONS")
	for _, request := range requests {
		fmt.Fprintf(w, "%s\t%s\t%d\n",
			request.Requester, request.RequestedAt.Format(time.RFC3339), request.Rejections)
	}
	return w.Flush()
}

func runRequestsAdd(cmd *cobra.Command, configPath, partyArg string) error {
	party, err := parseParty(partyArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !manager.AddPendingRequest(cmd.Context(), party) {
		return fmt.Errorf("request for %s was not queued; the party may already be waiting or connected", party)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued connection request for %s.\n", party)
	return nil
}

func runRequestsReject(cmd *cobra.Command, configPath, partyArg string) error {
	party, err := parseParty(partyArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := cmd.Context()
	if !manager.RejectPendingRequest(ctx, party) {
		return fmt.Errorf("no pending request for %s", party)
	}

	rejections := 0
	for _, request := range manager.GetPendingRequests(ctx) {
		if request.Requester.Equal(party) {
			rejections = request.Rejections
			break
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rejected request from %s (rejections: %d).\n", party, rejections)
	return nil
}

func runRequestsRemove(cmd *cobra.Command, configPath, partyArg string) error {
	party, err := parseParty(partyArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !manager.RemovePendingRequest(cmd.Context(), party) {
		return fmt.Errorf("no pending request for %s", party)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed pending request for %s.\n", party)
	return nil
}

func runRequestsSweep(cmd *cobra.Command, configPath string, maxAge time.Duration, every string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if maxAge <= 0 {
		maxAge = cfg.Sweep.MaxAge
	}
	resident := cmd.Flags().Changed("every")
	schedule := every
	if schedule == "" {
		schedule = cfg.Sweep.Schedule
	}
	if resident {
		configureLogging(cfg)
	}

	var metrics *routing.Metrics
	if resident && cfg.Metrics.Enabled {
		metrics = routing.NewMetrics()
	}

	manager, closeFn, err := openManager(cfg, metrics)
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	if !resident {
		removed := manager.RemoveExpiredRequests(cmd.Context(), maxAge)
		fmt.Fprintf(out, "Removed %d expired request(s).\n", removed)
		return nil
	}

	sweeper, err := routing.NewSweeper(manager, routing.SweeperConfig{
		Schedule: schedule,
		MaxAge:   maxAge,
		Logger:   slog.Default(),
	})
	if err != nil {
		return err
	}

	// Cancel on shutdown signals.
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metricsServer *http.Server
	if metrics != nil {
		metricsServer = startMetricsServer(cfg.Metrics.Addr)
	}

	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Sweeping requests older than %s on schedule %q. Press Ctrl-C to stop.\n",
		maxAge, schedule)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "error", err)
		}
	}
	return sweeper.Stop(shutdownCtx)
}

// =============================================================================
// Connections Command Handlers
// =============================================================================

func runConnectionsList(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	connections := manager.GetConnectedParties(cmd.Context())
	if len(connections) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No active connections.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tCLIENT")
	for owner, client := range connections {
		fmt.Fprintf(w, "%s\t%s\n", owner, client)
	}
	return w.Flush()
}

func runConnectionsConnect(cmd *cobra.Command, configPath, ownerArg, clientArg string) error {
	owner, err := parseParty(ownerArg)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	client, err := parseParty(clientArg)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !manager.Connect(cmd.Context(), owner, client) {
		return fmt.Errorf("connection rejected; a party may be busy, an aggregation channel, or the same on both sides")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connected %s to %s.\n", owner, client)
	return nil
}

func runConnectionsDisconnect(cmd *cobra.Command, configPath, partyArg string) error {
	party, err := parseParty(partyArg)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	if !manager.Disconnect(cmd.Context(), party) {
		return fmt.Errorf("%s is not part of any connection", party)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Disconnected %s.\n", party)
	return nil
}

// =============================================================================
// Migrate and Wipe Command Handlers
// =============================================================================

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Routing schema is up to date.")
	return nil
}

func runWipe(cmd *cobra.Command, configPath string, yes bool) error {
	if !yes {
		return fmt.Errorf("refusing to delete all routing data without --yes")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	manager, closeFn, err := openManager(cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	manager.DeleteAll(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), "All routing data deleted.")
	return nil
}

// =============================================================================
// Shared Helpers
// =============================================================================

// openStore connects to the routing database described by the config.
func openStore(cfg *config.Config) (*routing.PostgresStore, error) {
	pgCfg := routing.DefaultPostgresConfig()
	pgCfg.Host = cfg.Database.Host
	pgCfg.Port = cfg.Database.Port
	pgCfg.User = cfg.Database.User
	pgCfg.Password = cfg.Database.Password
	pgCfg.Database = cfg.Database.Database
	pgCfg.SSLMode = cfg.Database.SSLMode
	if cfg.Database.MaxConnections > 0 {
		pgCfg.MaxOpenConns = cfg.Database.MaxConnections
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		pgCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnectTimeout > 0 {
		pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout
	}
	pgCfg.Logger = slog.Default()

	if strings.TrimSpace(cfg.Database.URL) != "" {
		return routing.NewPostgresStoreFromDSN(cfg.Database.URL, pgCfg)
	}
	return routing.NewPostgresStore(pgCfg)
}

// openManager connects to the routing database and wraps it in the rule layer.
func openManager(cfg *config.Config, metrics *routing.Metrics) (*routing.Manager, func(), error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	manager, err := routing.NewManager(routing.ManagerConfig{
		Store:   store,
		Logger:  slog.Default(),
		Metrics: metrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return manager, func() { _ = store.Close() }, nil
}

// configureLogging applies the configured log level and format. Only resident
// commands call this; one-shot commands keep the process default handler.
func configureLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// startMetricsServer serves /metrics and /healthz in the background.
func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return server
}

// parseRole maps a CLI role name to a registration category.
func parseRole(role string) (models.PartyRole, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return models.RoleUser, nil
	case "bot":
		return models.RoleBot, nil
	case "aggregation":
		return models.RoleAggregation, nil
	default:
		return "", fmt.Errorf("unknown role %q (expected user, bot, or aggregation)", role)
	}
}

// parseParty parses a channel/conversation/account reference.
func parseParty(arg string) (models.Party, error) {
	parts := strings.Split(strings.TrimSpace(arg), "/")
	if len(parts) != 3 {
		return models.Party{}, fmt.Errorf("party %q must be channel/conversation/account", arg)
	}
	return newParty(parts[0], parts[1], parts[2], arg)
}

// parseNewParty parses a party reference, generating an account ID when the
// third segment is omitted.
func parseNewParty(arg string) (models.Party, error) {
	parts := strings.Split(strings.TrimSpace(arg), "/")
	switch len(parts) {
	case 2:
		return newParty(parts[0], parts[1], uuid.NewString(), arg)
	case 3:
		return newParty(parts[0], parts[1], parts[2], arg)
	default:
		return models.Party{}, fmt.Errorf("party %q must be channel/conversation[/account]", arg)
	}
}

func newParty(channelID, conversationID, accountID, arg string) (models.Party, error) {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(conversationID) == "" || strings.TrimSpace(accountID) == "" {
		return models.Party{}, fmt.Errorf("party %q has empty segments", arg)
	}
	return models.Party{
		ChannelID:      channelID,
		ConversationID: conversationID,
		AccountID:      accountID,
	}, nil
}
