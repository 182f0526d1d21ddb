package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/handoff/pkg/models"
)

// PostgresStore implements Store on a shared PostgreSQL or CockroachDB
// database, so multiple bot instances route against the same state. Rows
// live in two tables addressed by (partition_key, row_key) pairs; payloads
// are self-contained JSON, never joined.
//
// Per the Store contract, backend failures degrade reads to empty results
// and writes to false. Failures are visible only in the diagnostic log.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// PostgresConfig holds connection settings for the routing database.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// Logger receives backend failure diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Now stamps request and connection times. Defaults to time.Now.
	Now func() time.Time
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "",
		Database:        "handoff",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore creates a routing store from discrete connection settings
// and ensures the schema exists.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		config.Host, config.Port, config.User, config.Password,
		config.Database, config.SSLMode, int(config.ConnectTimeout.Seconds()),
	)

	return newPostgresStoreWithDSN(dsn, config)
}

// NewPostgresStoreFromDSN creates a routing store from a raw DSN/URL and
// ensures the schema exists.
func NewPostgresStoreFromDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	return newPostgresStoreWithDSN(dsn, config)
}

func newPostgresStoreWithDSN(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	store := &PostgresStore{
		db:     db,
		logger: logger.With("component", "routing-store"),
		now:    now,
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the routing tables when missing. The constructors run
// it so a fresh database works without a separate migration step; the CLI
// migrate command invokes it explicitly.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS parties (
			partition_key TEXT NOT NULL,
			row_key       TEXT NOT NULL,
			kind          TEXT NOT NULL,
			payload       JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (partition_key, row_key)
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			partition_key TEXT NOT NULL,
			row_key       TEXT NOT NULL,
			owner         JSONB NOT NULL,
			client        JSONB NOT NULL,
			connected_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (partition_key, row_key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure routing schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) AddParty(ctx context.Context, party models.Party, role models.PartyRole) bool {
	kind, ok := roleKind(role)
	if !ok {
		return false
	}

	stored := party.WithRole(role)
	payload, err := json.Marshal(stored)
	if err != nil {
		s.logger.Error("error marshaling party", "kind", kind, "error", err)
		return false
	}
	return s.insertPartyRow(ctx, kind, partyRowKey(stored), payload)
}

func (s *PostgresStore) RemoveParty(ctx context.Context, party models.Party, role models.PartyRole) bool {
	kind, ok := roleKind(role)
	if !ok {
		return false
	}

	rowKey := partyRowKey(party)
	return s.deletePartyRow(ctx, partyPartitionKey(rowKey, kind), rowKey)
}

func (s *PostgresStore) GetUsers(ctx context.Context) []models.Party {
	return s.listParties(ctx, kindUser)
}

func (s *PostgresStore) GetBotInstances(ctx context.Context) []models.Party {
	return s.listParties(ctx, kindBot)
}

func (s *PostgresStore) GetAggregationChannels(ctx context.Context) []models.Party {
	return s.listParties(ctx, kindAggregation)
}

func (s *PostgresStore) AddConnectionRequest(ctx context.Context, request models.ConnectionRequest) bool {
	request.Requester = request.Requester.WithRole(models.RolePendingRequester)
	if request.RequestedAt.IsZero() {
		request.RequestedAt = s.now()
	}

	payload, err := json.Marshal(request)
	if err != nil {
		s.logger.Error("error marshaling connection request", "error", err)
		return false
	}
	return s.insertPartyRow(ctx, kindRequest, partyRowKey(request.Requester), payload)
}

func (s *PostgresStore) RemoveConnectionRequest(ctx context.Context, request models.ConnectionRequest) bool {
	rowKey := partyRowKey(request.Requester)
	return s.deletePartyRow(ctx, partyPartitionKey(rowKey, kindRequest), rowKey)
}

func (s *PostgresStore) GetConnectionRequests(ctx context.Context) []models.ConnectionRequest {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM parties WHERE kind = $1 ORDER BY created_at`, kindRequest)
	if err != nil {
		s.logger.Error("error listing connection requests", "error", err)
		return nil
	}
	defer rows.Close()

	var requests []models.ConnectionRequest
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			s.logger.Error("error scanning connection request row", "error", err)
			return nil
		}
		var request models.ConnectionRequest
		if err := json.Unmarshal(payload, &request); err != nil {
			s.logger.Error("error unmarshaling connection request payload", "error", err)
			continue
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("error iterating connection request rows", "error", err)
		return nil
	}
	return requests
}

func (s *PostgresStore) AddConnection(ctx context.Context, owner, client models.Party) bool {
	conn := models.Connection{
		Owner:       owner.WithRole(models.RoleConnectionOwner),
		Client:      client.WithRole(models.RoleConnectionClient),
		ConnectedAt: s.now(),
	}

	ownerJSON, err := json.Marshal(conn.Owner)
	if err != nil {
		s.logger.Error("error marshaling connection owner", "error", err)
		return false
	}
	clientJSON, err := json.Marshal(conn.Client)
	if err != nil {
		s.logger.Error("error marshaling connection client", "error", err)
		return false
	}

	partitionKey, rowKey := connectionKeys(conn.Owner, conn.Client)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO connections (partition_key, row_key, owner, client, connected_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		partitionKey, rowKey, ownerJSON, clientJSON, conn.ConnectedAt)
	if err != nil {
		s.logger.Error("error inserting connection",
			"owner", conn.Owner.String(), "client", conn.Client.String(), "error", err)
		return false
	}
	return true
}

// RemoveConnection resolves the connection owned by owner from the full
// connection set, then deletes it by composite key. The read and the delete
// are separate statements with no cross-instance isolation: a concurrent
// disconnect of the same owner can interleave, and the later delete reports
// false.
func (s *PostgresStore) RemoveConnection(ctx context.Context, owner models.Party) bool {
	conn, err := s.findConnection(ctx, owner)
	if err == ErrNotFound {
		return false
	}
	if err != nil {
		s.logger.Error("error resolving connection", "owner", owner.String(), "error", err)
		return false
	}

	partitionKey, rowKey := connectionKeys(conn.Owner, conn.Client)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM connections WHERE partition_key = $1 AND row_key = $2`,
		partitionKey, rowKey)
	if err != nil {
		s.logger.Error("error deleting connection", "owner", owner.String(), "error", err)
		return false
	}
	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error("error reading delete result", "owner", owner.String(), "error", err)
		return false
	}
	return rows > 0
}

func (s *PostgresStore) GetConnections(ctx context.Context) map[models.Party]models.Party {
	conns, err := s.queryConnections(ctx)
	if err != nil {
		s.logger.Error("error listing connections", "error", err)
		return map[models.Party]models.Party{}
	}

	out := make(map[models.Party]models.Party, len(conns))
	for _, conn := range conns {
		out[conn.Owner] = conn.Client
	}
	return out
}

func (s *PostgresStore) DeleteAll(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM parties`); err != nil {
		s.logger.Error("error wiping parties", "error", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections`); err != nil {
		s.logger.Error("error wiping connections", "error", err)
	}
}

func (s *PostgresStore) insertPartyRow(ctx context.Context, kind, rowKey string, payload []byte) bool {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parties (partition_key, row_key, kind, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		partyPartitionKey(rowKey, kind), rowKey, kind, payload, s.now())
	if err != nil {
		s.logger.Error("error inserting party row", "kind", kind, "row_key", rowKey, "error", err)
		return false
	}
	return true
}

func (s *PostgresStore) deletePartyRow(ctx context.Context, partitionKey, rowKey string) bool {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM parties WHERE partition_key = $1 AND row_key = $2`,
		partitionKey, rowKey)
	if err != nil {
		s.logger.Error("error deleting party row", "row_key", rowKey, "error", err)
		return false
	}
	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error("error reading delete result", "row_key", rowKey, "error", err)
		return false
	}
	return rows > 0
}

// listParties scans the parties table for one kind. The filter runs over the
// stored kind column, not the keys, so cost is linear in table size.
func (s *PostgresStore) listParties(ctx context.Context, kind string) []models.Party {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM parties WHERE kind = $1 ORDER BY created_at`, kind)
	if err != nil {
		s.logger.Error("error listing parties", "kind", kind, "error", err)
		return nil
	}
	defer rows.Close()

	var parties []models.Party
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			s.logger.Error("error scanning party row", "kind", kind, "error", err)
			return nil
		}
		var party models.Party
		if err := json.Unmarshal(payload, &party); err != nil {
			s.logger.Error("error unmarshaling party payload", "kind", kind, "error", err)
			continue
		}
		parties = append(parties, party)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("error iterating party rows", "kind", kind, "error", err)
		return nil
	}
	return parties
}

func (s *PostgresStore) queryConnections(ctx context.Context) ([]models.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner, client, connected_at FROM connections ORDER BY connected_at`)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		var ownerJSON, clientJSON []byte
		var conn models.Connection
		if err := rows.Scan(&ownerJSON, &clientJSON, &conn.ConnectedAt); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		if err := json.Unmarshal(ownerJSON, &conn.Owner); err != nil {
			return nil, fmt.Errorf("unmarshal connection owner: %w", err)
		}
		if err := json.Unmarshal(clientJSON, &conn.Client); err != nil {
			return nil, fmt.Errorf("unmarshal connection client: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return conns, nil
}

// findConnection resolves the stored connection owned by owner. Owner
// identity lives inside the JSON payload, so the lookup scans the full set
// rather than addressing a key directly.
func (s *PostgresStore) findConnection(ctx context.Context, owner models.Party) (models.Connection, error) {
	conns, err := s.queryConnections(ctx)
	if err != nil {
		return models.Connection{}, err
	}
	for _, conn := range conns {
		if conn.Owner.Equal(owner) {
			return conn, nil
		}
	}
	return models.Connection{}, ErrNotFound
}
