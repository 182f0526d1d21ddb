package routing

import (
	"context"
	"errors"

	"github.com/haasonsaas/handoff/pkg/models"
)

// ErrNotFound is returned by internal lookups when no entity matches.
var ErrNotFound = errors.New("not found")

// Store is the storage contract for routing data. Implementations keep four
// categories: user parties, bot instance parties, aggregation channels, plus
// pending connection requests and established connections.
//
// All operations are idempotent at the logical-state level and report
// outcomes as booleans: mutations return false when the entity was absent or
// the backend write failed, reads degrade to empty results when the backend
// is unreachable. Expected conditions never surface as error values; backend
// failures are visible only through the implementation's diagnostic log.
// Mutations are immediately visible to subsequent reads on the same store.
type Store interface {
	// AddParty stores party under the given role. It does not enforce
	// uniqueness (the Manager's job) but never merges two distinct parties.
	AddParty(ctx context.Context, party models.Party, role models.PartyRole) bool
	// RemoveParty deletes the party matching by identity from the given
	// role's category. False when no match.
	RemoveParty(ctx context.Context, party models.Party, role models.PartyRole) bool
	GetUsers(ctx context.Context) []models.Party
	GetBotInstances(ctx context.Context) []models.Party
	GetAggregationChannels(ctx context.Context) []models.Party

	// AddConnectionRequest stores a pending request. Matching on removal is
	// by requester identity, not timestamp or counter.
	AddConnectionRequest(ctx context.Context, request models.ConnectionRequest) bool
	RemoveConnectionRequest(ctx context.Context, request models.ConnectionRequest) bool
	GetConnectionRequests(ctx context.Context) []models.ConnectionRequest

	// AddConnection stores an owner/client pairing, stamping ConnectedAt
	// from the store's clock.
	AddConnection(ctx context.Context, owner, client models.Party) bool
	// RemoveConnection resolves the connection owned by owner and deletes
	// it. False when owner holds no connection.
	RemoveConnection(ctx context.Context, owner models.Party) bool
	// GetConnections returns the owner-to-client map of all active
	// connections.
	GetConnections(ctx context.Context) map[models.Party]models.Party

	// DeleteAll wipes every category. Best effort: on the distributed
	// backend a partial failure is logged, not returned.
	DeleteAll(ctx context.Context)
}
