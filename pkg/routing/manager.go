package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/handoff/pkg/models"
)

// ManagerConfig configures a routing data manager.
type ManagerConfig struct {
	// Store persists the routing data. Required.
	Store Store

	// Logger receives rule-violation diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records operation outcomes. Optional.
	Metrics *Metrics

	// Now supplies the clock for request stamping and expiry.
	// Defaults to time.Now.
	Now func() time.Time
}

// Manager enforces the routing rules above a Store: category uniqueness,
// request/connection mutual exclusion, and aggregation-channel role
// exclusivity. It holds no state of its own; every rule check re-reads the
// store, so instances sharing a distributed backend stay consistent.
//
// Operations report outcomes as booleans. A false from a mutation means the
// rule layer rejected it or the backend write failed; the two are told apart
// only in the diagnostic log.
type Manager struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewManager creates a routing data manager on top of a store.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		store:   config.Store,
		logger:  logger.With("component", "routing-manager"),
		metrics: config.Metrics,
		now:     now,
	}, nil
}

// AddParty registers a party under one of the three party categories. The
// add is rejected when an equal party is already present in that category.
func (m *Manager) AddParty(ctx context.Context, party models.Party, role models.PartyRole) bool {
	switch role {
	case models.RoleUser, models.RoleBot, models.RoleAggregation:
	default:
		m.logger.Debug("rejecting party with unknown role", "party", party.String(), "role", role)
		return false
	}
	if containsParty(m.partiesForRole(ctx, role), party) {
		m.logger.Debug("party already registered", "party", party.String(), "role", role)
		return false
	}

	ok := m.store.AddParty(ctx, party, role)
	m.metrics.RecordOperation("add_party", ok)
	return ok
}

// RemoveParty deletes a party from a category. The stored entity is
// re-resolved first so the physical key derives from the stored copy, not
// the caller's value.
func (m *Manager) RemoveParty(ctx context.Context, party models.Party, role models.PartyRole) bool {
	stored, found := findParty(m.partiesForRole(ctx, role), party)
	if !found {
		return false
	}

	ok := m.store.RemoveParty(ctx, stored, role)
	m.metrics.RecordOperation("remove_party", ok)
	return ok
}

func (m *Manager) GetUsers(ctx context.Context) []models.Party {
	return m.store.GetUsers(ctx)
}

func (m *Manager) GetBotInstances(ctx context.Context) []models.Party {
	return m.store.GetBotInstances(ctx)
}

func (m *Manager) GetAggregationChannels(ctx context.Context) []models.Party {
	return m.store.GetAggregationChannels(ctx)
}

// AddAggregationChannel registers a party as a routing hub.
func (m *Manager) AddAggregationChannel(ctx context.Context, party models.Party) bool {
	return m.AddParty(ctx, party, models.RoleAggregation)
}

// RemoveAggregationChannel drops a routing hub registration.
func (m *Manager) RemoveAggregationChannel(ctx context.Context, party models.Party) bool {
	return m.RemoveParty(ctx, party, models.RoleAggregation)
}

// IsAggregationChannel reports whether party is registered as a routing hub.
func (m *Manager) IsAggregationChannel(ctx context.Context, party models.Party) bool {
	return containsParty(m.store.GetAggregationChannels(ctx), party)
}

// FindUser resolves the stored user party for a conversation on a channel.
func (m *Manager) FindUser(ctx context.Context, channelID, conversationID string) (models.Party, bool) {
	return findByConversation(m.store.GetUsers(ctx), channelID, conversationID)
}

// FindBotInstance resolves the stored bot party for a conversation on a
// channel.
func (m *Manager) FindBotInstance(ctx context.Context, channelID, conversationID string) (models.Party, bool) {
	return findByConversation(m.store.GetBotInstances(ctx), channelID, conversationID)
}

// AddPendingRequest files a connection request for party. Rejected when the
// party is an aggregation channel, already connected, or already waiting.
func (m *Manager) AddPendingRequest(ctx context.Context, party models.Party) bool {
	if m.IsAggregationChannel(ctx, party) {
		m.logger.Debug("aggregation channel cannot request a connection", "party", party.String())
		return false
	}
	if m.IsConnected(ctx, party) {
		m.logger.Debug("connected party cannot request a connection", "party", party.String())
		return false
	}

	requests := m.store.GetConnectionRequests(ctx)
	for _, request := range requests {
		if request.Requester.Equal(party) {
			m.logger.Debug("party already has a pending request", "party", party.String())
			return false
		}
	}

	ok := m.store.AddConnectionRequest(ctx, models.ConnectionRequest{
		Requester:   party,
		RequestedAt: m.now(),
	})
	if ok {
		m.metrics.SetPendingRequests(len(requests) + 1)
	}
	m.metrics.RecordOperation("add_pending_request", ok)
	return ok
}

// RejectPendingRequest declines party's request while keeping it pending:
// the stored request is replaced by one with the rejection counter bumped.
// The original request time is kept, so age-based expiry measures time since
// the first ask.
func (m *Manager) RejectPendingRequest(ctx context.Context, party models.Party) bool {
	request, found := m.findRequest(ctx, party)
	if !found {
		return false
	}
	if !m.store.RemoveConnectionRequest(ctx, request) {
		m.metrics.RecordOperation("reject_pending_request", false)
		return false
	}

	request.Rejections++
	ok := m.store.AddConnectionRequest(ctx, request)
	if !ok {
		// The remove succeeded but the re-add did not; the request is gone.
		m.logger.Error("pending request lost during rejection", "party", party.String())
	} else {
		m.metrics.RecordRejection()
	}
	m.metrics.RecordOperation("reject_pending_request", ok)
	return ok
}

// RemovePendingRequest withdraws party's request.
func (m *Manager) RemovePendingRequest(ctx context.Context, party models.Party) bool {
	request, found := m.findRequest(ctx, party)
	if !found {
		return false
	}

	ok := m.store.RemoveConnectionRequest(ctx, request)
	if ok {
		m.metrics.SetPendingRequests(len(m.store.GetConnectionRequests(ctx)))
	}
	m.metrics.RecordOperation("remove_pending_request", ok)
	return ok
}

func (m *Manager) GetPendingRequests(ctx context.Context) []models.ConnectionRequest {
	return m.store.GetConnectionRequests(ctx)
}

// RemoveExpiredRequests drops pending requests older than maxAge and returns
// the number removed. A non-positive maxAge expires nothing.
func (m *Manager) RemoveExpiredRequests(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, request := range m.store.GetConnectionRequests(ctx) {
		if request.RequestedAt.Before(cutoff) {
			if m.store.RemoveConnectionRequest(ctx, request) {
				removed++
			}
		}
	}
	if removed > 0 {
		m.logger.Info("expired pending requests", "count", removed, "max_age", maxAge)
		m.metrics.SetPendingRequests(len(m.store.GetConnectionRequests(ctx)))
	}
	m.metrics.AddExpiredRequests(removed)
	return removed
}

// Connect establishes a connection owned by owner with client on the other
// side, then clears any pending requests of the two parties. Rejected when
// either side is an aggregation channel or already in a connection, or when
// the two sides are the same endpoint.
func (m *Manager) Connect(ctx context.Context, owner, client models.Party) bool {
	if owner.Equal(client) {
		m.logger.Debug("party cannot connect to itself", "party", owner.String())
		return false
	}
	if m.IsAggregationChannel(ctx, owner) || m.IsAggregationChannel(ctx, client) {
		m.logger.Debug("aggregation channel cannot enter a connection",
			"owner", owner.String(), "client", client.String())
		return false
	}

	connections := m.store.GetConnections(ctx)
	for o, c := range connections {
		if o.Equal(owner) || c.Equal(owner) || o.Equal(client) || c.Equal(client) {
			m.logger.Debug("party already connected",
				"owner", owner.String(), "client", client.String())
			return false
		}
	}

	if !m.store.AddConnection(ctx, owner, client) {
		m.metrics.RecordOperation("connect", false)
		return false
	}

	// Connected parties keep no outstanding requests.
	m.clearRequest(ctx, client)
	m.clearRequest(ctx, owner)

	m.metrics.SetPendingRequests(len(m.store.GetConnectionRequests(ctx)))
	m.metrics.SetActiveConnections(len(connections) + 1)
	m.metrics.RecordOperation("connect", true)
	return true
}

// Disconnect tears down the connection party participates in, resolved from
// either side of the pairing.
func (m *Manager) Disconnect(ctx context.Context, party models.Party) bool {
	owner, _, found := m.connectionFor(ctx, party)
	if !found {
		return false
	}

	ok := m.store.RemoveConnection(ctx, owner)
	if ok {
		m.metrics.SetActiveConnections(len(m.store.GetConnections(ctx)))
	}
	m.metrics.RecordOperation("disconnect", ok)
	return ok
}

// IsConnected reports whether party participates in a connection on either
// side.
func (m *Manager) IsConnected(ctx context.Context, party models.Party) bool {
	_, _, found := m.connectionFor(ctx, party)
	return found
}

// GetConnectedCounterpart resolves the other side of party's connection.
func (m *Manager) GetConnectedCounterpart(ctx context.Context, party models.Party) (models.Party, bool) {
	owner, client, found := m.connectionFor(ctx, party)
	if !found {
		return models.Party{}, false
	}
	if owner.Equal(party) {
		return client, true
	}
	return owner, true
}

// GetConnectedParties returns the owner-to-client map of all active
// connections.
func (m *Manager) GetConnectedParties(ctx context.Context) map[models.Party]models.Party {
	return m.store.GetConnections(ctx)
}

// DeleteAll wipes every category in the underlying store.
func (m *Manager) DeleteAll(ctx context.Context) {
	m.store.DeleteAll(ctx)
	m.metrics.SetPendingRequests(0)
	m.metrics.SetActiveConnections(0)
}

// partiesForRole lists the stored parties of one category.
func (m *Manager) partiesForRole(ctx context.Context, role models.PartyRole) []models.Party {
	switch role {
	case models.RoleUser:
		return m.store.GetUsers(ctx)
	case models.RoleBot:
		return m.store.GetBotInstances(ctx)
	case models.RoleAggregation:
		return m.store.GetAggregationChannels(ctx)
	default:
		return nil
	}
}

// connectionFor resolves the stored pairing party participates in, from
// either side.
func (m *Manager) connectionFor(ctx context.Context, party models.Party) (owner, client models.Party, found bool) {
	for o, c := range m.store.GetConnections(ctx) {
		if o.Equal(party) || c.Equal(party) {
			return o, c, true
		}
	}
	return models.Party{}, models.Party{}, false
}

func (m *Manager) findRequest(ctx context.Context, party models.Party) (models.ConnectionRequest, bool) {
	for _, request := range m.store.GetConnectionRequests(ctx) {
		if request.Requester.Equal(party) {
			return request, true
		}
	}
	return models.ConnectionRequest{}, false
}

func (m *Manager) clearRequest(ctx context.Context, party models.Party) {
	request, found := m.findRequest(ctx, party)
	if !found {
		return
	}
	if !m.store.RemoveConnectionRequest(ctx, request) {
		m.logger.Error("failed clearing pending request after connect", "party", party.String())
	}
}

func containsParty(parties []models.Party, party models.Party) bool {
	_, found := findParty(parties, party)
	return found
}

// findParty returns the stored copy equal to party by identity.
func findParty(parties []models.Party, party models.Party) (models.Party, bool) {
	for _, stored := range parties {
		if stored.Equal(party) {
			return stored, true
		}
	}
	return models.Party{}, false
}

func findByConversation(parties []models.Party, channelID, conversationID string) (models.Party, bool) {
	for _, stored := range parties {
		if stored.ChannelID == channelID && stored.ConversationID == conversationID {
			return stored, true
		}
	}
	return models.Party{}, false
}
