package routing

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/handoff/pkg/models"
)

// MemoryStore provides a volatile Store implementation for single-process
// runs and testing. A single mutex guards all categories, so every caller
// observes one total order of mutations.
type MemoryStore struct {
	mu          sync.RWMutex
	users       []models.Party
	bots        []models.Party
	aggregation []models.Party
	requests    []models.ConnectionRequest
	connections []models.Connection

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory routing data store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// category maps a party role to its backing sequence. Only the three party
// categories are addressable this way; requests and connections have
// dedicated operations.
func (m *MemoryStore) category(role models.PartyRole) *[]models.Party {
	switch role {
	case models.RoleUser:
		return &m.users
	case models.RoleBot:
		return &m.bots
	case models.RoleAggregation:
		return &m.aggregation
	default:
		return nil
	}
}

func (m *MemoryStore) AddParty(ctx context.Context, party models.Party, role models.PartyRole) bool {
	cat := m.category(role)
	if cat == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	*cat = append(*cat, party.WithRole(role))
	return true
}

func (m *MemoryStore) RemoveParty(ctx context.Context, party models.Party, role models.PartyRole) bool {
	cat := m.category(role)
	if cat == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, stored := range *cat {
		if stored.Equal(party) {
			*cat = append((*cat)[:i], (*cat)[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetUsers(ctx context.Context) []models.Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneParties(m.users)
}

func (m *MemoryStore) GetBotInstances(ctx context.Context) []models.Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneParties(m.bots)
}

func (m *MemoryStore) GetAggregationChannels(ctx context.Context) []models.Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneParties(m.aggregation)
}

func (m *MemoryStore) AddConnectionRequest(ctx context.Context, request models.ConnectionRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	request.Requester = request.Requester.WithRole(models.RolePendingRequester)
	if request.RequestedAt.IsZero() {
		request.RequestedAt = m.now()
	}
	m.requests = append(m.requests, request)
	return true
}

func (m *MemoryStore) RemoveConnectionRequest(ctx context.Context, request models.ConnectionRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, stored := range m.requests {
		if stored.Requester.Equal(request.Requester) {
			m.requests = append(m.requests[:i], m.requests[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetConnectionRequests(ctx context.Context) []models.ConnectionRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.ConnectionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MemoryStore) AddConnection(ctx context.Context, owner, client models.Party) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connections = append(m.connections, models.Connection{
		Owner:       owner.WithRole(models.RoleConnectionOwner),
		Client:      client.WithRole(models.RoleConnectionClient),
		ConnectedAt: m.now(),
	})
	return true
}

func (m *MemoryStore) RemoveConnection(ctx context.Context, owner models.Party) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, stored := range m.connections {
		if stored.Owner.Equal(owner) {
			m.connections = append(m.connections[:i], m.connections[i+1:]...)
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetConnections(ctx context.Context) map[models.Party]models.Party {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.Party]models.Party, len(m.connections))
	for _, conn := range m.connections {
		out[conn.Owner] = conn.Client
	}
	return out
}

func (m *MemoryStore) DeleteAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users = nil
	m.bots = nil
	m.aggregation = nil
	m.requests = nil
	m.connections = nil
}

func cloneParties(parties []models.Party) []models.Party {
	out := make([]models.Party, len(parties))
	copy(out, parties)
	return out
}
