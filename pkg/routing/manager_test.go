package routing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haasonsaas/handoff/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		Store:  NewMemoryStore(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return manager
}

func TestNewManager_RequiresStore(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("expected error for missing store")
	}
}

func TestManager_AddParty_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	user := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}

	if !manager.AddParty(ctx, user, models.RoleUser) {
		t.Fatal("first AddParty() = false")
	}
	// The same identity with a different role label is still a duplicate.
	if manager.AddParty(ctx, user.WithRole(models.RoleBot), models.RoleUser) {
		t.Error("duplicate AddParty() = true, want false")
	}
	if got := manager.GetUsers(ctx); len(got) != 1 {
		t.Errorf("GetUsers() len = %d, want exactly 1", len(got))
	}
}

func TestManager_AddParty_UnknownRole(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	party := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}

	if manager.AddParty(ctx, party, models.RolePendingRequester) {
		t.Error("AddParty(pending_requester) = true, want false")
	}
	if manager.AddParty(ctx, party, models.PartyRole("bogus")) {
		t.Error("AddParty(bogus) = true, want false")
	}
}

func TestManager_RemoveParty(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	bot := models.Party{ChannelID: "slack", ConversationID: "conv-1", AccountID: "acct-1"}

	manager.AddParty(ctx, bot, models.RoleBot)

	// Removal matches the stored entity by identity even when the caller's
	// value carries a stale role label.
	if !manager.RemoveParty(ctx, bot.WithRole(models.RoleUser), models.RoleBot) {
		t.Fatal("RemoveParty() = false")
	}
	if got := manager.GetBotInstances(ctx); len(got) != 0 {
		t.Errorf("GetBotInstances() len = %d, want 0", len(got))
	}
	if manager.RemoveParty(ctx, bot, models.RoleBot) {
		t.Error("second RemoveParty() = true, want false")
	}
}

func TestManager_AggregationChannels(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	hub := models.Party{ChannelID: "teams", ConversationID: "hub-conv", AccountID: "hub-1"}

	if !manager.AddAggregationChannel(ctx, hub) {
		t.Fatal("AddAggregationChannel() = false")
	}
	if manager.AddAggregationChannel(ctx, hub) {
		t.Error("duplicate AddAggregationChannel() = true, want false")
	}
	if !manager.IsAggregationChannel(ctx, hub) {
		t.Error("IsAggregationChannel() = false, want true")
	}

	if !manager.RemoveAggregationChannel(ctx, hub) {
		t.Fatal("RemoveAggregationChannel() = false")
	}
	if manager.IsAggregationChannel(ctx, hub) {
		t.Error("IsAggregationChannel() after remove = true, want false")
	}
	if manager.RemoveAggregationChannel(ctx, hub) {
		t.Error("second RemoveAggregationChannel() = true, want false")
	}
}

func TestManager_FindUser(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	manager.AddParty(ctx, models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}, models.RoleUser)
	manager.AddParty(ctx, models.Party{ChannelID: "slack", ConversationID: "conv-2", AccountID: "acct-2"}, models.RoleUser)

	tests := []struct {
		name           string
		channelID      string
		conversationID string
		wantAccount    string
		wantFound      bool
	}{
		{"first user", "telegram", "conv-1", "acct-1", true},
		{"second user", "slack", "conv-2", "acct-2", true},
		{"wrong channel", "slack", "conv-1", "", false},
		{"unknown conversation", "telegram", "conv-9", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := manager.FindUser(ctx, tt.channelID, tt.conversationID)
			if found != tt.wantFound {
				t.Fatalf("FindUser() found = %v, want %v", found, tt.wantFound)
			}
			if found && got.AccountID != tt.wantAccount {
				t.Errorf("FindUser() account = %q, want %q", got.AccountID, tt.wantAccount)
			}
		})
	}
}

func TestManager_FindBotInstance(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	manager.AddParty(ctx, models.Party{ChannelID: "slack", ConversationID: "bot-conv", AccountID: "bot-1"}, models.RoleBot)

	if _, found := manager.FindBotInstance(ctx, "slack", "bot-conv"); !found {
		t.Error("FindBotInstance() found = false, want true")
	}
	if _, found := manager.FindBotInstance(ctx, "slack", "other-conv"); found {
		t.Error("FindBotInstance() for unknown conversation = true, want false")
	}
}

func TestManager_AddPendingRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("files a request once", func(t *testing.T) {
		manager := newTestManager(t)
		user := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}

		if !manager.AddPendingRequest(ctx, user) {
			t.Fatal("AddPendingRequest() = false")
		}
		if manager.AddPendingRequest(ctx, user) {
			t.Error("duplicate AddPendingRequest() = true, want false")
		}
		if got := manager.GetPendingRequests(ctx); len(got) != 1 {
			t.Errorf("GetPendingRequests() len = %d, want 1", len(got))
		}
	})

	t.Run("aggregation channel cannot request", func(t *testing.T) {
		manager := newTestManager(t)
		hub := models.Party{ChannelID: "teams", ConversationID: "hub-conv", AccountID: "hub-1"}
		manager.AddAggregationChannel(ctx, hub)

		if manager.AddPendingRequest(ctx, hub) {
			t.Error("AddPendingRequest(aggregation channel) = true, want false")
		}
	})

	t.Run("connected party cannot request", func(t *testing.T) {
		manager := newTestManager(t)
		owner := models.Party{ChannelID: "slack", ConversationID: "agent-conv", AccountID: "agent-1"}
		client := models.Party{ChannelID: "telegram", ConversationID: "user-conv", AccountID: "user-1"}
		manager.Connect(ctx, owner, client)

		if manager.AddPendingRequest(ctx, client) {
			t.Error("AddPendingRequest(connected client) = true, want false")
		}
		if manager.AddPendingRequest(ctx, owner) {
			t.Error("AddPendingRequest(connected owner) = true, want false")
		}
		if got := manager.GetPendingRequests(ctx); len(got) != 0 {
			t.Errorf("GetPendingRequests() len = %d, want 0", len(got))
		}
	})
}

func TestManager_RejectPendingRequest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, err := NewManager(ManagerConfig{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return current },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	user := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}
	requestedAt := current

	if !manager.AddPendingRequest(ctx, user) {
		t.Fatal("AddPendingRequest() = false")
	}

	current = current.Add(30 * time.Minute)
	if !manager.RejectPendingRequest(ctx, user) {
		t.Fatal("RejectPendingRequest() = false")
	}

	requests := manager.GetPendingRequests(ctx)
	if len(requests) != 1 {
		t.Fatalf("GetPendingRequests() len = %d, want 1: rejection keeps the request pending", len(requests))
	}
	if requests[0].Rejections != 1 {
		t.Errorf("Rejections = %d, want 1", requests[0].Rejections)
	}
	if !requests[0].RequestedAt.Equal(requestedAt) {
		t.Errorf("RequestedAt = %v, want original %v", requests[0].RequestedAt, requestedAt)
	}

	if !manager.RejectPendingRequest(ctx, user) {
		t.Fatal("second RejectPendingRequest() = false")
	}
	if got := manager.GetPendingRequests(ctx)[0].Rejections; got != 2 {
		t.Errorf("Rejections after second reject = %d, want 2", got)
	}

	missing := models.Party{ChannelID: "telegram", ConversationID: "other", AccountID: "acct-2"}
	if manager.RejectPendingRequest(ctx, missing) {
		t.Error("RejectPendingRequest(unknown) = true, want false")
	}
}

func TestManager_RemovePendingRequest(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	user := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}

	manager.AddPendingRequest(ctx, user)

	if !manager.RemovePendingRequest(ctx, user) {
		t.Fatal("RemovePendingRequest() = false")
	}
	if got := manager.GetPendingRequests(ctx); len(got) != 0 {
		t.Errorf("GetPendingRequests() len = %d, want 0", len(got))
	}
	if manager.RemovePendingRequest(ctx, user) {
		t.Error("second RemovePendingRequest() = true, want false")
	}
}

func TestManager_RemoveExpiredRequests(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager, err := NewManager(ManagerConfig{
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return current },
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	stale1 := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}
	stale2 := models.Party{ChannelID: "telegram", ConversationID: "conv-2", AccountID: "acct-2"}
	manager.AddPendingRequest(ctx, stale1)
	manager.AddPendingRequest(ctx, stale2)

	current = current.Add(2 * time.Hour)
	fresh := models.Party{ChannelID: "telegram", ConversationID: "conv-3", AccountID: "acct-3"}
	manager.AddPendingRequest(ctx, fresh)

	if got := manager.RemoveExpiredRequests(ctx, 0); got != 0 {
		t.Errorf("RemoveExpiredRequests(0) = %d, want 0", got)
	}

	if got := manager.RemoveExpiredRequests(ctx, time.Hour); got != 2 {
		t.Errorf("RemoveExpiredRequests(1h) = %d, want 2", got)
	}

	remaining := manager.GetPendingRequests(ctx)
	if len(remaining) != 1 {
		t.Fatalf("GetPendingRequests() len = %d, want 1", len(remaining))
	}
	if !remaining[0].Requester.Equal(fresh) {
		t.Errorf("surviving requester = %+v, want %+v", remaining[0].Requester, fresh)
	}
}

func TestManager_Connect(t *testing.T) {
	ctx := context.Background()
	owner := models.Party{ChannelID: "slack", ConversationID: "agent-conv", AccountID: "agent-1"}
	client := models.Party{ChannelID: "telegram", ConversationID: "user-conv", AccountID: "user-1"}

	t.Run("establishes a pairing", func(t *testing.T) {
		manager := newTestManager(t)
		if !manager.Connect(ctx, owner, client) {
			t.Fatal("Connect() = false")
		}

		conns := manager.GetConnectedParties(ctx)
		if len(conns) != 1 {
			t.Fatalf("GetConnectedParties() len = %d, want 1", len(conns))
		}
		for o, c := range conns {
			if !o.Equal(owner) || !c.Equal(client) {
				t.Errorf("connection = %v -> %v, want %v -> %v", o, c, owner, client)
			}
		}
	})

	t.Run("each side joins at most one connection", func(t *testing.T) {
		manager := newTestManager(t)
		manager.Connect(ctx, owner, client)

		other := models.Party{ChannelID: "telegram", ConversationID: "other-conv", AccountID: "user-2"}
		if manager.Connect(ctx, owner, other) {
			t.Error("Connect() with busy owner = true, want false")
		}
		if manager.Connect(ctx, other, client) {
			t.Error("Connect() with busy client = true, want false")
		}
		if manager.Connect(ctx, client, other) {
			t.Error("Connect() with busy party as owner = true, want false")
		}
		if got := manager.GetConnectedParties(ctx); len(got) != 1 {
			t.Errorf("GetConnectedParties() len = %d, want 1", len(got))
		}
	})

	t.Run("rejects self-connection", func(t *testing.T) {
		manager := newTestManager(t)
		if manager.Connect(ctx, owner, owner) {
			t.Error("Connect(p, p) = true, want false")
		}
	})

	t.Run("rejects aggregation channels", func(t *testing.T) {
		manager := newTestManager(t)
		hub := models.Party{ChannelID: "teams", ConversationID: "hub-conv", AccountID: "hub-1"}
		manager.AddAggregationChannel(ctx, hub)

		if manager.Connect(ctx, hub, client) {
			t.Error("Connect(hub, client) = true, want false")
		}
		if manager.Connect(ctx, owner, hub) {
			t.Error("Connect(owner, hub) = true, want false")
		}
	})

	t.Run("clears pending requests of both sides", func(t *testing.T) {
		manager := newTestManager(t)
		manager.AddPendingRequest(ctx, client)
		manager.AddPendingRequest(ctx, owner)

		if !manager.Connect(ctx, owner, client) {
			t.Fatal("Connect() = false")
		}
		if got := manager.GetPendingRequests(ctx); len(got) != 0 {
			t.Errorf("GetPendingRequests() after connect len = %d, want 0", len(got))
		}
	})
}

func TestManager_Disconnect(t *testing.T) {
	ctx := context.Background()
	owner := models.Party{ChannelID: "slack", ConversationID: "agent-conv", AccountID: "agent-1"}
	client := models.Party{ChannelID: "telegram", ConversationID: "user-conv", AccountID: "user-1"}

	tests := []struct {
		name string
		from models.Party
	}{
		{"from owner side", owner},
		{"from client side", client},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := newTestManager(t)
			manager.Connect(ctx, owner, client)

			if !manager.Disconnect(ctx, tt.from) {
				t.Fatal("Disconnect() = false")
			}
			if got := manager.GetConnectedParties(ctx); len(got) != 0 {
				t.Errorf("GetConnectedParties() len = %d, want 0", len(got))
			}
			if manager.Disconnect(ctx, tt.from) {
				t.Error("second Disconnect() = true, want false")
			}
		})
	}
}

func TestManager_GetConnectedCounterpart(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	owner := models.Party{ChannelID: "slack", ConversationID: "agent-conv", AccountID: "agent-1"}
	client := models.Party{ChannelID: "telegram", ConversationID: "user-conv", AccountID: "user-1"}
	manager.Connect(ctx, owner, client)

	got, found := manager.GetConnectedCounterpart(ctx, owner)
	if !found || !got.Equal(client) {
		t.Errorf("counterpart of owner = %v/%v, want %v/true", got, found, client)
	}

	got, found = manager.GetConnectedCounterpart(ctx, client)
	if !found || !got.Equal(owner) {
		t.Errorf("counterpart of client = %v/%v, want %v/true", got, found, owner)
	}

	stranger := models.Party{ChannelID: "telegram", ConversationID: "nowhere", AccountID: "acct-9"}
	if _, found := manager.GetConnectedCounterpart(ctx, stranger); found {
		t.Error("counterpart of unconnected party found = true, want false")
	}
	if manager.IsConnected(ctx, stranger) {
		t.Error("IsConnected(stranger) = true, want false")
	}
}

// The full lifecycle: a user asks for a connection, an operator accepts by
// connecting a bot instance, then the pairing is torn down. Party category
// registrations survive the state changes.
func TestManager_RequestAcceptDisconnectFlow(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	u1 := models.Party{ChannelID: "telegram", ConversationID: "u1-conv", AccountID: "u1"}
	b1 := models.Party{ChannelID: "slack", ConversationID: "b1-conv", AccountID: "b1"}

	if !manager.AddParty(ctx, u1, models.RoleUser) {
		t.Fatal("AddParty(u1) = false")
	}
	if !manager.AddParty(ctx, b1, models.RoleBot) {
		t.Fatal("AddParty(b1) = false")
	}

	if !manager.AddPendingRequest(ctx, u1) {
		t.Fatal("AddPendingRequest(u1) = false")
	}
	pending := manager.GetPendingRequests(ctx)
	if len(pending) != 1 || !pending[0].Requester.Equal(u1) {
		t.Fatalf("pending = %+v, want exactly u1", pending)
	}

	if !manager.Connect(ctx, b1, u1) {
		t.Fatal("Connect(b1, u1) = false")
	}
	if got := manager.GetPendingRequests(ctx); len(got) != 0 {
		t.Errorf("pending after connect len = %d, want 0", len(got))
	}
	if !manager.IsConnected(ctx, u1) || !manager.IsConnected(ctx, b1) {
		t.Error("both sides should report connected")
	}

	if !manager.Disconnect(ctx, b1) {
		t.Fatal("Disconnect(b1) = false")
	}
	if got := manager.GetConnectedParties(ctx); len(got) != 0 {
		t.Errorf("connections after disconnect len = %d, want 0", len(got))
	}

	if got := manager.GetUsers(ctx); len(got) != 1 {
		t.Errorf("GetUsers() len = %d, want 1: registration outlives the connection", len(got))
	}
	if got := manager.GetBotInstances(ctx); len(got) != 1 {
		t.Errorf("GetBotInstances() len = %d, want 1", len(got))
	}
}

func TestManager_DeleteAll(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)

	user := models.Party{ChannelID: "telegram", ConversationID: "conv-1", AccountID: "acct-1"}
	bot := models.Party{ChannelID: "slack", ConversationID: "conv-2", AccountID: "acct-2"}
	manager.AddParty(ctx, user, models.RoleUser)
	manager.AddParty(ctx, bot, models.RoleBot)
	manager.AddPendingRequest(ctx, user)

	manager.DeleteAll(ctx)

	if got := manager.GetUsers(ctx); len(got) != 0 {
		t.Errorf("GetUsers() len = %d, want 0", len(got))
	}
	if got := manager.GetBotInstances(ctx); len(got) != 0 {
		t.Errorf("GetBotInstances() len = %d, want 0", len(got))
	}
	if got := manager.GetPendingRequests(ctx); len(got) != 0 {
		t.Errorf("GetPendingRequests() len = %d, want 0", len(got))
	}
}
