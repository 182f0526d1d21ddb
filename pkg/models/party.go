package models

import "fmt"

// PartyRole labels the collection a stored party belongs to.
type PartyRole string

const (
	RoleUser             PartyRole = "user"
	RoleBot              PartyRole = "bot"
	RoleAggregation      PartyRole = "aggregation"
	RolePendingRequester PartyRole = "pending_requester"
	RoleConnectionOwner  PartyRole = "connection_owner"
	RoleConnectionClient PartyRole = "connection_client"
)

// Party identifies one conversational endpoint: a conversation on a channel,
// acting under an account. Parties are immutable values; stores and managers
// copy them rather than sharing pointers.
type Party struct {
	ChannelID      string    `json:"channel_id"`
	ConversationID string    `json:"conversation_id"`
	AccountID      string    `json:"account_id"`
	Role           PartyRole `json:"role,omitempty"`
}

// Equal reports whether two parties identify the same endpoint. The role
// label marks where a stored copy lives and is excluded from identity.
func (p Party) Equal(other Party) bool {
	return p.ChannelID == other.ChannelID &&
		p.ConversationID == other.ConversationID &&
		p.AccountID == other.AccountID
}

// WithRole returns a copy of the party carrying the given role label.
func (p Party) WithRole(role PartyRole) Party {
	p.Role = role
	return p
}

func (p Party) String() string {
	return fmt.Sprintf("%s/%s/%s", p.ChannelID, p.ConversationID, p.AccountID)
}
