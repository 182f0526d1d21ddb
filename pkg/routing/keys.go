package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"

	"github.com/haasonsaas/handoff/pkg/models"
)

// Row kinds stored in the parties table. Users, bot instances, aggregation
// channels, and pending requests share the table and are told apart by kind.
const (
	kindUser        = "user"
	kindBot         = "bot"
	kindAggregation = "aggregation"
	kindRequest     = "request"
)

// roleKind maps a party category role to its parties-table kind. Only the
// three party categories are addressable; requests carry kindRequest through
// their dedicated operations.
func roleKind(role models.PartyRole) (string, bool) {
	switch role {
	case models.RoleUser:
		return kindUser, true
	case models.RoleBot:
		return kindBot, true
	case models.RoleAggregation:
		return kindAggregation, true
	default:
		return "", false
	}
}

// partyRowKey builds the deterministic row key for a party: the identity
// fields percent-escaped and joined with ':'. Escaping keeps the separator
// out of the fields, so distinct identities never share a key.
func partyRowKey(p models.Party) string {
	return url.QueryEscape(p.ChannelID) + ":" +
		url.QueryEscape(p.ConversationID) + ":" +
		url.QueryEscape(p.AccountID)
}

// partyPartitionKey derives the partition key from the row key and the row
// kind, so the same endpoint lands in a distinct partition per category.
func partyPartitionKey(rowKey, kind string) string {
	hash := sha256.Sum256([]byte(rowKey + ":" + kind))
	return hex.EncodeToString(hash[:16]) // 32 hex chars
}

// connectionKeys returns the key pair under which a connection row lives:
// the client's conversation ID partitions the row, the owner's conversation
// ID names it. Both sides of the pairing resolve the row from what they know.
func connectionKeys(owner, client models.Party) (partitionKey, rowKey string) {
	return client.ConversationID, owner.ConversationID
}
