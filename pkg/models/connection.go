package models

import "time"

// ConnectionRequest is a pending, unaccepted request by one party to be
// connected to a counterpart. At most one request per requester is
// outstanding at a time; rejection keeps the request pending and bumps
// the counter.
type ConnectionRequest struct {
	Requester   Party     `json:"requester"`
	RequestedAt time.Time `json:"requested_at"`
	Rejections  int       `json:"rejections,omitempty"`
}

// Connection is an established pairing between an owner party and a client
// party. While a connection is active, messages are relayed between the two
// sides.
type Connection struct {
	Owner       Party     `json:"owner"`
	Client      Party     `json:"client"`
	ConnectedAt time.Time `json:"connected_at"`
}
