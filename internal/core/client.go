package core

import "time"

// State is a client's position in the session lifecycle.
type State int

const (
	// StatePending means the session is reserved but no transport is attached.
	StatePending State = iota + 1
	// StateActive means a transport is attached and the client receives broadcasts.
	StateActive
	// StateRemoved is terminal; the record is gone from the registry.
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateRemoved:
		return "removed"
	default:
		return "unregistered"
	}
}

// Client is a chat participant as seen by the core layer.
// Only the hub goroutine touches a Client.
type Client struct {
	Token      string
	Room       string
	Nick       string
	State      State
	ReservedAt time.Time
	ExpiresAt  time.Time // zero when pending sessions never expire

	conn          Conn
	writeFailures int
	evicting      bool
}

// Session is a read-only view of a client handed out by the hub.
type Session struct {
	Token string
	Room  string
	Nick  string
	State State
}

func (c *Client) session() Session {
	return Session{Token: c.Token, Room: c.Room, Nick: c.Nick, State: c.State}
}
