package core

import "strconv"

// Room groups clients sharing a broadcast scope.
type Room struct {
	Name string

	// members holds pending and active clients. Active clients are moved to
	// the tail on activation so their relative order is join order.
	members []*Client
	// peers maps each attached connection to its client, in lockstep with members.
	peers map[Conn]*Client
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:  name,
		peers: make(map[Conn]*Client),
	}
}

func (r *Room) add(c *Client) {
	r.members = append(r.members, c)
}

func (r *Room) remove(c *Client) bool {
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// attach marks c as joined: it moves to the end of the member list and its
// connection enters the peer set.
func (r *Room) attach(c *Client) {
	if r.remove(c) {
		r.members = append(r.members, c)
	}
	if c.conn != nil {
		r.peers[c.conn] = c
	}
}

func (r *Room) detach(c *Client) {
	if c.conn != nil {
		delete(r.peers, c.conn)
	}
}

func (r *Room) hasNick(nick string) bool {
	for _, m := range r.members {
		if m.Nick == nick {
			return true
		}
	}
	return false
}

// resolveNick returns nick, or nick with the first free numeric suffix.
func (r *Room) resolveNick(nick string) string {
	candidate := nick
	for n := 1; r.hasNick(candidate); n++ {
		candidate = nick + strconv.Itoa(n)
	}
	return candidate
}

func (r *Room) activeCount() int {
	return len(r.peers)
}

// roster lists active nicknames in join order.
func (r *Room) roster() []string {
	nicks := make([]string, 0, len(r.peers))
	for _, m := range r.members {
		if m.State == StateActive {
			nicks = append(nicks, m.Nick)
		}
	}
	return nicks
}

// peerSnapshot copies the peer set in join order.
func (r *Room) peerSnapshot() []Conn {
	conns := make([]Conn, 0, len(r.peers))
	for _, m := range r.members {
		if m.State == StateActive && m.conn != nil {
			conns = append(conns, m.conn)
		}
	}
	return conns
}

// Empty returns true if no pending or active clients remain.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}
