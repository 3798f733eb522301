package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/metrics"
	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
	"github.com/vovakirdan/roomrelay/internal/utils"
)

// Protocol limits.
const (
	DefaultMaxRooms          = 100
	DefaultMaxUsersPerRoom   = 100
	DefaultPendingTTL        = 2 * time.Minute
	DefaultSweepInterval     = 30 * time.Second
	DefaultWriteFailureLimit = 3
)

const eventChat = "chat"

// Limits bounds the registry.
type Limits struct {
	MaxRooms        int
	MaxUsersPerRoom int
	// PendingTTL is how long a reservation may wait for its transport. Zero disables expiry.
	PendingTTL    time.Duration
	SweepInterval time.Duration
	// WriteFailureLimit is the number of consecutive failed writes after which
	// an active client is evicted. Zero disables eviction.
	WriteFailureLimit int
}

// DefaultLimits returns the protocol defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxRooms:          DefaultMaxRooms,
		MaxUsersPerRoom:   DefaultMaxUsersPerRoom,
		PendingTTL:        DefaultPendingTTL,
		SweepInterval:     DefaultSweepInterval,
		WriteFailureLimit: DefaultWriteFailureLimit,
	}
}

// Reservation is the result of a successful ReservePending.
type Reservation struct {
	Token string
	Room  string
	Nick  string // resolved, possibly suffixed
}

// Recorder receives lifecycle entries. It must not block.
type Recorder interface {
	Record(e store.Entry)
}

// Hub owns every room and client. A single goroutine (Run) applies all
// operations, so no two registry operations interleave.
type Hub struct {
	limits      Limits
	broadcaster *Broadcaster
	metrics     *metrics.Recorder
	journal     Recorder
	log         *zerolog.Logger

	now      func() time.Time
	newToken func() string

	ops  chan func()
	done chan struct{}

	clients    map[string]*Client
	rooms      map[string]*Room
	evictQueue []string
}

// NewHub creates a new hub. logger, rec and journal may be nil.
func NewHub(limits Limits, logger *zerolog.Logger, rec *metrics.Recorder, journal Recorder) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		limits:      limits,
		broadcaster: NewBroadcaster(nil, rec),
		metrics:     rec,
		journal:     journal,
		log:         logger,
		now:         time.Now,
		newToken:    utils.NewSessionToken,
		ops:         make(chan func()),
		done:        make(chan struct{}),
		clients:     make(map[string]*Client),
		rooms:       make(map[string]*Room),
	}
}

// Run processes operations until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.limits.PendingTTL > 0 && h.limits.SweepInterval > 0 {
		ticker := time.NewTicker(h.limits.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case op := <-h.ops:
			op()
		case <-sweep:
			h.expirePending()
			h.observe()
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
		h.drainEvictions()
		h.observe()
	}

	select {
	case h.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubClosed
	}

	// ops is unbuffered: once accepted, op runs to completion.
	<-finished
	return nil
}

// ReservePending validates a room/nick request and records a pending client.
// Checks run in order: room count, active members of the room, room name, nickname.
func (h *Hub) ReservePending(ctx context.Context, room, nick string) (Reservation, error) {
	var (
		res   Reservation
		opErr error
	)
	if err := h.do(ctx, func() { res, opErr = h.reserve(room, nick) }); err != nil {
		return Reservation{}, err
	}
	return res, opErr
}

func (h *Hub) reserve(room, nick string) (Reservation, error) {
	r, exists := h.rooms[room]

	var err error
	switch {
	case len(h.rooms) >= h.limits.MaxRooms:
		err = ErrRoomLimitExceeded
	case exists && r.activeCount() >= h.limits.MaxUsersPerRoom:
		err = ErrUserLimitExceeded
	case !ValidName(room):
		err = ErrInvalidRoomName
	case !ValidName(nick):
		err = ErrInvalidNickname
	}
	if err != nil {
		h.metrics.Reservation(Code(err))
		h.log.Debug().Err(err).Str("room", room).Str("nick", nick).Msg("reservation rejected")
		return Reservation{}, err
	}

	if !exists {
		r = NewRoom(room)
		h.rooms[room] = r
	}

	now := h.now()
	c := &Client{
		Token:      h.uniqueToken(),
		Room:       room,
		Nick:       r.resolveNick(nick),
		State:      StatePending,
		ReservedAt: now,
	}
	if h.limits.PendingTTL > 0 {
		c.ExpiresAt = now.Add(h.limits.PendingTTL)
	}
	r.add(c)
	h.clients[c.Token] = c

	h.metrics.Reservation("ok")
	h.record(store.EntryReserved, c)
	h.log.Info().Str("session_id", c.Token).Str("room", room).Str("nick", c.Nick).Msg("pending reserved")

	return Reservation{Token: c.Token, Room: room, Nick: c.Nick}, nil
}

func (h *Hub) uniqueToken() string {
	for {
		tok := h.newToken()
		if _, taken := h.clients[tok]; !taken && tok != "" {
			return tok
		}
	}
}

// DropPending removes a pending reservation without broadcasting.
func (h *Hub) DropPending(ctx context.Context, token string) error {
	var opErr error
	if err := h.do(ctx, func() {
		c, ok := h.clients[token]
		switch {
		case !ok:
			opErr = ErrUnknownSession
		case c.State != StatePending:
			opErr = ErrNotPending
		default:
			h.removePending(c, store.EntryDropped)
			h.log.Info().Str("session_id", token).Str("room", c.Room).Msg("pending dropped")
		}
	}); err != nil {
		return err
	}
	return opErr
}

// Activate attaches conn to a pending session, then broadcasts join and the
// refreshed roster to the whole room, the new client included.
func (h *Hub) Activate(ctx context.Context, token string, conn Conn) error {
	if conn == nil {
		return errors.New("activate: nil connection")
	}

	var opErr error
	if err := h.do(ctx, func() { opErr = h.activate(token, conn) }); err != nil {
		return err
	}
	return opErr
}

func (h *Hub) activate(token string, conn Conn) error {
	c, ok := h.clients[token]
	if !ok {
		return ErrUnknownSession
	}
	if c.State != StatePending {
		return ErrNotPending
	}
	r, ok := h.rooms[c.Room]
	if !ok {
		return ErrRoomNotFound
	}

	c.State = StateActive
	c.conn = conn
	c.ExpiresAt = time.Time{}
	r.attach(c)

	h.record(store.EntryActivated, c)
	h.log.Info().Str("session_id", token).Str("room", c.Room).Str("nick", c.Nick).Msg("session activated")

	h.announce(r, proto.JoinEvent(c.Nick, r.Name))
	h.announce(r, proto.NickListEvent(r.roster()))
	return nil
}

// Deactivate removes an active session, broadcasts leave and the roster to
// the remaining peers and deletes the room once it is empty.
func (h *Hub) Deactivate(ctx context.Context, token string) error {
	var opErr error
	if err := h.do(ctx, func() {
		c, ok := h.clients[token]
		switch {
		case !ok:
			opErr = ErrUnknownSession
		case c.State != StateActive:
			opErr = ErrNotActive
		default:
			h.deactivate(c, store.EntryDeactivated)
		}
	}); err != nil {
		return err
	}
	return opErr
}

func (h *Hub) deactivate(c *Client, kind store.EntryKind) {
	r := h.rooms[c.Room]

	if r != nil {
		r.detach(c)
		r.remove(c)
	}
	delete(h.clients, c.Token)
	c.State = StateRemoved
	c.conn = nil

	h.record(kind, c)
	h.log.Info().Str("session_id", c.Token).Str("room", c.Room).Str("nick", c.Nick).Str("reason", string(kind)).Msg("session deactivated")

	if r == nil {
		return
	}
	h.announce(r, proto.LeaveEvent(c.Nick))
	h.announce(r, proto.NickListEvent(r.roster()))

	if r.Empty() {
		h.removeRoom(r)
	}
}

// Relay stamps a client-authored JSON object with the sender's nickname and
// broadcasts it to the sender's room, the sender included.
func (h *Hub) Relay(ctx context.Context, token string, payload []byte) error {
	// Raw field values are re-emitted verbatim, so peers would receive
	// invalid UTF-8 inside a text frame.
	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: invalid utf-8", ErrBadPayload)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if msg == nil {
		return ErrBadPayload
	}

	var opErr error
	if err := h.do(ctx, func() {
		c, ok := h.clients[token]
		switch {
		case !ok:
			opErr = ErrUnknownSession
			return
		case c.State != StateActive:
			opErr = ErrNotActive
			return
		}
		r, ok := h.rooms[c.Room]
		if !ok {
			opErr = ErrRoomNotFound
			return
		}

		nick, err := json.Marshal(c.Nick)
		if err != nil {
			opErr = err
			return
		}
		msg[proto.UsernameField] = nick

		h.log.Debug().Str("session_id", token).Str("room", c.Room).Int("len", len(payload)).Msg("message relayed")
		h.deliver(r, eventChat, msg)
	}); err != nil {
		return err
	}
	return opErr
}

// NicknamesInRoom returns the roster of room in join order.
func (h *Hub) NicknamesInRoom(ctx context.Context, room string) ([]string, error) {
	var (
		nicks []string
		opErr error
	)
	if err := h.do(ctx, func() {
		r, ok := h.rooms[room]
		if !ok {
			opErr = ErrRoomNotFound
			return
		}
		nicks = r.roster()
	}); err != nil {
		return nil, err
	}
	return nicks, opErr
}

// PeerConnections returns a snapshot of the connections in the caller's room.
func (h *Hub) PeerConnections(ctx context.Context, token string) ([]Conn, error) {
	var (
		conns []Conn
		opErr error
	)
	if err := h.do(ctx, func() {
		c, ok := h.clients[token]
		if !ok {
			opErr = ErrUnknownSession
			return
		}
		r, ok := h.rooms[c.Room]
		if !ok {
			opErr = ErrRoomNotFound
			return
		}
		conns = r.peerSnapshot()
	}); err != nil {
		return nil, err
	}
	return conns, opErr
}

// Lookup returns the session registered under token.
func (h *Hub) Lookup(ctx context.Context, token string) (Session, error) {
	var (
		s     Session
		opErr error
	)
	if err := h.do(ctx, func() {
		c, ok := h.clients[token]
		if !ok {
			opErr = ErrUnknownSession
			return
		}
		s = c.session()
	}); err != nil {
		return Session{}, err
	}
	return s, opErr
}

// Sweep drops pending reservations whose TTL has elapsed and returns how many were dropped.
func (h *Hub) Sweep(ctx context.Context) (int, error) {
	var n int
	if err := h.do(ctx, func() { n = h.expirePending() }); err != nil {
		return 0, err
	}
	return n, nil
}

func (h *Hub) expirePending() int {
	now := h.now()

	var expired []*Client
	for _, c := range h.clients {
		if c.State == StatePending && !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
			expired = append(expired, c)
		}
	}

	for _, c := range expired {
		h.removePending(c, store.EntryExpired)
		h.metrics.Eviction("pending_expired")
		h.log.Info().Str("session_id", c.Token).Str("room", c.Room).Msg("pending expired")
	}
	return len(expired)
}

func (h *Hub) removePending(c *Client, kind store.EntryKind) {
	delete(h.clients, c.Token)
	c.State = StateRemoved
	h.record(kind, c)

	r, ok := h.rooms[c.Room]
	if !ok {
		return
	}
	r.remove(c)
	if r.Empty() {
		h.removeRoom(r)
	}
}

func (h *Hub) removeRoom(r *Room) {
	delete(h.rooms, r.Name)
	if h.journal != nil {
		h.journal.Record(store.Entry{Room: r.Name, Kind: store.EntryRoomRemoved, CreatedAt: h.now()})
	}
	h.log.Info().Str("room", r.Name).Msg("room removed")
}

// announce delivers a registry-generated event.
func (h *Hub) announce(r *Room, ev proto.Event) {
	h.deliver(r, ev.Event, ev)
}

// deliver broadcasts v to a snapshot of r's peers and tracks write failures.
func (h *Hub) deliver(r *Room, event string, v any) {
	peers := r.peerSnapshot()
	failed, err := h.broadcaster.Broadcast(peers, event, v)
	if err != nil {
		h.log.Error().Err(err).Str("room", r.Name).Str("event", event).Msg("broadcast failed")
		return
	}
	h.trackFailures(r, peers, failed)
}

func (h *Hub) trackFailures(r *Room, peers, failed []Conn) {
	bad := make(map[Conn]struct{}, len(failed))
	for _, conn := range failed {
		bad[conn] = struct{}{}
	}

	for _, conn := range peers {
		c, ok := r.peers[conn]
		if !ok {
			continue
		}
		if _, isBad := bad[conn]; !isBad {
			c.writeFailures = 0
			continue
		}

		c.writeFailures++
		h.log.Debug().Str("session_id", c.Token).Int("failures", c.writeFailures).Msg("peer write failed")
		if h.limits.WriteFailureLimit > 0 && c.writeFailures >= h.limits.WriteFailureLimit && !c.evicting {
			c.evicting = true
			h.evictQueue = append(h.evictQueue, c.Token)
		}
	}
}

// drainEvictions deactivates clients that crossed the write failure limit.
// Their leave broadcasts may queue further evictions.
func (h *Hub) drainEvictions() {
	for len(h.evictQueue) > 0 {
		token := h.evictQueue[0]
		h.evictQueue = h.evictQueue[1:]

		c, ok := h.clients[token]
		if !ok || c.State != StateActive {
			continue
		}
		conn := c.conn

		h.deactivate(c, store.EntryEvicted)
		h.metrics.Eviction("write_failures")
		h.log.Warn().Str("session_id", token).Str("room", c.Room).Str("nick", c.Nick).Msg("session evicted")

		if conn != nil {
			if err := conn.Close(); err != nil {
				h.log.Debug().Err(err).Str("session_id", token).Msg("close evicted connection")
			}
		}
	}
}

func (h *Hub) observe() {
	if h.metrics == nil {
		return
	}
	var pending, active int
	for _, c := range h.clients {
		switch c.State {
		case StatePending:
			pending++
		case StateActive:
			active++
		}
	}
	h.metrics.SetOccupancy(len(h.rooms), pending, active)
}

func (h *Hub) record(kind store.EntryKind, c *Client) {
	if h.journal == nil {
		return
	}
	h.journal.Record(store.Entry{
		SessionID: c.Token,
		Room:      c.Room,
		Nick:      c.Nick,
		Kind:      kind,
		CreatedAt: h.now(),
	})
}
