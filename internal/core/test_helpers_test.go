package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomrelay/internal/frame"
	"github.com/vovakirdan/roomrelay/internal/store"
)

var errWriteFailed = errors.New("write failed")

// fakeConn records every frame written to it.
type fakeConn struct {
	name string

	mu     sync.Mutex
	frames [][]byte
	fail   bool
	closed bool
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name}
}

func (c *fakeConn) WriteFrame(f []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errWriteFailed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// wireEvent mirrors the outbound JSON envelope.
type wireEvent struct {
	Event    string          `json:"event"`
	Username string          `json:"username"`
	Payload  json.RawMessage `json:"payload"`
	Text     string          `json:"text"`
}

func (c *fakeConn) events(t *testing.T) []wireEvent {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]wireEvent, 0, len(c.frames))
	for _, raw := range c.frames {
		f, n, err := frame.Decode(raw)
		if err != nil {
			t.Fatalf("%s: decode frame: %v", c.name, err)
		}
		if n != len(raw) || f.Opcode != frame.OpText || !f.Fin {
			t.Fatalf("%s: unexpected frame %+v", c.name, f)
		}
		var ev wireEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			t.Fatalf("%s: unmarshal payload %q: %v", c.name, f.Payload, err)
		}
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func nickList(t *testing.T, ev wireEvent) []string {
	t.Helper()
	if ev.Event != "nick_list" {
		t.Fatalf("expected nick_list event, got %q", ev.Event)
	}
	var nicks []string
	if err := json.Unmarshal(ev.Payload, &nicks); err != nil {
		t.Fatalf("unmarshal nick_list payload: %v", err)
	}
	return nicks
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingJournal keeps lifecycle entries in memory.
type recordingJournal struct {
	mu      sync.Mutex
	entries []store.Entry
}

func (j *recordingJournal) Record(e store.Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

func (j *recordingJournal) kinds() []store.EntryKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]store.EntryKind, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Kind)
	}
	return out
}

func startHub(t *testing.T, limits Limits, configure func(*Hub)) *Hub {
	t.Helper()

	hub := NewHub(limits, nil, nil, nil)
	if configure != nil {
		configure(hub)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return hub
}

func mustReserve(t *testing.T, hub *Hub, room, nick string) Reservation {
	t.Helper()
	res, err := hub.ReservePending(context.Background(), room, nick)
	if err != nil {
		t.Fatalf("reserve %s/%s: %v", room, nick, err)
	}
	return res
}

func mustActivate(t *testing.T, hub *Hub, token string, conn Conn) {
	t.Helper()
	if err := hub.Activate(context.Background(), token, conn); err != nil {
		t.Fatalf("activate %s: %v", token, err)
	}
}
