package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/metrics"
	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
)

type testServer struct {
	*httptest.Server
}

func startTestServer(t *testing.T, journal store.Journal, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	logger := zerolog.Nop()
	rec := metrics.New()
	hub := core.NewHub(core.Limits{
		MaxRooms:          cfg.MaxRooms,
		MaxUsersPerRoom:   cfg.MaxUsersPerRoom,
		WriteFailureLimit: cfg.WriteFailureLimit,
	}, &logger, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(hub, journal, rec, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testServer{Server: ts}
}

func (s *testServer) get(t *testing.T, path string, query url.Values) *http.Response {
	t.Helper()

	target := s.URL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	resp, err := s.Client().Get(target)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (s *testServer) reserve(t *testing.T, room, nick string) proto.Reply {
	t.Helper()

	var reply proto.Reply
	decodeJSON(t, s.get(t, "/", url.Values{"room": {room}, "nick": {nick}}), &reply)
	return reply
}

func (s *testServer) mustReserve(t *testing.T, room, nick string) proto.Reply {
	t.Helper()

	reply := s.reserve(t, room, nick)
	if reply.Result != proto.ResultOK {
		t.Fatalf("reserve %s/%s: %+v", room, nick, reply)
	}
	return reply
}

func (s *testServer) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

type wireEvent struct {
	Event    string          `json:"event"`
	Username string          `json:"username"`
	Payload  json.RawMessage `json:"payload"`
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) wireEvent {
	t.Helper()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expected text message, got %v", typ)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return ev
}

func expectJoin(t *testing.T, ctx context.Context, conn *websocket.Conn, nick string, roster ...string) {
	t.Helper()

	ev := readEvent(t, ctx, conn)
	if ev.Event != proto.EventJoin || ev.Username != nick {
		t.Fatalf("expected join of %s, got %+v", nick, ev)
	}
	expectRoster(t, ctx, conn, roster...)
}

func expectRoster(t *testing.T, ctx context.Context, conn *websocket.Conn, want ...string) {
	t.Helper()

	ev := readEvent(t, ctx, conn)
	if ev.Event != proto.EventNickList {
		t.Fatalf("expected nick_list, got %+v", ev)
	}
	var got []string
	if err := json.Unmarshal(ev.Payload, &got); err != nil {
		t.Fatalf("nick_list payload: %v", err)
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("roster = %v, want %v", got, want)
	}
}

type staticJournal struct {
	mu      sync.Mutex
	entries []*store.Entry
	room    string
	limit   int
}

func (j *staticJournal) Append(context.Context, *store.Entry) error { return nil }

func (j *staticJournal) ListByRoom(_ context.Context, room string, limit int) ([]*store.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.room, j.limit = room, limit
	return j.entries, nil
}

func (j *staticJournal) ListBySession(context.Context, string) ([]*store.Entry, error) {
	return nil, nil
}

func (j *staticJournal) Close() error { return nil }

func (j *staticJournal) lastQuery() (string, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.room, j.limit
}
