package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t, nil, nil)

	resp := ts.get(t, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ts.mustReserve(t, "lobby", "bob")

	resp := ts.get(t, "/metrics", nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `roomrelay_reservations_total{result="ok"} 1`) {
		t.Fatalf("reservation counter missing from:\n%s", body)
	}
}

func TestReserveRendersJSONP(t *testing.T) {
	ts := startTestServer(t, nil, nil)

	resp := ts.get(t, "/", url.Values{"room": {"lobby"}, "nick": {"bob"}, "callback": {"cb"}})
	body, _ := io.ReadAll(resp.Body)

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/javascript") {
		t.Fatalf("content type = %q", ct)
	}
	text := string(body)
	if !strings.HasPrefix(text, "cb(") || !strings.HasSuffix(text, ");") {
		t.Fatalf("not a JSONP body: %q", text)
	}

	var reply proto.Reply
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(text, "cb("), ");")), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Result != proto.ResultOK || reply.RoomName != "lobby" || reply.Nick != "bob" || len(reply.ClientID) != 32 {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != reply.ClientID {
		t.Fatalf("session cookie not set to client id: %+v", resp.Cookies())
	}
}

func TestReserveRejections(t *testing.T) {
	tests := []struct {
		name       string
		query      url.Values
		wantResult string
		wantCode   string
		wantMsg    string
	}{
		{"missing nick", url.Values{"room": {"lobby"}}, proto.ResultMissingArgument, core.ErrCodeMissingParameter, ""},
		{"missing room", url.Values{"nick": {"bob"}}, proto.ResultMissingArgument, core.ErrCodeMissingParameter, ""},
		{"bad room", url.Values{"room": {"my room"}, "nick": {"bob"}}, proto.ResultInvalidName, core.ErrCodeInvalidRoomName, "room name"},
		{"bad nick", url.Values{"room": {"lobby"}, "nick": {"b@b"}}, proto.ResultInvalidName, core.ErrCodeInvalidNickname, "nickname"},
		{"empty room", url.Values{"room": {""}, "nick": {"bob"}}, proto.ResultInvalidName, core.ErrCodeInvalidRoomName, "room name"},
		{"empty nick", url.Values{"room": {"lobby"}, "nick": {""}}, proto.ResultInvalidName, core.ErrCodeInvalidNickname, "nickname"},
	}

	ts := startTestServer(t, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reply proto.Reply
			decodeJSON(t, ts.get(t, "/", tt.query), &reply)

			if reply.Result != tt.wantResult || reply.Code != tt.wantCode {
				t.Fatalf("reply = %+v, want %s/%s", reply, tt.wantResult, tt.wantCode)
			}
			if !strings.Contains(reply.Msg, tt.wantMsg) {
				t.Fatalf("emsg %q does not mention %q", reply.Msg, tt.wantMsg)
			}
			if reply.ClientID != "" {
				t.Fatalf("rejected reservation carries a client id: %+v", reply)
			}
		})
	}
}

func TestReserveRoomLimit(t *testing.T) {
	ts := startTestServer(t, nil, func(cfg *config.Config) { cfg.MaxRooms = 1 })
	ts.mustReserve(t, "lobby", "bob")

	reply := ts.reserve(t, "other", "alice")
	if reply.Result != proto.ResultMaxReached || reply.Code != core.ErrCodeRoomLimitExceeded {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if !strings.Contains(reply.Msg, "(1)") {
		t.Fatalf("emsg should name the limit: %q", reply.Msg)
	}
}

func TestDropPending(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	first := ts.mustReserve(t, "lobby", "bob")

	var reply proto.Reply
	decodeJSON(t, ts.get(t, "/drop", url.Values{"client_id": {first.ClientID}}), &reply)
	if reply.Result != proto.ResultDropPending {
		t.Fatalf("drop: %+v", reply)
	}

	reply = proto.Reply{}
	decodeJSON(t, ts.get(t, "/drop", url.Values{"client_id": {first.ClientID}}), &reply)
	if reply.Result != proto.ResultUnknownSession || reply.Code != core.ErrCodeUnknownSession {
		t.Fatalf("second drop: %+v", reply)
	}

	reply = proto.Reply{}
	decodeJSON(t, ts.get(t, "/drop", nil), &reply)
	if reply.Result != proto.ResultMissingArgument {
		t.Fatalf("drop without id: %+v", reply)
	}

	// The room was removed with its only member, so the nickname is free again.
	if again := ts.mustReserve(t, "lobby", "bob"); again.Nick != "bob" {
		t.Fatalf("nickname not released: %+v", again)
	}
}

func TestDropUsesSessionCookie(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	res := ts.mustReserve(t, "lobby", "bob")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/drop", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: res.ClientID})
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	defer resp.Body.Close()

	var reply proto.Reply
	decodeJSON(t, resp, &reply)
	if reply.Result != proto.ResultDropPending {
		t.Fatalf("drop via cookie: %+v", reply)
	}
}

func TestWebSocketLobbyConversation(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := ts.mustReserve(t, "lobby", "bob")
	connA := ts.dial(t, ctx, first.ClientID)
	expectJoin(t, ctx, connA, "bob", "bob")

	second := ts.mustReserve(t, "lobby", "bob")
	if second.Nick != "bob1" {
		t.Fatalf("collision should resolve to bob1, got %q", second.Nick)
	}
	connB := ts.dial(t, ctx, second.ClientID)
	expectJoin(t, ctx, connA, "bob1", "bob", "bob1")
	expectJoin(t, ctx, connB, "bob1", "bob", "bob1")

	if err := connA.Write(ctx, websocket.MessageText, []byte(`{"event":"chat","payload":"hi"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, conn := range []*websocket.Conn{connA, connB} {
		ev := readEvent(t, ctx, conn)
		if ev.Event != "chat" || ev.Username != "bob" || string(ev.Payload) != `"hi"` {
			t.Fatalf("unexpected relay: %+v", ev)
		}
	}

	connB.Close(websocket.StatusNormalClosure, "bye")
	ev := readEvent(t, ctx, connA)
	if ev.Event != proto.EventLeave || ev.Username != "bob1" {
		t.Fatalf("expected leave of bob1, got %+v", ev)
	}
	expectRoster(t, ctx, connA, "bob")
}

func TestWebSocketIgnoresNonObjectMessages(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := ts.mustReserve(t, "lobby", "bob")
	conn := ts.dial(t, ctx, res.ClientID)
	expectJoin(t, ctx, conn, "bob", "bob")

	for _, msg := range []string{`[1,2]`, `"text"`, `null`, `not json`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("write %q: %v", msg, err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"payload":"ok"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := readEvent(t, ctx, conn)
	if ev.Username != "bob" || string(ev.Payload) != `"ok"` {
		t.Fatalf("expected only the object to be relayed, got %+v", ev)
	}
}

func TestWebSocketDropsInvalidUTF8(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := ts.mustReserve(t, "lobby", "mallory")
	connA := ts.dial(t, ctx, first.ClientID)
	expectJoin(t, ctx, connA, "mallory", "mallory")

	second := ts.mustReserve(t, "lobby", "bob")
	connB := ts.dial(t, ctx, second.ClientID)
	expectJoin(t, ctx, connA, "bob", "mallory", "bob")
	expectJoin(t, ctx, connB, "bob", "mallory", "bob")

	for _, msg := range []string{"{\"payload\":\"\xff\"}", `{"payload":"ok"}`} {
		if err := connA.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	_, data, err := connB.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !utf8.Valid(data) {
		t.Fatalf("peer received invalid utf-8: %q", data)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	if ev.Username != "mallory" || string(ev.Payload) != `"ok"` {
		t.Fatalf("expected only the valid message to be relayed, got %+v", ev)
	}
}

func TestWebSocketOversizedMessageClosesConnection(t *testing.T) {
	ts := startTestServer(t, nil, func(cfg *config.Config) { cfg.MaxMessageBytes = 64 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := ts.mustReserve(t, "lobby", "bob")
	conn := ts.dial(t, ctx, res.ClientID)
	expectJoin(t, ctx, conn, "bob", "bob")

	big := `{"payload":"` + strings.Repeat("x", 200) + `"}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusMessageTooBig {
		t.Fatalf("close status = %v (err %v), want message too big", status, err)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	ts := startTestServer(t, nil, func(cfg *config.Config) { cfg.MessagesPerMinute = 1 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := ts.mustReserve(t, "lobby", "bob")
	conn := ts.dial(t, ctx, res.ClientID)
	expectJoin(t, ctx, conn, "bob", "bob")

	for _, msg := range []string{`{"n":1}`, `{"n":2}`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if ev := readEvent(t, ctx, conn); ev.Username != "bob" {
		t.Fatalf("first message not relayed: %+v", ev)
	}

	short, cancelShort := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelShort()
	if _, data, err := conn.Read(short); err == nil {
		t.Fatalf("second message should have been discarded, got %s", data)
	}
}

func TestWebSocketUnknownTokenIsClosed(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := ts.dial(t, ctx, "nope")
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v (err %v), want policy violation", status, err)
	}
}

func TestWebSocketAttachTwiceIsRejected(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := ts.mustReserve(t, "lobby", "bob")
	conn := ts.dial(t, ctx, res.ClientID)
	expectJoin(t, ctx, conn, "bob", "bob")

	dup := ts.dial(t, ctx, res.ClientID)
	_, _, err := dup.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v (err %v), want policy violation", status, err)
	}
}

func TestWebSocketWithoutToken(t *testing.T) {
	ts := startTestServer(t, nil, nil)

	resp := ts.get(t, "/ws", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body proto.Error
	decodeJSON(t, resp, &body)
	if body.Code != core.ErrCodeMissingParameter {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRosterAPI(t *testing.T) {
	ts := startTestServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := ts.mustReserve(t, "lobby", "bob")

	var roster RosterResponse
	decodeJSON(t, ts.get(t, "/api/rooms/lobby/nicks", nil), &roster)
	if roster.Nicks == nil || len(roster.Nicks) != 0 {
		t.Fatalf("pending members are not listed, got %+v", roster)
	}

	conn := ts.dial(t, ctx, res.ClientID)
	expectJoin(t, ctx, conn, "bob", "bob")

	roster = RosterResponse{}
	decodeJSON(t, ts.get(t, "/api/rooms/lobby/nicks", nil), &roster)
	if len(roster.Nicks) != 1 || roster.Nicks[0] != "bob" {
		t.Fatalf("unexpected roster: %+v", roster)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp := ts.get(t, "/api/rooms/lobby/nicks", nil)
		if resp.StatusCode == http.StatusNotFound {
			var body proto.Error
			decodeJSON(t, resp, &body)
			if body.Code != core.ErrCodeRoomNotFound {
				t.Fatalf("unexpected body: %+v", body)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("room still listed after its last member left (status %d)", resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventsAPI(t *testing.T) {
	journal := &staticJournal{entries: []*store.Entry{
		{SessionID: "abc", Room: "lobby", Nick: "bob", Kind: store.EntryActivated, CreatedAt: time.Unix(100, 0)},
	}}
	ts := startTestServer(t, journal, nil)

	var events EventsResponse
	decodeJSON(t, ts.get(t, "/api/rooms/lobby/events", url.Values{"limit": {"5"}}), &events)
	if room, limit := journal.lastQuery(); room != "lobby" || limit != 5 {
		t.Fatalf("journal queried with room=%q limit=%d", room, limit)
	}
	if len(events.Entries) != 1 {
		t.Fatalf("unexpected entries: %+v", events)
	}
	if got := events.Entries[0]; got.Kind != "activated" || got.SessionID != "abc" || got.TS != 100 {
		t.Fatalf("unexpected entry: %+v", got)
	}

	for _, bad := range []string{"0", "-1", "abc", "501"} {
		resp := ts.get(t, "/api/rooms/lobby/events", url.Values{"limit": {bad}})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("limit %q: status %d, want 400", bad, resp.StatusCode)
		}
	}
}

func TestEventsAPIDisabledWithoutJournal(t *testing.T) {
	ts := startTestServer(t, nil, nil)

	resp := ts.get(t, "/api/rooms/lobby/events", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRejectionReplyUnknownErrors(t *testing.T) {
	if _, ok := rejectionReply(errors.New("boom"), core.DefaultLimits()); ok {
		t.Fatal("foreign errors are not front door replies")
	}
	if _, ok := rejectionReply(core.ErrHubClosed, core.DefaultLimits()); ok {
		t.Fatal("hub closed is not a front door reply")
	}
	if status, _ := apiError(core.ErrHubClosed); status != http.StatusServiceUnavailable {
		t.Fatalf("hub closed status = %d", status)
	}
}
