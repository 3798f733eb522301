package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run reserves two sessions in one room, attaches both and checks that a
// message from the first reaches the second with the sender's nickname.
func run() error {
	server := flag.String("server", "http://localhost:5432", "relay base URL")
	room := flag.String("room", "smoke", "room name")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sender, err := attach(ctx, *server, *room, "smoke-a")
	if err != nil {
		return err
	}
	defer sender.Close(websocket.StatusNormalClosure, "bye")

	receiver, err := attach(ctx, *server, *room, "smoke-b")
	if err != nil {
		return err
	}
	defer receiver.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, sender, map[string]string{"event": "chat", "payload": *text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		var ev struct {
			Event    string          `json:"event"`
			Username string          `json:"username"`
			Payload  json.RawMessage `json:"payload"`
		}
		if err := wsjson.Read(ctx, receiver, &ev); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		log.Printf("event=%s username=%s payload=%s", ev.Event, ev.Username, ev.Payload)

		if ev.Event == "chat" && ev.Username == "smoke-a" {
			log.Println("smoke test passed")
			return nil
		}
	}
}

func attach(ctx context.Context, server, room, nick string) (*websocket.Conn, error) {
	query := url.Values{"room": {room}, "nick": {nick}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", nick, err)
	}
	defer resp.Body.Close()

	var reply proto.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reservation: %w", err)
	}
	if reply.Result != proto.ResultOK {
		return nil, fmt.Errorf("reserve %s refused: %s %s", nick, reply.Result, reply.Msg)
	}
	if reply.Nick != nick {
		return nil, fmt.Errorf("nickname %s taken in room %s (got %s)", nick, room, reply.Nick)
	}

	wsURL := "ws" + strings.TrimPrefix(server, "http") + "/ws/" + reply.ClientID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", nick, err)
	}
	return conn, nil
}
