package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:5432", "relay base URL")
	nick := flag.String("nick", "cli-user", "nickname")
	room := flag.String("room", "lobby", "room to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	reply, err := reserve(ctx, *server, *room, *nick)
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(*server, "http") + "/ws/" + reply.ClientID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s as %s in room %s\n", *server, reply.Nick, reply.RoomName)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn)
	return nil
}

func reserve(ctx context.Context, server, room, nick string) (proto.Reply, error) {
	query := url.Values{"room": {room}, "nick": {nick}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/?"+query.Encode(), nil)
	if err != nil {
		return proto.Reply{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return proto.Reply{}, fmt.Errorf("reserve: %w", err)
	}
	defer resp.Body.Close()

	var reply proto.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return proto.Reply{}, fmt.Errorf("decode reservation: %w", err)
	}
	if reply.Result != proto.ResultOK {
		return reply, fmt.Errorf("reservation refused: %s %s", reply.Result, reply.Msg)
	}
	return reply, nil
}

type incoming struct {
	Event    string          `json:"event"`
	Username string          `json:"username"`
	Payload  json.RawMessage `json:"payload"`
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var ev incoming
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch ev.Event {
		case proto.EventJoin, proto.EventLeave:
			var text string
			if err := json.Unmarshal(ev.Payload, &text); err != nil {
				log.Printf("unmarshal %s payload: %v", ev.Event, err)
				continue
			}
			fmt.Printf("* %s%s\n", ev.Username, text)
		case proto.EventNickList:
			var nicks []string
			if err := json.Unmarshal(ev.Payload, &nicks); err != nil {
				log.Printf("unmarshal %s payload: %v", ev.Event, err)
				continue
			}
			fmt.Printf("* members: %s\n", strings.Join(nicks, ", "))
		default:
			var text string
			if err := json.Unmarshal(ev.Payload, &text); err != nil {
				text = string(ev.Payload)
			}
			fmt.Printf("%s: %s\n", ev.Username, text)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := wsjson.Write(ctx, conn, map[string]string{"event": "chat", "payload": text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
