package http

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/frame"
)

var (
	errPeerClosed     = errors.New("peer closed")
	errPeerBacklogged = errors.New("peer write queue full")
)

const (
	defaultWriteQueue  = 64
	closeFrameDeadline = time.Second
	maxControlPayload  = 125
)

type peerOptions struct {
	queue        int
	writeTimeout time.Duration
	pingPeriod   time.Duration
	pongWait     time.Duration
}

// peer adapts an upgraded websocket connection to core.Conn. Gorilla reads
// inbound messages; outbound frames, control frames included, are written to
// the raw connection by writeLoop so they never interleave. The one exception
// is gorilla failing a read (read limit, protocol error): it writes its own
// close frame first, and the peer is then abandoned rather than flushed.
type peer struct {
	ws   *websocket.Conn
	raw  net.Conn
	opts peerOptions
	log  *zerolog.Logger

	out     chan []byte
	closing chan struct{}
	done    chan struct{}

	mu         sync.Mutex
	closed     bool
	closeFrame []byte
}

func newPeer(ws *websocket.Conn, opts peerOptions, logger *zerolog.Logger) *peer {
	if opts.queue <= 0 {
		opts.queue = defaultWriteQueue
	}
	p := &peer{
		ws:      ws,
		raw:     ws.NetConn(),
		opts:    opts,
		log:     logger,
		out:     make(chan []byte, opts.queue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	ws.SetPingHandler(func(data string) error {
		p.control(frame.OpPong, []byte(data))
		return nil
	})
	ws.SetCloseHandler(func(code int, _ string) error {
		p.control(frame.OpClose, websocket.FormatCloseMessage(code, ""))
		return nil
	})
	if opts.pingPeriod > 0 && opts.pongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(opts.pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(opts.pongWait))
		})
	}

	return p
}

// WriteFrame queues an encoded frame without blocking.
func (p *peer) WriteFrame(f []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errPeerClosed
	}
	select {
	case p.out <- f:
		return nil
	default:
		return errPeerBacklogged
	}
}

// Close flushes queued frames, sends a close frame and drops the connection.
func (p *peer) Close() error {
	p.shutdown(websocket.CloseGoingAway, "connection closed")
	return nil
}

func (p *peer) shutdown(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.closeFrame = closeFrame(code, reason)
	close(p.closing)
}

// abandon stops the peer without writing anything more. Queued frames are
// dropped because gorilla has already sent a close frame of its own.
func (p *peer) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.closeFrame = nil
	for drained := false; !drained; {
		select {
		case <-p.out:
		default:
			drained = true
		}
	}
	close(p.closing)
}

func (p *peer) control(op frame.Opcode, payload []byte) {
	f, err := frame.Control(op, payload)
	if err != nil {
		p.log.Debug().Err(err).Msg("control frame dropped")
		return
	}
	if err := p.WriteFrame(f); err != nil {
		p.log.Debug().Err(err).Msg("control frame dropped")
	}
}

func (p *peer) writeLoop() {
	defer close(p.done)
	defer p.raw.Close()

	var ping <-chan time.Time
	if p.opts.pingPeriod > 0 {
		ticker := time.NewTicker(p.opts.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	sentClose := false
	for {
		select {
		case f := <-p.out:
			if err := p.write(f); err != nil {
				p.fail(err)
				return
			}
			sentClose = sentClose || isClose(f)
		case <-ping:
			f, _ := frame.Control(frame.OpPing, nil)
			if err := p.write(f); err != nil {
				p.fail(err)
				return
			}
		case <-p.closing:
			p.flush(sentClose)
			return
		}
	}
}

// flush writes whatever is still queued, then the close frame unless the
// close handshake already went out.
func (p *peer) flush(sentClose bool) {
	for {
		select {
		case f := <-p.out:
			if err := p.write(f); err != nil {
				return
			}
			sentClose = sentClose || isClose(f)
		default:
			if !sentClose {
				_ = p.raw.SetWriteDeadline(time.Now().Add(closeFrameDeadline))
				_, _ = p.raw.Write(p.closeFrame)
			}
			return
		}
	}
}

func (p *peer) write(f []byte) error {
	if p.opts.writeTimeout > 0 {
		if err := p.raw.SetWriteDeadline(time.Now().Add(p.opts.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := p.raw.Write(f)
	return err
}

func (p *peer) fail(err error) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.log.Warn().Err(err).Msg("peer write failed")
}

func closeFrame(code int, reason string) []byte {
	payload := websocket.FormatCloseMessage(code, reason)
	if len(payload) > maxControlPayload {
		payload = payload[:maxControlPayload]
	}
	f, _ := frame.Control(frame.OpClose, payload)
	return f
}

func isClose(f []byte) bool {
	return len(f) > 0 && frame.Opcode(f[0]&0x0F) == frame.OpClose
}
