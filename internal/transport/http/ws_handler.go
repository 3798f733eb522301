package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/proto"
)

const detachTimeout = 5 * time.Second

// WSHandler upgrades attach requests and bridges them to a pending session.
type WSHandler struct {
	registry          Registry
	upgrader          websocket.Upgrader
	opts              peerOptions
	maxMessageBytes   int64
	messagesPerMinute int
	log               *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(reg Registry, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts: peerOptions{
			queue:        cfg.WriteQueue,
			writeTimeout: cfg.WriteTimeout,
			pingPeriod:   cfg.PingPeriod,
			pongWait:     cfg.PongWait,
		},
		maxMessageBytes:   cfg.MaxMessageBytes,
		messagesPerMinute: cfg.MessagesPerMinute,
		log:               logger,
	}
}

// Attach binds a websocket to the pending session named by the token.
// GET /ws/:token
func (h *WSHandler) Attach(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		h.log.Warn().Str("remote", c.ClientIP()).Msg("ws attach rejected: no session token")
		c.JSON(http.StatusBadRequest, proto.Error{Code: core.ErrCodeMissingParameter, Msg: "session token is required"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", token).Msg("ws upgrade failed")
		return
	}
	if h.maxMessageBytes > 0 {
		ws.SetReadLimit(h.maxMessageBytes)
	}

	logger := h.log.With().Str("session_id", token).Logger()
	p := newPeer(ws, h.opts, &logger)
	go p.writeLoop()

	ctx := c.Request.Context()
	if err := h.registry.Activate(ctx, token, p); err != nil {
		logger.Warn().Err(err).Msg("ws attach rejected")
		p.shutdown(websocket.ClosePolicyViolation, "unknown session")
		<-p.done
		return
	}

	h.readLoop(ctx, token, p, &logger)

	detachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachTimeout)
	defer cancel()
	if err := h.registry.Deactivate(detachCtx, token); err != nil && !errors.Is(err, core.ErrUnknownSession) {
		logger.Warn().Err(err).Msg("ws detach failed")
	}

	p.shutdown(websocket.CloseNormalClosure, "")
	<-p.done
}

func (h *WSHandler) readLoop(ctx context.Context, token string, p *peer, logger *zerolog.Logger) {
	limiter := newRateLimiter(h.messagesPerMinute)

	for {
		kind, data, err := p.ws.ReadMessage()
		if err != nil {
			logReadError(logger, err)
			if closedByGorilla(err) {
				p.abandon()
			}
			return
		}
		if kind != websocket.TextMessage {
			logger.Debug().Int("type", kind).Msg("non-text message ignored")
			continue
		}
		if !limiter.allow() {
			logger.Warn().Int("limit", h.messagesPerMinute).Msg("rate limit exceeded; message discarded")
			continue
		}

		err = h.registry.Relay(ctx, token, data)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrBadPayload):
			logger.Debug().Err(err).Msg("message ignored")
		default:
			// Evicted, or the hub is gone.
			logger.Info().Err(err).Msg("relay stopped")
			return
		}
	}
}

// closedByGorilla reports read failures after which gorilla has already
// written a close frame: an exceeded read limit or a protocol error.
func closedByGorilla(err error) bool {
	if errors.Is(err, websocket.ErrReadLimit) {
		return true
	}
	var closeErr *websocket.CloseError
	var netErr net.Error
	if errors.As(err, &closeErr) || errors.As(err, &netErr) {
		return false
	}
	return strings.HasPrefix(err.Error(), "websocket: ")
}

func logReadError(logger *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn().Err(err).Msg("message exceeded read limit")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug().Err(err).Msg("peer disconnected")
	default:
		logger.Debug().Err(err).Msg("ws read ended")
	}
}
