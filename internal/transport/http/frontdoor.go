package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/proto"
)

// SessionCookie carries the reserved session token between front door calls.
const SessionCookie = "roomrelay_session"

// FrontDoor serves the JSONP reservation endpoints. Replies are rendered as
// callback(json); when a callback query parameter is present, plain JSON otherwise.
type FrontDoor struct {
	registry Registry
	limits   core.Limits
	log      *zerolog.Logger
}

// NewFrontDoor creates front door handlers.
func NewFrontDoor(reg Registry, limits core.Limits, logger *zerolog.Logger) *FrontDoor {
	return &FrontDoor{registry: reg, limits: limits, log: logger}
}

// Reserve records a pending session for room/nick. Only an absent parameter
// is a missing argument; an empty one is validated as a name.
// GET /?room=&nick=&callback=
func (h *FrontDoor) Reserve(c *gin.Context) {
	room, hasRoom := c.GetQuery("room")
	nick, hasNick := c.GetQuery("nick")
	if !hasRoom || !hasNick {
		h.log.Debug().Bool("room", hasRoom).Bool("nick", hasNick).Msg("reserve: missing argument")
		c.JSONP(http.StatusOK, missingArgumentReply())
		return
	}

	res, err := h.registry.ReservePending(c.Request.Context(), room, nick)
	if err != nil {
		h.reject(c, err)
		return
	}

	c.SetCookie(SessionCookie, res.Token, 0, "/", "", false, true)
	c.JSONP(http.StatusOK, reservationReply(res))
}

// Drop discards a pending session before it attaches.
// GET /drop?client_id=&callback=
func (h *FrontDoor) Drop(c *gin.Context) {
	token := c.Query("client_id")
	if token == "" {
		token, _ = c.Cookie(SessionCookie)
	}
	if token == "" {
		c.JSONP(http.StatusOK, missingArgumentReply())
		return
	}

	if err := h.registry.DropPending(c.Request.Context(), token); err != nil {
		h.reject(c, err)
		return
	}

	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSONP(http.StatusOK, proto.Reply{Result: proto.ResultDropPending})
}

func (h *FrontDoor) reject(c *gin.Context, err error) {
	if reply, ok := rejectionReply(err, h.limits); ok {
		c.JSONP(http.StatusOK, reply)
		return
	}
	status, body := apiError(err)
	h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("front door request failed")
	c.JSON(status, body)
}
