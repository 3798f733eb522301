package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
)

const maxEventsLimit = 500

// APIHandlers serves read-only views of the registry and the lifecycle journal.
type APIHandlers struct {
	registry Registry
	journal  store.Journal
	log      *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance. journal may be nil.
func NewAPIHandlers(reg Registry, journal store.Journal, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{registry: reg, journal: journal, log: logger}
}

// RosterResponse lists the active members of a room.
type RosterResponse struct {
	Room  string   `json:"room"`
	Nicks []string `json:"nicks"`
}

// EventsResponse lists journal entries, newest first.
type EventsResponse struct {
	Room    string                 `json:"room"`
	Entries []proto.LifecycleEntry `json:"entries"`
}

// Nicks returns the roster of a room.
// GET /api/rooms/:room/nicks
func (h *APIHandlers) Nicks(c *gin.Context) {
	room := c.Param("room")

	nicks, err := h.registry.NicknamesInRoom(c.Request.Context(), room)
	if err != nil {
		status, body := apiError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("room", room).Msg("failed to list nicknames")
		}
		c.JSON(status, body)
		return
	}
	if nicks == nil {
		nicks = []string{}
	}

	c.JSON(http.StatusOK, RosterResponse{Room: room, Nicks: nicks})
}

// Events returns lifecycle journal entries for a room.
// GET /api/rooms/:room/events?limit=
func (h *APIHandlers) Events(c *gin.Context) {
	room := c.Param("room")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > maxEventsLimit {
		c.JSON(http.StatusBadRequest, proto.Error{Code: "invalid_limit", Msg: "limit must be between 1 and 500"})
		return
	}

	entries, err := h.journal.ListByRoom(c.Request.Context(), room, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to list journal entries")
		c.JSON(http.StatusInternalServerError, proto.Error{Code: "internal", Msg: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, EventsResponse{Room: room, Entries: lifecycleEntries(entries)})
}
