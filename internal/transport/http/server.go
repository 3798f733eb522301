package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/metrics"
	"github.com/vovakirdan/roomrelay/internal/store"
)

// Registry is the part of the hub the HTTP layer drives.
type Registry interface {
	ReservePending(ctx context.Context, room, nick string) (core.Reservation, error)
	DropPending(ctx context.Context, token string) error
	Activate(ctx context.Context, token string, conn core.Conn) error
	Deactivate(ctx context.Context, token string) error
	Relay(ctx context.Context, token string, payload []byte) error
	NicknamesInRoom(ctx context.Context, room string) ([]string, error)
}

// NewServer builds the HTTP server: front door, websocket attach, read APIs,
// health, metrics and optional static files. journal and rec may be nil.
func NewServer(reg Registry, journal store.Journal, rec *metrics.Recorder, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	limits := core.Limits{MaxRooms: cfg.MaxRooms, MaxUsersPerRoom: cfg.MaxUsersPerRoom}
	frontDoor := NewFrontDoor(reg, limits, logger)
	router.GET("/", frontDoor.Reserve)
	router.GET("/drop", frontDoor.Drop)

	wsHandler := NewWSHandler(reg, cfg, logger)
	router.GET("/ws", wsHandler.Attach)
	router.GET("/ws/:token", wsHandler.Attach)

	router.GET("/health", healthHandler)
	if rec != nil {
		router.GET("/metrics", gin.WrapH(rec.Handler()))
	}

	apiHandlers := NewAPIHandlers(reg, journal, logger)
	api := router.Group("/api/rooms/:room")
	{
		api.GET("/nicks", apiHandlers.Nicks)
		if journal != nil {
			api.GET("/events", apiHandlers.Events)
		}
	}

	if cfg.StaticDir != "" {
		router.Static("/static", cfg.StaticDir)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
