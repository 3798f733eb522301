package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	applog "github.com/vovakirdan/roomrelay/internal/log"
	"github.com/vovakirdan/roomrelay/internal/metrics"
	"github.com/vovakirdan/roomrelay/internal/store"
	"github.com/vovakirdan/roomrelay/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomrelay/internal/transport/http"
)

const journalBuffer = 1024

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	journal         store.Journal
	writer          *store.Writer
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	rec := metrics.New()

	var (
		journal  store.Journal
		writer   *store.Writer
		recorder core.Recorder
	)
	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init journal: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("journal initialized")

		journal = st
		writer = store.NewWriter(st, journalBuffer, applog.Component(logger, "journal"))
		recorder = writer
	}

	hub := core.NewHub(limitsFrom(cfg), applog.Component(logger, "hub"), rec, recorder)
	server := transporthttp.NewServer(hub, journal, rec, cfg, applog.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		journal:         journal,
		writer:          writer,
		log:             logger,
	}, nil
}

func limitsFrom(cfg *config.Config) core.Limits {
	return core.Limits{
		MaxRooms:          cfg.MaxRooms,
		MaxUsersPerRoom:   cfg.MaxUsersPerRoom,
		PendingTTL:        cfg.PendingTTL,
		SweepInterval:     cfg.SweepInterval,
		WriteFailureLimit: cfg.WriteFailureLimit,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	writerCtx, stopWriter := context.WithCancel(context.Background())
	defer stopWriter()
	if a.writer != nil {
		go a.writer.Run(writerCtx)
	}

	go a.hub.Run(ctx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup(stopWriter)
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup(stopWriter)
			return err
		}

		a.cleanup(stopWriter)
		return <-serverErr
	}
}

// cleanup flushes the journal writer and closes the database.
func (a *App) cleanup(stopWriter context.CancelFunc) {
	if a.writer != nil {
		stopWriter()
		<-a.writer.Done()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close journal")
		} else {
			a.log.Info().Msg("journal closed")
		}
	}
}
