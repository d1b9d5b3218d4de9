package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/config"
	"github.com/presencekit/relay-server/internal/core"
	"github.com/presencekit/relay-server/internal/store"
	"github.com/presencekit/relay-server/internal/store/sqlite"
	transporthttp "github.com/presencekit/relay-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	avatars         store.AvatarStore
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	avatars, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init avatar store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("avatar store initialized")

	registry := core.NewRegistry()
	presence := core.NewPresence(registry, avatars, logger)
	router := core.NewRouter(registry, presence, avatars, logger)
	server := transporthttp.NewServer(registry, presence, router, avatars, *cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		avatars:         avatars,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

func (a *App) cleanup() {
	if a.avatars != nil {
		if err := a.avatars.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close avatar store")
		} else {
			a.log.Info().Msg("avatar store closed")
		}
	}
}
