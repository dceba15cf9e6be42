package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"summoner-story/internal/archive"
	"summoner-story/internal/config"
	"summoner-story/internal/constants"
	fxmodules "summoner-story/internal/fx"
	"summoner-story/internal/middleware"
	"summoner-story/internal/server"
	"summoner-story/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	recapServer *server.RecapServer,
	orchestrator *service.Orchestrator,
	upstream server.Upstream,
	store archive.Store,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	mux := http.NewServeMux()

	path, handler := recapServer.Handler()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID", server.ErrorKindHeader, server.ErrorCodeHeader},
		AllowCredentials: true,
	})

	requestIDMiddleware := middleware.RequestID(logger)

	mux.Handle(path, requestIDMiddleware(middleware.Recover(c.Handler(handler))))
	mux.Handle(server.HealthPath, c.Handler(server.HealthHandler(upstream)))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if minioStore, ok := store.(*archive.MinioStore); ok {
				if err := minioStore.EnsureBucket(ctx); err != nil {
					logger.Warn().Err(err).Msg("raw match archive unavailable")
				}
			}

			orchestrator.Start()

			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			// running jobs record SERVICE_UNAVAILABLE before the database goes away
			if err := orchestrator.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("recap pipelines did not stop in time")
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
