package fx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"playsync/internal/api"
	"playsync/internal/config"
	"playsync/internal/constants"
	"playsync/internal/database"
	"playsync/internal/db"
	"playsync/internal/logger"
	"playsync/internal/repository"
	"playsync/internal/server"
	"playsync/internal/service"
	"playsync/internal/worker"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideQueries(sqlDB *sql.DB) *db.Queries {
	return db.New(sqlDB)
}

func ProvideStatsService(cfg *config.Config, state *repository.SyncStateRepository, stats *repository.StatsRepository, logger zerolog.Logger) *service.PlayStatsService {
	return service.NewPlayStatsService(state, stats, cfg.Stats.IncludeIncomplete, logger)
}

func ProvideDownloader(cfg *config.Config, client *api.BGGClient, plays *repository.PlayRepository, state *repository.SyncStateRepository, stats *service.PlayStatsService, logger zerolog.Logger) *service.PlayDownloader {
	return service.NewPlayDownloader(client, plays, state, stats, cfg.Username, logger)
}

func ProvideUploader(cfg *config.Config, client *api.BGGClient, plays *repository.PlayRepository, games *repository.GameRepository, stats *service.PlayStatsService, logger zerolog.Logger) *service.PlayUploader {
	return service.NewPlayUploader(client, plays, games, stats, cfg.Sync.UploadPause, logger)
}

func ProvideWorker(cfg *config.Config, uploader *service.PlayUploader, downloader *service.PlayDownloader, state *repository.SyncStateRepository, logger zerolog.Logger) *worker.SyncWorker {
	return worker.NewSyncWorker(uploader, downloader, state, cfg.Sync.Interval, logger)
}

func ProvideServer(w *worker.SyncWorker, downloader *service.PlayDownloader, uploader *service.PlayUploader, plays *service.PlayService, stats *service.PlayStatsService, logger zerolog.Logger) *server.Server {
	return server.NewServer(w, downloader, uploader, plays, stats, logger)
}

// Module wires everything a sync needs: store, remote client and engines.
var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	fx.Provide(ProvideQueries),
	// repos
	fx.Provide(repository.NewPlayRepository),
	fx.Provide(repository.NewSyncStateRepository),
	fx.Provide(repository.NewGameRepository),
	fx.Provide(repository.NewStatsRepository),
	// api client
	fx.Provide(api.NewBGGClient),
	// svc
	fx.Provide(ProvideStatsService),
	fx.Provide(ProvideDownloader),
	fx.Provide(ProvideUploader),
	fx.Provide(service.NewPlayService),
	fx.Provide(ProvideWorker),
)

// ServeModule adds the control surface and background scheduler.
var ServeModule = fx.Options(
	Module,
	fx.Provide(ProvideServer),
	fx.Invoke(RegisterServer),
)

// RegisterServer hooks the HTTP server, the sync worker and the database into
// the application lifecycle.
func RegisterServer(lc fx.Lifecycle, srv *server.Server, w *worker.SyncWorker, cfg *config.Config, sqlDB *sql.DB, logger zerolog.Logger) {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
	}

	// the worker outlives OnStart's ctx, so it gets its own
	workerCtx, cancelWorker := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Sync.Enabled {
				if err := w.Start(workerCtx); err != nil {
					cancelWorker()
					return err
				}
			} else {
				logger.Info().Msg("background sync disabled")
			}

			go func() {
				logger.Info().Str("addr", httpServer.Addr).Msg("server starting")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
			}

			if err := w.Stop(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("sync worker did not stop cleanly")
			}
			cancelWorker()

			if err := sqlDB.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
