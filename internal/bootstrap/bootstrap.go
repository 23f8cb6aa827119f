// Package bootstrap assembles the job pipeline shared by the API server, the
// standalone worker and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genstudio/internal/adapter/repo"
	"genstudio/internal/infra"
	"genstudio/internal/providers/ideogram"
	"genstudio/internal/queue"
	"genstudio/internal/storage"
	"genstudio/internal/worker"
)

// Runtime holds the long-lived connections and the components built on them.
type Runtime struct {
	Config *infra.Config
	Logger zerolog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Queue  *queue.RedisQueue
	Jobs   *repo.JobRepositoryPG
}

// Open connects Postgres and Redis, applies migrations when enabled and builds
// the job store and queue.
func Open(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Runtime, error) {
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if err := infra.Migrate(ctx, pool, infra.Component(logger, "migrate")); err != nil {
			pool.Close()
			return nil, err
		}
	}
	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
	q := queue.NewRedisQueue(rdb, queue.Options{
		Prefix:              cfg.QueuePrefix,
		Name:                cfg.QueueName,
		StalledInterval:     cfg.QueueStalledInterval,
		RemoveOnCompleteAge: cfg.RemoveOnCompleteAge,
		RemoveOnFailAge:     cfg.RemoveOnFailAge,
		Logger:              infra.Component(logger, "queue"),
	})
	return &Runtime{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		Redis:  rdb,
		Queue:  q,
		Jobs:   repo.NewJobRepository(runner),
	}, nil
}

// Close releases Redis and Postgres.
func (rt *Runtime) Close() {
	if err := rt.Redis.Close(); err != nil {
		rt.Logger.Warn().Err(err).Msg("bootstrap: close redis")
	}
	rt.Pool.Close()
}

// Uploader builds the upload backend selected by UPLOAD_PROVIDER. The file
// uploader is also returned when it is in use so callers can store client
// supplied references with it.
func (rt *Runtime) Uploader() (worker.Uploader, *storage.FileUploader, error) {
	cfg := rt.Config
	httpClient := &http.Client{Timeout: 60 * time.Second}
	switch cfg.UploadProvider {
	case infra.UploadProviderCloudinary:
		up, err := storage.NewCloudinaryUploader(storage.CloudinaryOptions{
			CloudName:  cfg.CloudinaryCloudName,
			APIKey:     cfg.CloudinaryAPIKey,
			APISecret:  cfg.CloudinaryAPISecret,
			Folder:     cfg.CloudinaryFolder,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, nil, err
		}
		return up, nil, nil
	default:
		store, err := storage.NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, nil, fmt.Errorf("configure storage: %w", err)
		}
		up := storage.NewFileUploader(store, cfg.StorageBaseURL, httpClient)
		return up, up, nil
	}
}

// Processor builds the per-job pipeline handler.
func (rt *Runtime) Processor(uploader worker.Uploader) *worker.Processor {
	cfg := rt.Config
	genLogger := infra.Component(rt.Logger, "ideogram")
	generator := ideogram.NewClient(ideogram.Options{
		APIKey:         cfg.IdeogramAPIKey,
		BaseURL:        cfg.IdeogramBaseURL,
		Logger:         &genLogger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if !generator.HasCredentials() {
		rt.Logger.Warn().Msg("bootstrap: IDEOGRAM_API_KEY missing, generation requests will fail")
	}
	return worker.NewProcessor(rt.Jobs, generator, uploader, worker.ProcessorOptions{
		Logger:        infra.Component(rt.Logger, "processor"),
		DefaultLocale: cfg.DefaultLocale,
	})
}

// Manager builds the worker manager with the given policy.
func (rt *Runtime) Manager(handler queue.Handler, policy string) *worker.Manager {
	cfg := rt.Config
	return worker.NewManager(rt.Queue, handler, worker.Options{
		Policy:               policy,
		Concurrency:          cfg.WorkerConcurrency,
		PollInterval:         cfg.QueuePollInterval,
		StalledCheckInterval: cfg.QueueStalledCheck,
		Logger:               infra.Component(rt.Logger, "worker"),
	})
}
