package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genstudio/internal/bootstrap"
	"genstudio/internal/infra"
)

// The standalone worker consumes the queue with the always policy so the API
// can run with WORKER_POLICY=always and no in-process worker, or alongside it.
func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	uploader, _, err := rt.Uploader()
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure uploads")
	}
	manager := rt.Manager(rt.Processor(uploader).Handle, infra.WorkerPolicyAlways)
	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: start failed")
	}
	logger.Info().
		Str("queue", rt.Queue.Name()).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("worker: started")

	<-ctx.Done()
	logger.Info().Msg("worker: shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := manager.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("worker: stop failed, in-flight jobs will be redelivered")
	}
	logger.Info().Msg("worker: stopped")
}
