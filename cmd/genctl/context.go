package main

import (
	"context"

	"github.com/rs/zerolog"

	"genstudio/internal/bootstrap"
	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/service"
)

// backend is the job surface the commands operate on.
type backend interface {
	EnqueueJob(ctx context.Context, in service.EnqueueInput) (string, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsForUser(ctx context.Context, userID string) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID, requesterID string) error
	QueueStats(ctx context.Context) (service.QueueStats, error)
}

type openFunc func(ctx context.Context) (backend, func(), error)

// openBackend connects to Postgres and Redis using the service environment.
// Jobs submitted from the CLI are left for a running worker to claim.
func openBackend(ctx context.Context) (backend, func(), error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv).Level(zerolog.WarnLevel)
	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewJobService(rt.Jobs, rt.Queue, nil, service.Options{Logger: logger})
	return svc, rt.Close, nil
}

type commandContext struct {
	open openFunc
}

func newCommandContext(open openFunc) *commandContext {
	return &commandContext{open: open}
}

// withBackend opens the backend for one command and releases it afterwards.
func (c *commandContext) withBackend(ctx context.Context, fn func(backend) error) error {
	b, closeFn, err := c.open(ctx)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(b)
}
