// Package service exposes the job orchestration operations used by the HTTP
// API and the operator CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/queue"
)

// Queue is the part of the queue engine the service needs.
type Queue interface {
	Enqueue(ctx context.Context, jobID string, payload any) (string, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

// WorkerStarter starts the worker loop on demand.
type WorkerStarter interface {
	Start(ctx context.Context) error
}

// EnqueueInput describes a new generation request.
type EnqueueInput struct {
	UserID string
	Prompt string
	Locale string
	Params domain.GenerationParams
}

// QueueStats is a snapshot of queue depth and worker state.
type QueueStats struct {
	Waiting int64  `json:"waiting"`
	Active  int64  `json:"active"`
	Worker  string `json:"worker"`
}

// Options configures a JobService.
type Options struct {
	Logger zerolog.Logger
	// WorkerState reports the worker lifecycle state for QueueStats.
	WorkerState func() string
	Now         func() time.Time
	NewID       func() string
}

// JobService implements enqueue, lookup, listing and owner-checked delete.
type JobService struct {
	jobs    domain.JobRepository
	queue   Queue
	workers WorkerStarter
	opts    Options
	logger  zerolog.Logger
}

// NewJobService wires a JobService. workers may be nil when a dedicated
// worker process consumes the queue.
func NewJobService(jobs domain.JobRepository, q Queue, workers WorkerStarter, opts Options) *JobService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &JobService{
		jobs:    jobs,
		queue:   q,
		workers: workers,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// EnqueueJob validates the request, writes the queued record, hands the job
// to the queue and makes sure a worker is running.
func (s *JobService) EnqueueJob(ctx context.Context, in EnqueueInput) (string, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if in.Prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if in.Params.IsRemix && strings.TrimSpace(in.Params.ImageInputURL) == "" {
		return "", fmt.Errorf("%w: image input url is required for remix", domain.ErrValidation)
	}

	if domain.ParseAspectRatio(in.Params.AspectRatio) == domain.AspectRatioUnspecified {
		in.Params.AspectRatio = string(domain.DefaultAspectRatio)
	}
	seed := domain.ResolveSeed(in.Params.RequestedSeed())

	now := s.opts.Now()
	job := &domain.Job{
		ID:          s.opts.NewID(),
		UserID:      in.UserID,
		Prompt:      in.Prompt,
		Params:      in.Params,
		Status:      domain.JobStatusQueued,
		Seed:        seed,
		Model:       domain.ParseModel(in.Params.Model),
		StyleType:   domain.ParseStyleType(in.Params.StyleType),
		AspectRatio: domain.ParseAspectRatio(in.Params.AspectRatio),
		Locale:      in.Locale,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}

	logger := s.logger.With().Str("job_id", job.ID).Str("user_id", job.UserID).Logger()
	deliveryID, err := s.queue.Enqueue(ctx, job.ID, job.Payload())
	if err != nil {
		// The caller never learns the id, so the queued record is removed
		// rather than left waiting for a delivery that does not exist.
		if derr := s.jobs.DeleteIfOwner(ctx, job.ID, job.UserID); derr != nil {
			logger.Warn().Err(derr).Msg("service: remove unqueued job failed")
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	logger.Info().Str("delivery_id", deliveryID).Bool("remix", in.Params.IsRemix).Msg("service: job queued")

	if s.workers != nil {
		if err := s.workers.Start(ctx); err != nil {
			// The delivery stays waiting and is claimed by the next start.
			logger.Error().Err(err).Msg("service: worker start failed")
		}
	}
	return job.ID, nil
}

// GetJob returns the record for jobID.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	return s.jobs.GetByID(ctx, jobID)
}

// ListJobsForUser returns the user's jobs, newest first.
func (s *JobService) ListJobsForUser(ctx context.Context, userID string) ([]domain.Job, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.jobs.ListByUser(ctx, userID)
}

// DeleteJob removes jobID when requesterID owns it.
func (s *JobService) DeleteJob(ctx context.Context, jobID, requesterID string) error {
	jobID = strings.TrimSpace(jobID)
	requesterID = strings.TrimSpace(requesterID)
	if jobID == "" || requesterID == "" {
		return fmt.Errorf("%w: job id and requester id are required", domain.ErrValidation)
	}
	err := s.jobs.DeleteIfOwner(ctx, jobID, requesterID)
	switch {
	case err == nil:
		s.logger.Info().Str("job_id", jobID).Str("user_id", requesterID).Msg("service: job deleted")
	case errors.Is(err, domain.ErrForbidden):
		s.logger.Warn().Str("job_id", jobID).Str("user_id", requesterID).Msg("service: delete refused for non-owner")
	}
	return err
}

// QueueStats reports waiting and active deliveries.
func (s *JobService) QueueStats(ctx context.Context) (QueueStats, error) {
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue counts: %w", err)
	}
	stats := QueueStats{Waiting: counts.Waiting, Active: counts.Active}
	if s.opts.WorkerState != nil {
		stats.Worker = s.opts.WorkerState()
	}
	return stats, nil
}
