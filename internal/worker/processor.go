package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/providers/apierr"
	"genstudio/internal/queue"
)

// Generator produces an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, params domain.GenerationParams) (domain.GeneratedImage, error)
	Remix(ctx context.Context, prompt string, params domain.GenerationParams) (domain.GeneratedImage, error)
}

// Uploader copies a generated image to durable storage owned by ownerID and
// returns its stable URL.
type Uploader interface {
	Upload(ctx context.Context, sourceURL, ownerID string) (string, error)
}

// JobError is the failure a handler reports to the queue. Error returns the
// user-safe message; Unwrap exposes the cause for logging.
type JobError struct {
	Message string
	Err     error
}

func (e *JobError) Error() string { return e.Message }

func (e *JobError) Unwrap() error { return e.Err }

// ProcessorOptions configures a Processor.
type ProcessorOptions struct {
	Logger        zerolog.Logger
	DefaultLocale string
	// FinalWriteAttempts bounds retries of the result write. Defaults to 3.
	FinalWriteAttempts int
	RetryDelay         time.Duration
	Now                func() time.Time
}

// Processor runs the generate, upload and persist pipeline for one job.
type Processor struct {
	jobs      domain.JobRepository
	generator Generator
	uploader  Uploader
	opts      ProcessorOptions
	logger    zerolog.Logger
}

// NewProcessor wires the pipeline collaborators.
func NewProcessor(jobs domain.JobRepository, generator Generator, uploader Uploader, opts ProcessorOptions) *Processor {
	if opts.FinalWriteAttempts < 1 {
		opts.FinalWriteAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 250 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}
	return &Processor{
		jobs:      jobs,
		generator: generator,
		uploader:  uploader,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Handle is the queue.Handler for generation deliveries.
func (p *Processor) Handle(ctx context.Context, d *queue.Delivery) error {
	var payload domain.JobPayload
	if err := d.Decode(&payload); err != nil {
		p.logger.Error().Err(err).Str("delivery_id", d.ID).Msg("worker: malformed payload")
		return &JobError{Message: apierr.UserMessage(err, p.opts.DefaultLocale), Err: err}
	}
	if payload.JobID == "" {
		payload.JobID = d.JobID
	}
	logger := p.logger.With().
		Str("job_id", payload.JobID).
		Str("user_id", payload.UserID).
		Str("delivery_id", d.ID).
		Logger()

	job, err := p.reconcile(ctx, payload)
	if err != nil {
		logger.Error().Err(err).Msg("worker: reconcile job record failed")
		return &JobError{Message: apierr.UserMessage(err, p.locale(payload.Locale)), Err: err}
	}
	if job.Status.Terminal() {
		logger.Info().Str("status", string(job.Status)).Msg("worker: job already finished, skipping")
		if job.Status == domain.JobStatusFailed {
			return &JobError{Message: job.ErrorMessage, Err: errors.New("job already failed")}
		}
		return nil
	}

	resultURL, image, err := p.produce(ctx, job)
	if err == nil {
		// The processing record stays intact so a failed write can still be
		// recorded as a failure.
		done := *job
		if err = done.Complete(resultURL, domain.ResolveSeed(image.Seed, job.Seed), image.Prompt, p.opts.Now()); err == nil {
			err = p.writeFinal(ctx, &done, logger)
		}
	}
	if err != nil {
		return p.fail(ctx, job, err, logger)
	}
	logger.Info().Str("result_url", resultURL).Msg("worker: job completed")
	return nil
}

// reconcile makes sure a record exists for the payload and returns it. Missing
// records are created from the payload; queued records move to processing.
func (p *Processor) reconcile(ctx context.Context, payload domain.JobPayload) (*domain.Job, error) {
	job, err := p.jobs.GetByID(ctx, payload.JobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		placeholder := domain.NewPlaceholderJob(payload, p.opts.Now())
		created, err := p.jobs.Create(ctx, placeholder)
		if err != nil {
			return nil, fmt.Errorf("create placeholder: %w", err)
		}
		if created {
			return placeholder, nil
		}
		// Lost a race with another writer; continue from its record.
		job, err = p.jobs.GetByID(ctx, payload.JobID)
		if err != nil {
			return nil, fmt.Errorf("reload job: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load job: %w", err)
	}

	if job.Status == "" {
		job.Status = domain.JobStatusQueued
	}
	if job.Status == domain.JobStatusQueued {
		if err := job.MarkProcessing(p.opts.Now()); err != nil {
			return nil, err
		}
		if err := p.jobs.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
	}
	return job, nil
}

func (p *Processor) produce(ctx context.Context, job *domain.Job) (string, domain.GeneratedImage, error) {
	var (
		image domain.GeneratedImage
		err   error
	)
	if job.Params.Remix() {
		image, err = p.generator.Remix(ctx, job.Prompt, job.Params)
	} else {
		image, err = p.generator.Generate(ctx, job.Prompt, job.Params)
	}
	if err != nil {
		return "", image, fmt.Errorf("generate: %w", err)
	}
	if strings.TrimSpace(image.URL) == "" {
		return "", image, errors.New("generate: empty image url")
	}
	resultURL, err := p.uploader.Upload(ctx, image.URL, job.UserID)
	if err != nil {
		return "", image, fmt.Errorf("upload: %w", err)
	}
	return resultURL, image, nil
}

func (p *Processor) writeFinal(ctx context.Context, job *domain.Job, logger zerolog.Logger) error {
	var err error
	for attempt := 1; attempt <= p.opts.FinalWriteAttempts; attempt++ {
		if err = p.jobs.Update(ctx, job); err == nil {
			return nil
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("worker: final write failed")
		if attempt == p.opts.FinalWriteAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("final write: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * p.opts.RetryDelay):
		}
	}
	return fmt.Errorf("final write: %w", err)
}

func (p *Processor) fail(ctx context.Context, job *domain.Job, cause error, logger zerolog.Logger) error {
	message := apierr.UserMessage(cause, p.locale(job.Locale))
	logger.Error().Err(cause).Str("user_message", message).Msg("worker: job failed")

	if err := job.Fail(message, p.opts.Now()); err != nil {
		logger.Warn().Err(err).Msg("worker: record failure skipped")
	} else if err := p.jobs.Update(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("worker: record failure failed")
	}
	return &JobError{Message: message, Err: cause}
}

func (p *Processor) locale(locale string) string {
	if strings.TrimSpace(locale) == "" {
		return p.opts.DefaultLocale
	}
	return locale
}
