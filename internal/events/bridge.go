// Package events turns queue lifecycle events into realtime notifications for
// the user who owns the job.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/queue"
)

// Realtime event names.
const (
	EventProgress  = "job:progress"
	EventCompleted = "job:completed"
	EventFailed    = "job:failed"
)

// pickedUpProgress is the coarse progress reported when a worker picks up a job.
const pickedUpProgress = 10

const lookupTimeout = 5 * time.Second

// Publisher delivers an event to every subscriber of topic.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// DeliveryLookup resolves a queue delivery id to its metadata.
type DeliveryLookup interface {
	Delivery(ctx context.Context, deliveryID string) (*queue.Delivery, error)
}

// ProgressPayload is sent when a job is picked up.
type ProgressPayload struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// CompletedPayload is sent when a job finishes successfully.
type CompletedPayload struct {
	ID         string  `json:"id"`
	GenerateID string  `json:"generateId"`
	Status     string  `json:"status"`
	Progress   int     `json:"progress"`
	ResultURL  string  `json:"resultUrl"`
	Error      *string `json:"error"`
}

// FailedPayload is sent when a job fails.
type FailedPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// UserTopic is the topic carrying a user's job notifications.
func UserTopic(userID string) string {
	return "user:" + userID
}

// Bridge resolves lifecycle events to job records and publishes user-scoped
// payloads. Events that cannot be resolved are dropped.
type Bridge struct {
	deliveries DeliveryLookup
	jobs       domain.JobRepository
	publisher  Publisher
	logger     zerolog.Logger
}

// NewBridge wires a bridge.
func NewBridge(deliveries DeliveryLookup, jobs domain.JobRepository, publisher Publisher, logger zerolog.Logger) *Bridge {
	return &Bridge{
		deliveries: deliveries,
		jobs:       jobs,
		publisher:  publisher,
		logger:     logger,
	}
}

// Run forwards events until ctx is done or events is closed.
func (b *Bridge) Run(ctx context.Context, events <-chan queue.Event) {
	b.logger.Info().Msg("bridge: listening for job events")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				b.logger.Info().Msg("bridge: event stream closed")
				return
			}
			b.Handle(ctx, evt)
		}
	}
}

// Handle resolves and publishes a single event. It reports whether a
// notification was sent.
func (b *Bridge) Handle(ctx context.Context, evt queue.Event) bool {
	switch evt.Type {
	case queue.EventActive, queue.EventCompleted, queue.EventFailed:
	default:
		return false
	}
	logger := b.logger.With().Str("delivery_id", evt.DeliveryID).Str("event", string(evt.Type)).Logger()

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	d, err := b.deliveries.Delivery(ctx, evt.DeliveryID)
	if err != nil {
		if errors.Is(err, queue.ErrDeliveryNotFound) {
			logger.Debug().Msg("bridge: delivery gone, dropping event")
		} else {
			logger.Warn().Err(err).Msg("bridge: delivery lookup failed, dropping event")
		}
		return false
	}
	jobID := d.JobID
	if jobID == "" {
		var payload domain.JobPayload
		if err := d.Decode(&payload); err == nil {
			jobID = payload.JobID
		}
	}
	if jobID == "" {
		logger.Debug().Msg("bridge: delivery has no job id, dropping event")
		return false
	}
	job, err := b.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug().Str("job_id", jobID).Msg("bridge: job record missing, dropping event")
		} else {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("bridge: job lookup failed, dropping event")
		}
		return false
	}

	if evt.Type == queue.EventActive && job.Status.Terminal() {
		// A redelivered job the owner has already seen finish.
		logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("bridge: job already finished, dropping pick-up")
		return false
	}

	topic := UserTopic(job.UserID)
	switch evt.Type {
	case queue.EventActive:
		b.publisher.Publish(topic, EventProgress, ProgressPayload{
			ID:       job.ID,
			Status:   domain.JobStatusProcessing.Upper(),
			Progress: pickedUpProgress,
		})
	case queue.EventCompleted:
		b.publisher.Publish(topic, EventCompleted, CompletedPayload{
			ID:         job.ID,
			GenerateID: job.ID,
			Status:     job.Status.Upper(),
			Progress:   100,
			ResultURL:  job.ResultURL,
		})
	case queue.EventFailed:
		message := job.ErrorMessage
		if message == "" {
			message = evt.FailedReason
		}
		if message == "" {
			message = d.FailedReason
		}
		b.publisher.Publish(topic, EventFailed, FailedPayload{
			ID:     job.ID,
			Status: domain.JobStatusFailed.Upper(),
			Error:  message,
		})
	}
	logger.Debug().Str("job_id", job.ID).Str("topic", topic).Msg("bridge: event published")
	return true
}
