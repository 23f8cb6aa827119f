package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/middleware"
	"genstudio/internal/service"
)

// JobService is the boundary the handlers drive.
type JobService interface {
	EnqueueJob(ctx context.Context, in service.EnqueueInput) (string, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobsForUser(ctx context.Context, userID string) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID, requesterID string) error
	QueueStats(ctx context.Context) (service.QueueStats, error)
}

// ReferenceStore keeps remix reference images uploaded by clients.
type ReferenceStore interface {
	Save(ctx context.Context, ownerID string, r io.Reader, contentType string, limit int64) (string, error)
}

// App carries the dependencies shared by the HTTP handlers.
type App struct {
	Jobs       JobService
	References ReferenceStore
	Logger     zerolog.Logger
}

// NewApp wires the handler container. references may be nil, in which case
// remix requests must carry an image_input_url.
func NewApp(jobs JobService, references ReferenceStore, logger zerolog.Logger) *App {
	return &App{Jobs: jobs, References: references, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	middleware.WriteError(w, code, errCode, message)
}

// fail maps service errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "you do not have permission to access this job")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
