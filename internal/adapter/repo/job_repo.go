package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on top of the marker-tagged
// SQL runner.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a job record. Inserting an id that already exists is a no-op
// and reports false.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) (bool, error) {
	if job == nil || strings.TrimSpace(job.ID) == "" || strings.TrimSpace(job.UserID) == "" {
		return false, fmt.Errorf("create job: id and user id required: %w", domain.ErrValidation)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return false, fmt.Errorf("create job: encode params: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.UserID,
		job.Prompt,
		params,
		string(job.Status),
		int64(job.Seed),
		string(job.Model),
		string(job.StyleType),
		string(job.AspectRatio),
		job.ResultURL,
		job.PromptEnhanced,
		job.ErrorMessage,
		job.Locale,
		job.Published,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return false, persistenceError("create job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJobByID, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, persistenceError("get job", err)
	}
	return job, nil
}

// Update writes the mutable fields of job. The owner column is left alone.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("update job: id required: %w", domain.ErrValidation)
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("update job: encode params: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJob,
		job.ID,
		job.Prompt,
		params,
		string(job.Status),
		int64(job.Seed),
		string(job.Model),
		string(job.StyleType),
		string(job.AspectRatio),
		job.ResultURL,
		job.PromptEnhanced,
		job.ErrorMessage,
		job.Published,
		job.UpdatedAt,
	)
	if err != nil {
		return persistenceError("update job", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByUser returns the user's jobs, newest first.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectJobsByUser, userID)
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, persistenceError("scan job", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list jobs", err)
	}
	return jobs, nil
}

// DeleteIfOwner removes the job when userID owns it.
func (r *JobRepositoryPG) DeleteIfOwner(ctx context.Context, jobID, userID string) error {
	var owner *string
	var deleted bool
	if err := r.sql.QueryRow(ctx, sqlinline.QDeleteJobForOwner, jobID, userID).Scan(&owner, &deleted); err != nil {
		return persistenceError("delete job", err)
	}
	if owner == nil {
		return domain.ErrNotFound
	}
	if !deleted {
		return domain.ErrForbidden
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                      domain.Job
		params                   []byte
		status, model, style, ar string
		seed                     int64
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&params,
		&status,
		&seed,
		&model,
		&style,
		&ar,
		&job.ResultURL,
		&job.PromptEnhanced,
		&job.ErrorMessage,
		&job.Locale,
		&job.Published,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	job.Status = domain.JobStatus(status)
	job.Seed = int(seed)
	job.Model = domain.Model(model)
	job.StyleType = domain.StyleType(style)
	job.AspectRatio = domain.AspectRatio(ar)
	return &job, nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
