package domain

import "context"

// JobRepository defines persistence for job records.
type JobRepository interface {
	// Create inserts the record unless one with the same id already exists.
	// It reports whether a row was written.
	Create(ctx context.Context, job *Job) (bool, error)
	GetByID(ctx context.Context, jobID string) (*Job, error)
	// Update writes every mutable field. The owner is never changed.
	Update(ctx context.Context, job *Job) error
	ListByUser(ctx context.Context, userID string) ([]Job, error)
	// DeleteIfOwner removes the record when userID owns it. It returns
	// ErrNotFound for unknown ids and ErrForbidden for other owners.
	DeleteIfOwner(ctx context.Context, jobID, userID string) error
}
