package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/service"
)

type fakeBackend struct {
	jobs     map[string]*domain.Job
	enqueued []service.EnqueueInput
	closed   int
}

func newFakeBackend() *fakeBackend {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &fakeBackend{jobs: map[string]*domain.Job{
		"J1": {ID: "J1", UserID: "U1", Prompt: "a cat", Status: domain.JobStatusCompleted, ResultURL: "https://cdn/x", Seed: 42, CreatedAt: created},
		"J2": {ID: "J2", UserID: "U1", Prompt: "a dog", Status: domain.JobStatusFailed, ErrorMessage: "generator busy", CreatedAt: created},
	}}
}

func (f *fakeBackend) EnqueueJob(ctx context.Context, in service.EnqueueInput) (string, error) {
	f.enqueued = append(f.enqueued, in)
	return "J9", nil
}

func (f *fakeBackend) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (f *fakeBackend) ListJobsForUser(ctx context.Context, userID string) ([]domain.Job, error) {
	var out []domain.Job
	for _, id := range []string{"J1", "J2"} {
		if job, ok := f.jobs[id]; ok && job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeBackend) DeleteJob(ctx context.Context, jobID, requesterID string) error {
	job, ok := f.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.UserID != requesterID {
		return domain.ErrForbidden
	}
	delete(f.jobs, jobID)
	return nil
}

func (f *fakeBackend) QueueStats(ctx context.Context) (service.QueueStats, error) {
	return service.QueueStats{Waiting: 4, Active: 1}, nil
}

func runCLI(t *testing.T, b *fakeBackend, args ...string) (string, error) {
	t.Helper()
	open := func(ctx context.Context) (backend, func(), error) {
		return b, func() { b.closed++ }, nil
	}
	cmd := newRootCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestJobsList(t *testing.T) {
	b := newFakeBackend()
	out, err := runCLI(t, b, "jobs", "list", "U1")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "J1")
	requireContains(t, out, "https://cdn/x")
	requireContains(t, out, "generator busy")
	if b.closed != 1 {
		t.Fatalf("backend not closed")
	}

	out, err = runCLI(t, b, "jobs", "list", "U9")
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "No jobs")
}

func TestJobsGet(t *testing.T) {
	out, err := runCLI(t, newFakeBackend(), "jobs", "get", "J1", "--json")
	if err != nil {
		t.Fatalf("jobs get: %v", err)
	}
	requireContains(t, out, `"ResultURL": "https://cdn/x"`)

	_, err = runCLI(t, newFakeBackend(), "jobs", "get", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJobsDeleteChecksOwner(t *testing.T) {
	b := newFakeBackend()
	if _, err := runCLI(t, b, "jobs", "delete", "J1", "--user", "U2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	out, err := runCLI(t, b, "jobs", "delete", "J1", "--user", "U1")
	if err != nil {
		t.Fatalf("jobs delete: %v", err)
	}
	requireContains(t, out, "Deleted job J1")
	if _, ok := b.jobs["J1"]; ok {
		t.Fatalf("job still present")
	}
}

func TestJobsSubmit(t *testing.T) {
	b := newFakeBackend()
	out, err := runCLI(t, b, "jobs", "submit", "--user", "U1", "--prompt", "a cat", "--aspect", "16:9", "--seed", "7", "--remix-from", "https://img/ref.png")
	if err != nil {
		t.Fatalf("jobs submit: %v", err)
	}
	requireContains(t, out, "Queued job J9")
	in := b.enqueued[0]
	if in.UserID != "U1" || in.Params.AspectRatio != "16:9" || in.Params.Seed == nil || *in.Params.Seed != 7 || !in.Params.IsRemix {
		t.Fatalf("unexpected input: %+v", in)
	}
}

func TestQueueStats(t *testing.T) {
	out, err := runCLI(t, newFakeBackend(), "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	requireContains(t, out, "Waiting")
	requireContains(t, out, "4")
}
