package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/queue"
)

type memoryJobs struct {
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newMemoryJobs() *memoryJobs {
	return &memoryJobs{jobs: map[string]domain.Job{}}
}

func (m *memoryJobs) Create(ctx context.Context, job *domain.Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return false, nil
	}
	m.jobs[job.ID] = *job
	return true, nil
}

func (m *memoryJobs) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (m *memoryJobs) Update(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memoryJobs) ListByUser(ctx context.Context, userID string) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if job.UserID == userID {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryJobs) DeleteIfOwner(ctx context.Context, jobID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.UserID != userID {
		return domain.ErrForbidden
	}
	delete(m.jobs, jobID)
	return nil
}

type fakeQueue struct {
	enqueued []domain.JobPayload
	err      error
	counts   queue.Counts
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID string, payload any) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, payload.(domain.JobPayload))
	return "D" + jobID, nil
}

func (q *fakeQueue) Counts(ctx context.Context) (queue.Counts, error) {
	return q.counts, q.err
}

type fakeStarter struct {
	starts int
	err    error
}

func (s *fakeStarter) Start(ctx context.Context) error {
	s.starts++
	return s.err
}

func newTestService(jobs *memoryJobs, q *fakeQueue, starter *fakeStarter) *JobService {
	ids := 0
	var workers WorkerStarter
	if starter != nil {
		workers = starter
	}
	return NewJobService(jobs, q, workers, Options{
		Logger:      zerolog.Nop(),
		WorkerState: func() string { return "running" },
		NewID: func() string {
			ids++
			return "J" + string(rune('0'+ids))
		},
	})
}

func TestEnqueueJobCreatesQueuedRecordAndStartsWorker(t *testing.T) {
	jobs, q, starter := newMemoryJobs(), &fakeQueue{}, &fakeStarter{}
	svc := newTestService(jobs, q, starter)

	id, err := svc.EnqueueJob(context.Background(), EnqueueInput{UserID: "U1", Prompt: " a cat ", Params: domain.GenerationParams{Model: "v2"}})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := jobs.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if job.Status != domain.JobStatusQueued || job.Prompt != "a cat" || job.UserID != "U1" {
		t.Fatalf("unexpected record: %+v", job)
	}
	if job.AspectRatio != domain.AspectRatio1x1 || job.Model != domain.ModelV2 {
		t.Fatalf("enum mapping mismatch: aspect %q model %q", job.AspectRatio, job.Model)
	}
	if job.Seed <= 0 || job.Seed >= domain.MaxSeed {
		t.Fatalf("seed out of range: %d", job.Seed)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].JobID != id || q.enqueued[0].Seed != job.Seed {
		t.Fatalf("unexpected payloads: %+v", q.enqueued)
	}
	if starter.starts != 1 {
		t.Fatalf("starts mismatch: got %d want 1", starter.starts)
	}
}

func TestEnqueueJobKeepsCallerSeedAndAspect(t *testing.T) {
	jobs, q := newMemoryJobs(), &fakeQueue{}
	svc := newTestService(jobs, q, nil)
	seed := 42
	id, err := svc.EnqueueJob(context.Background(), EnqueueInput{UserID: "U1", Prompt: "a cat", Params: domain.GenerationParams{Seed: &seed, AspectRatio: "16:9"}})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, _ := jobs.GetByID(context.Background(), id)
	if job.Seed != 42 || job.AspectRatio != domain.AspectRatio16x9 {
		t.Fatalf("unexpected record: seed %d aspect %q", job.Seed, job.AspectRatio)
	}
}

func TestEnqueueJobValidation(t *testing.T) {
	tests := []struct {
		name string
		in   EnqueueInput
	}{
		{name: "missing user", in: EnqueueInput{Prompt: "a cat"}},
		{name: "blank prompt", in: EnqueueInput{UserID: "U1", Prompt: "   "}},
		{name: "remix without image", in: EnqueueInput{UserID: "U1", Prompt: "a cat", Params: domain.GenerationParams{IsRemix: true}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			jobs, q := newMemoryJobs(), &fakeQueue{}
			_, err := newTestService(jobs, q, nil).EnqueueJob(context.Background(), tc.in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			if len(jobs.jobs) != 0 || len(q.enqueued) != 0 {
				t.Fatalf("rejected request left state behind")
			}
		})
	}
}

func TestEnqueueJobQueueFailureRemovesRecord(t *testing.T) {
	jobs, q := newMemoryJobs(), &fakeQueue{err: errors.New("redis down")}
	svc := newTestService(jobs, q, nil)
	if _, err := svc.EnqueueJob(context.Background(), EnqueueInput{UserID: "U1", Prompt: "a cat"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := jobs.GetByID(context.Background(), "J1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want the unqueued record removed", err)
	}
}

func TestEnqueueJobZeroSeedIsGenerated(t *testing.T) {
	jobs, q := newMemoryJobs(), &fakeQueue{}
	zero := 0
	id, err := newTestService(jobs, q, nil).EnqueueJob(context.Background(), EnqueueInput{UserID: "U1", Prompt: "a cat", Params: domain.GenerationParams{Seed: &zero}})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, _ := jobs.GetByID(context.Background(), id)
	if job.Seed <= 0 || job.Seed > domain.MaxSeed {
		t.Fatalf("seed = %d, want a generated positive seed", job.Seed)
	}
}

func TestEnqueueJobWorkerStartFailureStillQueues(t *testing.T) {
	jobs, q, starter := newMemoryJobs(), &fakeQueue{}, &fakeStarter{err: errors.New("engine unavailable")}
	id, err := newTestService(jobs, q, starter).EnqueueJob(context.Background(), EnqueueInput{UserID: "U1", Prompt: "a cat"})
	if err != nil || id == "" {
		t.Fatalf("EnqueueJob = %q, %v", id, err)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("job was not queued")
	}
}

func TestListJobsForUserNewestFirst(t *testing.T) {
	jobs := newMemoryJobs()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"A", "B", "C"} {
		_, _ = jobs.Create(context.Background(), &domain.Job{ID: id, UserID: "U1", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_, _ = jobs.Create(context.Background(), &domain.Job{ID: "X", UserID: "U2", CreatedAt: base})

	got, err := newTestService(jobs, &fakeQueue{}, nil).ListJobsForUser(context.Background(), "U1")
	if err != nil {
		t.Fatalf("ListJobsForUser: %v", err)
	}
	if len(got) != 3 || got[0].ID != "C" || got[2].ID != "A" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if _, err := newTestService(jobs, &fakeQueue{}, nil).ListJobsForUser(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestDeleteJobOwnership(t *testing.T) {
	jobs := newMemoryJobs()
	_, _ = jobs.Create(context.Background(), &domain.Job{ID: "J1", UserID: "U1"})
	svc := newTestService(jobs, &fakeQueue{}, nil)

	if err := svc.DeleteJob(context.Background(), "J1", "U2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := jobs.GetByID(context.Background(), "J1"); err != nil {
		t.Fatalf("forbidden delete removed the record")
	}
	if err := svc.DeleteJob(context.Background(), "J1", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if err := svc.DeleteJob(context.Background(), "J1", "U1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if err := svc.DeleteJob(context.Background(), "J1", "U1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestQueueStats(t *testing.T) {
	svc := newTestService(newMemoryJobs(), &fakeQueue{counts: queue.Counts{Waiting: 2, Active: 1}}, nil)
	stats, err := svc.QueueStats(context.Background())
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Waiting != 2 || stats.Active != 1 || stats.Worker != "running" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
