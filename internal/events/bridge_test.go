package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/queue"
)

type published struct {
	topic   string
	event   string
	payload any
}

type recorder struct {
	mu   sync.Mutex
	sent []published
	ch   chan published
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan published, 16)}
}

func (r *recorder) Publish(topic, event string, payload any) {
	r.mu.Lock()
	r.sent = append(r.sent, published{topic: topic, event: event, payload: payload})
	r.mu.Unlock()
	r.ch <- published{topic: topic, event: event, payload: payload}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type stubJobs struct {
	domain.JobRepository
	mu   sync.Mutex
	jobs map[string]domain.Job
}

func newStubJobs(jobs map[string]domain.Job) *stubJobs {
	return &stubJobs{jobs: jobs}
}

func (s *stubJobs) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (s *stubJobs) set(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func newEngine(t *testing.T) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.NewRedisQueue(rdb, queue.Options{Logger: zerolog.Nop()})
}

// settle enqueues a delivery for jobID, claims it and acknowledges it.
func settle(t *testing.T, engine *queue.RedisQueue, jobID, failReason string) string {
	t.Helper()
	ctx := context.Background()
	id, err := engine.Enqueue(ctx, jobID, domain.JobPayload{JobID: jobID})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := engine.Claim(ctx); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if failReason != "" {
		err = engine.Fail(ctx, id, failReason)
	} else {
		err = engine.Complete(ctx, id)
	}
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	return id
}

func TestBridgeCompletedNotifiesOwner(t *testing.T) {
	engine := newEngine(t)
	jobs := newStubJobs(map[string]domain.Job{
		"J1": {ID: "J1", UserID: "U1", Status: domain.JobStatusCompleted, ResultURL: "https://cdn/x", Seed: 42},
	})
	rec := newRecorder()
	bridge := NewBridge(engine, jobs, rec, zerolog.Nop())
	id := settle(t, engine, "J1", "")

	if !bridge.Handle(context.Background(), queue.Event{Type: queue.EventCompleted, DeliveryID: id}) {
		t.Fatalf("expected a notification")
	}
	got := <-rec.ch
	if got.topic != "user:U1" || got.event != EventCompleted {
		t.Fatalf("routing mismatch: topic=%q event=%q", got.topic, got.event)
	}
	payload := got.payload.(CompletedPayload)
	if payload.ResultURL != "https://cdn/x" || payload.Progress != 100 || payload.Status != "COMPLETED" || payload.Error != nil {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.ID != "J1" || payload.GenerateID != "J1" {
		t.Fatalf("id mismatch: %+v", payload)
	}
}

func TestBridgeFailedPrefersStoredMessage(t *testing.T) {
	engine := newEngine(t)
	jobs := newStubJobs(map[string]domain.Job{
		"J1": {ID: "J1", UserID: "U1", Status: domain.JobStatusFailed, ErrorMessage: "stored message"},
		"J2": {ID: "J2", UserID: "U2", Status: domain.JobStatusProcessing},
	})
	rec := newRecorder()
	bridge := NewBridge(engine, jobs, rec, zerolog.Nop())

	id1 := settle(t, engine, "J1", "queue reason 1")
	bridge.Handle(context.Background(), queue.Event{Type: queue.EventFailed, DeliveryID: id1, FailedReason: "queue reason 1"})
	got := <-rec.ch
	if got.topic != "user:U1" || got.event != EventFailed {
		t.Fatalf("routing mismatch: topic=%q event=%q", got.topic, got.event)
	}
	if p := got.payload.(FailedPayload); p.Error != "stored message" || p.Status != "FAILED" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	id2 := settle(t, engine, "J2", "queue reason 2")
	bridge.Handle(context.Background(), queue.Event{Type: queue.EventFailed, DeliveryID: id2, FailedReason: "queue reason 2"})
	got = <-rec.ch
	if p := got.payload.(FailedPayload); p.Error != "queue reason 2" {
		t.Fatalf("fallback mismatch: got %q want %q", p.Error, "queue reason 2")
	}
}

func TestBridgeDropsUnresolvableEvents(t *testing.T) {
	engine := newEngine(t)
	rec := newRecorder()
	bridge := NewBridge(engine, newStubJobs(map[string]domain.Job{}), rec, zerolog.Nop())

	if bridge.Handle(context.Background(), queue.Event{Type: queue.EventCompleted, DeliveryID: "unknown"}) {
		t.Fatalf("unknown delivery must be dropped")
	}
	id := settle(t, engine, "orphan", "")
	if bridge.Handle(context.Background(), queue.Event{Type: queue.EventCompleted, DeliveryID: id}) {
		t.Fatalf("delivery without a job record must be dropped")
	}
	if bridge.Handle(context.Background(), queue.Event{Type: queue.EventStalled, DeliveryID: id}) {
		t.Fatalf("stalled events are not forwarded")
	}
	if rec.count() != 0 {
		t.Fatalf("nothing should be published, got %d", rec.count())
	}
}

func TestBridgeRunForwardsLifecycle(t *testing.T) {
	engine := newEngine(t)
	jobs := newStubJobs(map[string]domain.Job{
		"J1": {ID: "J1", UserID: "U1", Status: domain.JobStatusProcessing},
	})
	rec := newRecorder()
	bridge := NewBridge(engine, jobs, rec, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := engine.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()
	go bridge.Run(ctx, sub.Events())

	id, err := engine.Enqueue(ctx, "J1", domain.JobPayload{JobID: "J1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := engine.Claim(ctx); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	got := waitFor(t, rec, EventProgress)
	if p := got.payload.(ProgressPayload); p.Progress != 10 || p.Status != "PROCESSING" {
		t.Fatalf("unexpected progress payload: %+v", p)
	}

	jobs.set(domain.Job{ID: "J1", UserID: "U1", Status: domain.JobStatusCompleted, ResultURL: "https://cdn/x"})
	if err := engine.Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got = waitFor(t, rec, EventCompleted)
	if p := got.payload.(CompletedPayload); p.ResultURL != "https://cdn/x" || p.Status != "COMPLETED" {
		t.Fatalf("unexpected completed payload: %+v", p)
	}
}

func TestBridgeDropsPickUpOfFinishedJob(t *testing.T) {
	engine := newEngine(t)
	jobs := newStubJobs(map[string]domain.Job{
		"J1": {ID: "J1", UserID: "U1", Status: domain.JobStatusCompleted, ResultURL: "https://cdn/x"},
		"J2": {ID: "J2", UserID: "U1", Status: domain.JobStatusFailed, ErrorMessage: "stored message"},
	})
	rec := newRecorder()
	bridge := NewBridge(engine, jobs, rec, zerolog.Nop())

	for _, jobID := range []string{"J1", "J2"} {
		id := settle(t, engine, jobID, "")
		if bridge.Handle(context.Background(), queue.Event{Type: queue.EventActive, DeliveryID: id}) {
			t.Fatalf("%s: pick-up of a finished job must not be forwarded", jobID)
		}
	}
	if rec.count() != 0 {
		t.Fatalf("nothing should be published, got %d", rec.count())
	}
}

func waitFor(t *testing.T, rec *recorder, event string) published {
	t.Helper()
	select {
	case got := <-rec.ch:
		if got.event != event || got.topic != "user:U1" {
			t.Fatalf("event mismatch: got %s on %s want %s", got.event, got.topic, event)
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", event)
	}
	return published{}
}
