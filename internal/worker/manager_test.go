package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/queue"
)

func newTestEngine(t *testing.T) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.NewRedisQueue(rdb, queue.Options{Prefix: "test", Name: "gen", Logger: zerolog.Nop()}), mr
}

func testOptions(policy string) Options {
	return Options{
		Policy:               policy,
		Concurrency:          1,
		PollInterval:         10 * time.Millisecond,
		StalledCheckInterval: time.Hour,
		Logger:               zerolog.Nop(),
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state mismatch: got %s want %s", m.State(), want)
}

func TestManagerStartIsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	m := NewManager(engine, func(context.Context, *queue.Delivery) error { return nil }, testOptions(infra.WorkerPolicyAlways))
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("state mismatch: got %s want %s", m.State(), StateRunning)
	}
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	if gen != 1 {
		t.Fatalf("second Start created another worker: generation %d", gen)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state mismatch: got %s want %s", m.State(), StateStopped)
	}
}

func TestManagerStopsWhenQueueDrains(t *testing.T) {
	engine, _ := newTestEngine(t)
	var handled atomic.Int32
	m := NewManager(engine, func(context.Context, *queue.Delivery) error {
		handled.Add(1)
		return nil
	}, testOptions(infra.WorkerPolicyOnDemand))
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		if _, err := engine.Enqueue(ctx, id, domain.JobPayload{JobID: id}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, m, StateStopped)

	if handled.Load() != 2 {
		t.Fatalf("handled mismatch: got %d want 2", handled.Load())
	}
	counts, err := engine.Counts(ctx)
	if err != nil || !counts.Idle() {
		t.Fatalf("queue not drained: %+v err=%v", counts, err)
	}
}

func TestManagerRestartsAfterIdleStop(t *testing.T) {
	engine, _ := newTestEngine(t)
	var handled atomic.Int32
	m := NewManager(engine, func(context.Context, *queue.Delivery) error {
		handled.Add(1)
		return nil
	}, testOptions(infra.WorkerPolicyOnDemand))
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, m, StateStopped)

	if _, err := engine.Enqueue(ctx, "J1", domain.JobPayload{JobID: "J1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, m, StateStopped)
	if handled.Load() != 1 {
		t.Fatalf("handled mismatch: got %d want 1", handled.Load())
	}
}

func TestManagerAlwaysPolicyKeepsRunning(t *testing.T) {
	engine, _ := newTestEngine(t)
	done := make(chan struct{}, 1)
	m := NewManager(engine, func(context.Context, *queue.Delivery) error {
		done <- struct{}{}
		return nil
	}, testOptions(infra.WorkerPolicyAlways))
	ctx := context.Background()
	if _, err := engine.Enqueue(ctx, "J1", domain.JobPayload{JobID: "J1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job not handled")
	}
	time.Sleep(100 * time.Millisecond)
	if m.State() != StateRunning {
		t.Fatalf("state mismatch: got %s want %s", m.State(), StateRunning)
	}
}

func TestManagerStartFailsWhenEngineDown(t *testing.T) {
	engine, mr := newTestEngine(t)
	mr.Close()
	m := NewManager(engine, func(context.Context, *queue.Delivery) error { return nil }, testOptions(infra.WorkerPolicyOnDemand))

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start error with engine down")
	}
	if m.State() != StateStopped {
		t.Fatalf("state mismatch: got %s want %s", m.State(), StateStopped)
	}
}

func TestManagerStopWaitsForInFlight(t *testing.T) {
	engine, _ := newTestEngine(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	m := NewManager(engine, func(context.Context, *queue.Delivery) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	}, testOptions(infra.WorkerPolicyOnDemand))
	ctx := context.Background()
	if _, err := engine.Enqueue(ctx, "J1", domain.JobPayload{JobID: "J1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("Stop returned before the in-flight job finished")
	}
	if m.State() != StateStopped {
		t.Fatalf("state mismatch: got %s want %s", m.State(), StateStopped)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	engine, _ := newTestEngine(t)
	jobs := newMemoryJobs()
	gen := &fakeGenerator{result: domain.GeneratedImage{URL: "https://gen/x", Seed: 42}}
	up := &fakeUploader{url: "https://cdn/x"}
	proc := newTestProcessor(jobs, gen, up)
	m := NewManager(engine, proc.Handle, testOptions(infra.WorkerPolicyOnDemand))
	ctx := context.Background()

	job := queuedJob("J1", "U1", "a cat", domain.GenerationParams{})
	if _, err := jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := engine.Enqueue(ctx, job.ID, job.Payload()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForState(t, m, StateStopped)

	got, err := jobs.GetByID(ctx, "J1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.ResultURL != "https://cdn/x" || got.Seed != 42 {
		t.Fatalf("unexpected record: %+v", got)
	}
}
