package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPollInterval  = time.Second
	defaultStalledCheck  = 30 * time.Second
	settleTimeout        = 10 * time.Second
	failedReasonFallback = "job failed"
)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Concurrency          int
	PollInterval         time.Duration
	StalledCheckInterval time.Duration
	Logger               zerolog.Logger

	// OnDone runs after a delivery has been acknowledged, with the handler
	// error (nil on success).
	OnDone func(d *Delivery, err error)
	// OnIdle runs when a claim attempt finds nothing waiting.
	OnIdle func()
}

// Worker claims deliveries from an Engine and runs a Handler for each one.
type Worker struct {
	engine  Engine
	handler Handler
	opts    WorkerOptions
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker builds a worker. It does nothing until Start is called.
func NewWorker(engine Engine, handler Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StalledCheckInterval <= 0 {
		opts.StalledCheckInterval = defaultStalledCheck
	}
	return &Worker{
		engine:  engine,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// Start launches the claim loops and the stalled-lease sweeper. Calling Start
// on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go func(slot int) {
			defer w.wg.Done()
			w.claimLoop(loopCtx, slot)
		}(i)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sweepLoop(loopCtx)
	}()
	w.logger.Info().Int("concurrency", w.opts.Concurrency).Msg("worker: started")
}

// Running reports whether the worker loops are active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Close stops claiming new deliveries and waits for in-flight handlers to
// finish, or for ctx to expire. Concurrent and repeated calls all wait.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.running = false
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info().Msg("worker: closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: close: %w", ctx.Err())
	}
}

func (w *Worker) claimLoop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := w.engine.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Int("slot", slot).Msg("worker: claim failed")
			if !sleep(ctx, w.opts.PollInterval) {
				return
			}
			continue
		}
		if d == nil {
			if w.opts.OnIdle != nil {
				w.opts.OnIdle()
			}
			if !sleep(ctx, w.opts.PollInterval) {
				return
			}
			continue
		}
		w.process(ctx, d)
	}
}

func (w *Worker) process(ctx context.Context, d *Delivery) {
	// Handlers finish even when the worker is closing.
	runCtx := context.WithoutCancel(ctx)
	logger := w.logger.With().Str("delivery_id", d.ID).Str("job_id", d.JobID).Logger()
	logger.Info().Int("attempt", d.Attempts).Msg("worker: picked job")

	err := w.run(runCtx, d)

	settleCtx, cancel := context.WithTimeout(runCtx, settleTimeout)
	defer cancel()
	if err != nil {
		reason := err.Error()
		if reason == "" {
			reason = failedReasonFallback
		}
		logger.Warn().Err(err).Msg("worker: job failed")
		if ackErr := w.engine.Fail(settleCtx, d.ID, reason); ackErr != nil {
			logger.Error().Err(ackErr).Msg("worker: ack failure failed")
		}
	} else {
		logger.Info().Msg("worker: job completed")
		if ackErr := w.engine.Complete(settleCtx, d.ID); ackErr != nil {
			logger.Error().Err(ackErr).Msg("worker: ack completion failed")
		}
	}
	if w.opts.OnDone != nil {
		w.opts.OnDone(d, err)
	}
}

func (w *Worker) run(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, d)
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StalledCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := w.engine.RecoverStalled(ctx, now)
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error().Err(err).Msg("worker: stalled recovery failed")
				continue
			}
			if n > 0 {
				w.logger.Warn().Int("recovered", n).Msg("worker: requeued stalled jobs")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
