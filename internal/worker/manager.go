// Package worker owns the process-wide job worker: it starts the queue worker
// loop on demand, retires it when the queue drains, and runs the per-job
// pipeline.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/infra"
	"genstudio/internal/queue"
)

// State is the lifecycle state of the Manager.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	pingTimeout   = 5 * time.Second
	countsTimeout = 5 * time.Second
)

// Options configures a Manager.
type Options struct {
	Policy               string
	Concurrency          int
	PollInterval         time.Duration
	StalledCheckInterval time.Duration
	Logger               zerolog.Logger
}

// Manager holds at most one queue worker. With the on-demand policy the
// worker is started by Start and retired once the queue has nothing waiting
// or active.
type Manager struct {
	engine  queue.Engine
	handler queue.Handler
	opts    Options
	logger  zerolog.Logger

	mu     sync.Mutex
	state  State
	gen    uint64
	worker *queue.Worker

	retiring atomic.Bool
}

// NewManager builds a stopped manager that will run handler for every
// delivery claimed from engine.
func NewManager(engine queue.Engine, handler queue.Handler, opts Options) *Manager {
	if opts.Policy == "" {
		opts.Policy = infra.WorkerPolicyOnDemand
	}
	return &Manager{
		engine:  engine,
		handler: handler,
		opts:    opts,
		logger:  opts.Logger,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the worker unless one is already starting or running. It
// returns an error when the queue engine is unreachable; the manager is then
// left stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStarting || m.state == StateRunning {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStarting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info().Msg("worker: starting")
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := m.engine.Ping(pingCtx)
	cancel()
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.state = StateStopped
		}
		m.mu.Unlock()
		m.logger.Error().Err(err).Msg("worker: start failed")
		return fmt.Errorf("worker: start: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state != StateStarting {
		return nil
	}
	w := queue.NewWorker(m.engine, m.handler, queue.WorkerOptions{
		Concurrency:          m.opts.Concurrency,
		PollInterval:         m.opts.PollInterval,
		StalledCheckInterval: m.opts.StalledCheckInterval,
		Logger:               m.logger,
		OnDone:               func(*queue.Delivery, error) { m.afterCycle(gen) },
		OnIdle:               func() { m.afterCycle(gen) },
	})
	// The worker outlives the request that woke it.
	w.Start(context.WithoutCancel(ctx))
	m.worker = w
	m.state = StateRunning
	return nil
}

// Stop shuts the worker down regardless of queue depth and waits for
// in-flight jobs, or for ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	m.gen++
	gen := m.gen
	w := m.worker
	m.mu.Unlock()

	m.logger.Info().Msg("worker: stopping")
	var err error
	if w != nil {
		err = w.Close(ctx)
	}

	m.mu.Lock()
	if m.gen == gen {
		m.state = StateStopped
		m.worker = nil
	}
	m.mu.Unlock()
	m.logger.Info().Msg("worker: stopped")
	return err
}

func (m *Manager) afterCycle(gen uint64) {
	if m.opts.Policy == infra.WorkerPolicyAlways {
		return
	}
	// Runs off the worker goroutine: closing waits for that goroutine.
	go m.retireIfIdle(gen)
}

func (m *Manager) retireIfIdle(gen uint64) {
	if !m.retiring.CompareAndSwap(false, true) {
		return
	}
	defer m.retiring.Store(false)

	m.mu.Lock()
	current := m.gen == gen && m.state == StateRunning
	m.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), countsTimeout)
	counts, err := m.engine.Counts(ctx)
	cancel()
	if err != nil {
		m.logger.Warn().Err(err).Msg("worker: queue counts failed")
		return
	}
	if !counts.Idle() {
		m.logger.Debug().Int64("waiting", counts.Waiting).Int64("active", counts.Active).Msg("worker: jobs pending, keep running")
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	w := m.worker
	m.mu.Unlock()

	m.logger.Info().Msg("worker: queue drained, stopping")
	if err := w.Close(context.Background()); err != nil {
		m.logger.Warn().Err(err).Msg("worker: close failed")
	}

	m.mu.Lock()
	retired := m.gen == gen && m.state == StateStopping
	if retired {
		m.state = StateStopped
		m.worker = nil
	}
	m.mu.Unlock()
	if !retired {
		return
	}
	m.logger.Info().Msg("worker: stopped")

	// A job enqueued between the idle check and the close saw a running
	// worker and did not call Start; pick it up here.
	ctx, cancel = context.WithTimeout(context.Background(), countsTimeout)
	defer cancel()
	counts, err = m.engine.Counts(ctx)
	if err == nil && counts.Waiting > 0 {
		m.logger.Info().Int64("waiting", counts.Waiting).Msg("worker: jobs arrived while stopping, restarting")
		if err := m.Start(ctx); err != nil {
			m.logger.Error().Err(err).Msg("worker: restart failed")
		}
	}
}
