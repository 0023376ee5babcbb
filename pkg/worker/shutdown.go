package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carelane/voiceworker/pkg/core"
)

// State is the coarse lifecycle state of the worker process.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// DefaultDrainTimeout is how long shutdown waits for the loop's current
// batch before requeueing whatever is still in flight.
const DefaultDrainTimeout = 5 * time.Second

// CoordinatorConfig wires the pieces the shutdown sequence touches.
type CoordinatorConfig struct {
	Loop  *Loop
	Store core.Store

	// Cancel ends the loop's context once the drain window has passed,
	// aborting whatever work is still in flight.
	Cancel context.CancelFunc

	// StopHeartbeat and StopScheduler halt the background reporters.
	// Either may be nil.
	StopHeartbeat func()
	StopScheduler func()

	// CloseDB releases the connection pool last.
	CloseDB func() error

	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Coordinator runs the ordered shutdown sequence exactly once: stop
// claiming, drain briefly, requeue what remains in flight, stop the
// reporters, close the pool.
type Coordinator struct {
	cfg   CoordinatorConfig
	state atomic.Int32
}

// NewCoordinator creates a coordinator in the RUNNING state.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{cfg: cfg}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Shutdown executes the shutdown sequence. Repeat calls, including
// concurrent ones from a second signal, are no-ops.
func (c *Coordinator) Shutdown(ctx context.Context) {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return
	}
	log := c.cfg.Logger
	log.Info("shutdown requested")

	c.cfg.Loop.Stop()

	// The loop's idle sleep is bounded by its poll interval, so the stop
	// flag alone ends a quiet loop. Cancelling here would abort in-flight
	// stage calls and waste the drain window, so the context stays live
	// until the drain wait resolves.
	select {
	case <-c.cfg.Loop.Done():
	case <-time.After(c.cfg.DrainTimeout):
		log.Warn("drain timeout reached", "in_flight", c.cfg.Loop.InFlight())
	}

	if c.cfg.Cancel != nil {
		c.cfg.Cancel()
	}

	if sids := c.cfg.Loop.InFlightSids(); len(sids) > 0 {
		log.Info("requeueing in-flight messages", "count", len(sids))
		if err := c.cfg.Store.RequeueForShutdown(ctx, sids); err != nil {
			log.Error("failed to requeue in-flight messages", "error", err)
		}
	}

	if c.cfg.StopScheduler != nil {
		c.cfg.StopScheduler()
	}
	if c.cfg.StopHeartbeat != nil {
		c.cfg.StopHeartbeat()
	}
	if c.cfg.CloseDB != nil {
		if err := c.cfg.CloseDB(); err != nil {
			log.Error("failed to close database pool", "error", err)
		}
	}

	c.state.Store(int32(StateStopped))
	log.Info("shutdown complete", "processed_total", c.cfg.Loop.Processed())
}
