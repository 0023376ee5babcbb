// Package health periodically publishes a worker heartbeat row with queue
// and processing statistics. Liveness is judged by readers of the table;
// the reporter only writes.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carelane/voiceworker/pkg/core"
)

// DefaultInterval is the heartbeat publishing period.
const DefaultInterval = 30 * time.Second

// Stats supplies the loop-side counters included in each heartbeat.
type Stats interface {
	InFlight() int
	Processed() int64
}

// FailureSource reports the degraded-health decision and its diagnostic.
type FailureSource interface {
	Degraded() bool
	LastError() string
}

// Config configures a heartbeat reporter.
type Config struct {
	Store    core.Store
	WorkerID string
	Hostname string
	Version  string
	Kind     string
	Interval time.Duration

	Stats    Stats
	Failures FailureSource

	Logger *slog.Logger
}

// Reporter writes a heartbeat immediately on start and then on a fixed
// interval until stopped.
type Reporter struct {
	cfg       Config
	startedAt time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a reporter. Zero interval takes the default.
func New(cfg Config) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Kind == "" {
		cfg.Kind = "external"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		cfg:       cfg,
		startedAt: time.Now().UTC(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the reporting goroutine. The first beat is written before
// the first tick so a fresh worker is visible right away.
func (r *Reporter) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		r.ReportOnce(ctx)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				r.ReportOnce(ctx)
			}
		}
	}()
}

// Stop ends the reporting goroutine and waits for it to exit.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// ReportOnce writes a single heartbeat row. Write failures are logged and
// swallowed; a missed beat must never take the worker down.
func (r *Reporter) ReportOnce(ctx context.Context) {
	hb := &core.Heartbeat{
		WorkerID:      r.cfg.WorkerID,
		Kind:          r.cfg.Kind,
		LastSeenAt:    time.Now().UTC(),
		StartedAt:     r.startedAt,
		CurrentStatus: core.HealthHealthy,
		Version:       r.cfg.Version,
		Hostname:      r.cfg.Hostname,
	}

	if r.cfg.Stats != nil {
		hb.JobsInFlight = r.cfg.Stats.InFlight()
		hb.JobsProcessedTotal = r.cfg.Stats.Processed()
	}
	if r.cfg.Failures != nil && r.cfg.Failures.Degraded() {
		hb.CurrentStatus = core.HealthDegraded
		hb.LastError = r.cfg.Failures.LastError()
	}
	if depth, err := r.cfg.Store.QueueDepth(ctx); err == nil {
		hb.QueueReadyNow = depth
	} else {
		r.cfg.Logger.Warn("queue depth unavailable", "error", err)
	}

	if err := r.cfg.Store.UpsertHeartbeat(ctx, hb); err != nil {
		r.cfg.Logger.Error("heartbeat write failed", "error", err)
	}
}
