package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carelane/voiceworker/pkg/core"
	"github.com/carelane/voiceworker/pkg/pipeline"
)

const (
	// DefaultBatchSize bounds concurrent messages per poll iteration.
	DefaultBatchSize = 5

	// DefaultPollInterval is how long the loop sleeps when the queue is
	// empty or the worker is inactive.
	DefaultPollInterval = 5 * time.Second
)

// MessageProcessor runs the full stage pipeline for one claimed message.
type MessageProcessor interface {
	Process(ctx context.Context, msg *core.Message) pipeline.Result
}

// Config configures a worker loop.
type Config struct {
	Store     core.Store
	Processor MessageProcessor

	// Window receives infrastructure failures for degraded-health
	// detection. Optional.
	Window *FailureWindow

	BatchSize    int
	PollInterval time.Duration

	// Active gates claiming. An inactive loop keeps polling the flagless
	// idle path so heartbeats and shutdown behave identically, but never
	// touches the queue.
	Active bool

	Logger *slog.Logger
}

// Loop claims batches of due messages and processes each batch member on
// its own goroutine. One Loop runs per worker process.
type Loop struct {
	cfg Config

	stopped   atomic.Bool
	processed atomic.Int64
	done      chan struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewLoop creates a worker loop. Zero batch size and poll interval take the
// defaults.
func NewLoop(cfg Config) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		done:     make(chan struct{}),
		inFlight: make(map[string]struct{}),
	}
}

// Run polls until Stop is called or the context ends. Each claimed batch is
// processed to completion before the next poll; batch members run
// concurrently.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	l.cfg.Logger.Info("worker loop started",
		"batch_size", l.cfg.BatchSize,
		"poll_interval", l.cfg.PollInterval,
		"active", l.cfg.Active)

	for !l.stopped.Load() && ctx.Err() == nil {
		if !l.cfg.Active {
			l.idle(ctx)
			continue
		}

		msgs := l.cfg.Store.ClaimBatch(ctx, l.cfg.BatchSize)
		if len(msgs) == 0 {
			l.idle(ctx)
			continue
		}

		l.cfg.Logger.Debug("claimed batch", "count", len(msgs))
		var wg sync.WaitGroup
		for _, msg := range msgs {
			l.track(msg.MessageSid)
			wg.Add(1)
			go func(m *core.Message) {
				defer wg.Done()
				defer l.untrack(m.MessageSid)
				res := l.cfg.Processor.Process(ctx, m)
				if res.Completed {
					l.processed.Add(1)
				}
				if res.Hard && l.cfg.Window != nil {
					l.cfg.Window.Record(res.Err)
				}
			}(msg)
		}
		wg.Wait()
	}

	l.cfg.Logger.Info("worker loop stopped")
}

// Stop ends the loop after the current iteration. Safe to call more than
// once and from any goroutine.
func (l *Loop) Stop() {
	l.stopped.Store(true)
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// InFlight returns the number of messages currently being processed.
func (l *Loop) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}

// InFlightSids returns the sids of messages currently being processed.
func (l *Loop) InFlightSids() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	sids := make([]string, 0, len(l.inFlight))
	for sid := range l.inFlight {
		sids = append(sids, sid)
	}
	return sids
}

// Processed returns the number of messages completed since startup.
func (l *Loop) Processed() int64 {
	return l.processed.Load()
}

func (l *Loop) track(sid string) {
	l.mu.Lock()
	l.inFlight[sid] = struct{}{}
	l.mu.Unlock()
}

func (l *Loop) untrack(sid string) {
	l.mu.Lock()
	delete(l.inFlight, sid)
	l.mu.Unlock()
}

func (l *Loop) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(l.cfg.PollInterval):
	}
}
