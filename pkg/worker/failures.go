package worker

import (
	"sync"
	"time"
)

const (
	// DefaultFailureWindow is how far back infrastructure failures count
	// toward the degraded threshold.
	DefaultFailureWindow = 2 * time.Minute

	// DefaultFailureThreshold is the number of windowed failures at which
	// the worker reports itself degraded.
	DefaultFailureThreshold = 5
)

// FailureWindow tracks infrastructure failures over a sliding time window.
// Crossing the threshold flips the reported health to degraded; the state
// recovers on its own once enough failures age out of the window.
type FailureWindow struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	now       func() time.Time

	events    []time.Time
	lastError string
}

// NewFailureWindow creates a window with the given span and threshold.
// Non-positive arguments fall back to the defaults.
func NewFailureWindow(window time.Duration, threshold int) *FailureWindow {
	if window <= 0 {
		window = DefaultFailureWindow
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &FailureWindow{
		window:    window,
		threshold: threshold,
		now:       time.Now,
	}
}

// Record adds one failure to the window.
func (w *FailureWindow) Record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	w.events = append(w.events, now)
	if err != nil {
		w.lastError = err.Error()
	}
}

// Degraded reports whether the windowed failure count has reached the
// threshold.
func (w *FailureWindow) Degraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.events) >= w.threshold
}

// LastError returns the most recent recorded failure message. It is kept
// even after the window recovers, for heartbeat diagnostics.
func (w *FailureWindow) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

// prune drops events older than the window. Callers hold w.mu.
func (w *FailureWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	kept := w.events[:0]
	for _, ev := range w.events {
		if ev.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	w.events = kept
}
