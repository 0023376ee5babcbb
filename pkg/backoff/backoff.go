// Package backoff implements the retry delay policy for reclaimed messages.
//
// Delays grow exponentially with the attempt count and carry random jitter
// so concurrent workers do not reclaim a wave of retries at the same
// instant. All functions are pure apart from the jitter source.
package backoff

import (
	"math/rand"
	"time"
)

const (
	// Base is the delay before the first retry; each further attempt
	// doubles it.
	Base = 60 * time.Second

	// MaxJitter bounds the random spread added to every delay.
	MaxJitter = 30 * time.Second

	// DefaultMaxAttempts is the claim budget after which a retry
	// escalates to a terminal failure.
	DefaultMaxAttempts = 5

	// maxShift caps the exponent so the doubling cannot overflow.
	maxShift = 20
)

// Delay returns the backoff before a message claimed attempt times becomes
// eligible again: Base * 2^attempt plus jitter in [0, MaxJitter).
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	jitter := time.Duration(rand.Int63n(int64(MaxJitter)))
	return Base*(1<<attempt) + jitter
}

// NextRunAt returns the earliest time a message released after attempt
// claims may be claimed again.
func NextRunAt(now time.Time, attempt int) time.Time {
	return now.Add(Delay(attempt))
}

// Exhausted reports whether attempt claims have used up the budget.
// A non-positive maxAttempts falls back to DefaultMaxAttempts.
func Exhausted(attempt, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return attempt >= maxAttempts
}
