package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors
var (
	ErrNotOwned      = errors.New("voiceworker: message not owned by this worker")
	ErrNoAudioSource = errors.New("voiceworker: no audio source available")
	ErrNoTranscript  = errors.New("voiceworker: no transcript text available")
	ErrNoAnalysis    = errors.New("voiceworker: no analysis data available")
)

// TerminalError marks a failure that retrying cannot fix, such as a missing
// payload prerequisite or a rejected request. The pipeline releases the
// message as FAILED instead of scheduling a retry.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal: %v", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Terminal wraps an error to indicate retrying cannot fix it.
func Terminal(err error) error {
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err was marked terminal.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}

// HardError marks an infrastructure failure: rate limiting, server errors,
// timeouts, connection resets. Hard failures are retried and counted toward
// the degraded-health window.
type HardError struct {
	Err error
}

func (e *HardError) Error() string {
	return fmt.Sprintf("hard failure: %v", e.Err)
}

func (e *HardError) Unwrap() error {
	return e.Err
}

// Hard wraps an error to classify it as an infrastructure failure.
func Hard(err error) error {
	return &HardError{Err: err}
}

// hardHints are message fragments that identify infrastructure failures when
// the error carries no explicit classification.
var hardHints = []string{
	"rate limit",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"unavailable",
	"unexpected eof",
}

// IsHard reports whether err is an infrastructure failure. Explicitly tagged
// errors and network timeouts are hard; anything else is judged by the same
// message heuristic applied to unexpected errors at the pipeline boundary.
func IsHard(err error) bool {
	if err == nil {
		return false
	}
	var h *HardError
	if errors.As(err, &h) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range hardHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
