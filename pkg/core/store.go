package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for the queue and heartbeat tables.
//
// Every mutation after the initial claim re-validates ownership with the
// same (message_sid, locked_by, job_status = PROCESSING) predicate. The
// boolean results report whether that predicate matched exactly one row;
// false means the lease was lost and the caller must stop advancing the
// message. Store errors never propagate from ClaimBatch or the boolean
// mutations; implementations log and report the safe value instead.
type Store interface {
	// ClaimBatch atomically claims up to limit eligible messages for this
	// worker: READY rows that are due, plus PROCESSING rows whose lease
	// expired. Overdue rows first, then rows with no due time, ties broken
	// by arrival. Returns nil on store error.
	ClaimBatch(ctx context.Context, limit int) []*Message

	// Release ends this worker's lease with the given outcome. A RETRY that
	// has exhausted the attempt budget escalates to FAILED; otherwise the
	// retry is scheduled with backoff. failedStage and reason are recorded
	// as diagnostics.
	Release(ctx context.Context, sid string, outcome Outcome, reason string, failedStage Stage) bool

	// Complete transitions an owned message to DONE/COMPLETED.
	Complete(ctx context.Context, sid string) bool

	// AdvanceStage persists a stage checkpoint together with any payload
	// columns produced by that stage, in a single statement.
	AdvanceStage(ctx context.Context, sid string, stage Stage, fields map[string]any) bool

	// RequeueForShutdown returns the given owned messages to READY with a
	// short delay so another worker can pick them up. Used only while
	// shutting down.
	RequeueForShutdown(ctx context.Context, sids []string) error

	// QueueDepth counts READY messages that are due now.
	QueueDepth(ctx context.Context) (int64, error)

	// UpsertHeartbeat inserts or refreshes the heartbeat row keyed by
	// worker identity.
	UpsertHeartbeat(ctx context.Context, hb *Heartbeat) error

	// ReclaimExpired returns PROCESSING rows whose lease expired more than
	// grace ago back to READY, recovering work orphaned by a crashed
	// worker. Returns the number of rows reclaimed.
	ReclaimExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// StageProcessor performs the work that produces one pipeline checkpoint.
//
// Implementations must be safe to call when their output field is already
// populated on the message: they return the existing payload immediately
// instead of redoing the work. On success the returned field map holds the
// payload columns to persist alongside the stage checkpoint; it may be nil
// for stages whose effect lives outside the message row.
type StageProcessor interface {
	Process(ctx context.Context, msg *Message) (map[string]any, error)
}
