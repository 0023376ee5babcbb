package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carelane/voiceworker/pkg/backoff"
	"github.com/carelane/voiceworker/pkg/core"
)

// ShutdownRequeueDelay is how long requeued in-flight messages stay
// ineligible after a shutdown, giving the surviving workers a quiet window.
const ShutdownRequeueDelay = 60 * time.Second

const shutdownRequeueReason = "shutdown_requeue"

// Config holds the store's per-worker settings.
type Config struct {
	// WorkerID identifies this worker in lease and heartbeat rows.
	WorkerID string

	// MaxAttempts is the claim budget before a retry escalates to FAILED.
	// Default: backoff.DefaultMaxAttempts
	MaxAttempts int

	// LeaseDuration bounds how long a claim holds a message before it is
	// considered expired and reclaimable. Default: 10 minutes.
	LeaseDuration time.Duration
}

// GormStore implements core.Store using GORM.
type GormStore struct {
	db     *gorm.DB
	cfg    Config
	logger *slog.Logger
}

// New creates a GORM-backed store for the given worker identity.
func New(db *gorm.DB, cfg Config) *GormStore {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = backoff.DefaultMaxAttempts
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 10 * time.Minute
	}
	return &GormStore{
		db:     db,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// DB returns the underlying GORM handle.
func (s *GormStore) DB() *gorm.DB { return s.db }

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Message{}, &core.Heartbeat{}, &core.PendingDoc{})
}

// Ping verifies database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) isPostgres() bool {
	return s.db != nil && s.db.Dialector != nil && s.db.Dialector.Name() == "postgres"
}

// ownershipScope applies the lease predicate every post-claim mutation uses.
func (s *GormStore) ownershipScope(tx *gorm.DB, sid string) *gorm.DB {
	return tx.Where("message_sid = ? AND locked_by = ? AND job_status = ?",
		sid, s.cfg.WorkerID, core.StatusProcessing)
}

// ClaimBatch atomically claims up to limit eligible messages.
//
// Eligible rows are READY rows that are due, plus PROCESSING rows whose
// lease expired (self-healing after a worker crash). The select and update
// run in one transaction with a locking read, so two concurrent claimers
// never receive overlapping sets. Claiming stamps ownership and a fresh
// lease, increments the attempt count, initializes the stage checkpoint and
// clears failure diagnostics. On store error the batch is empty and the
// error is logged.
func (s *GormStore) ClaimBatch(ctx context.Context, limit int) []*core.Message {
	if limit <= 0 {
		return nil
	}
	now := time.Now()
	lockUntil := now.Add(s.cfg.LeaseDuration)

	var claimed []*core.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&core.Message{}).
			Where("(job_status = ? OR (job_status = ? AND locked_until < ?))",
				core.StatusReady, core.StatusProcessing, now).
			Where("(next_run_at IS NULL OR next_run_at <= ?)", now).
			Where("attempt_count < ?", s.cfg.MaxAttempts).
			// Overdue rows first, rows with no due time last, arrival
			// order as the tie-break.
			Order("next_run_at IS NULL, next_run_at ASC, received_at ASC").
			Limit(limit)
		if s.isPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var sids []string
		if err := q.Pluck("message_sid", &sids).Error; err != nil {
			return err
		}
		if len(sids) == 0 {
			return nil
		}

		res := tx.Model(&core.Message{}).
			Where("message_sid IN ?", sids).
			Updates(map[string]any{
				"job_status":    core.StatusProcessing,
				"locked_by":     s.cfg.WorkerID,
				"locked_until":  lockUntil,
				"attempt_count": gorm.Expr("attempt_count + 1"),
				"current_stage": gorm.Expr(
					"CASE WHEN current_stage IS NULL OR current_stage = '' THEN ? ELSE current_stage END",
					core.StageReceived),
				"failed_stage":  "",
				"failed_reason": "",
			})
		if res.Error != nil {
			return res.Error
		}

		return tx.
			Where("message_sid IN ? AND locked_by = ?", sids, s.cfg.WorkerID).
			Order("received_at ASC").
			Find(&claimed).Error
	})
	if err != nil {
		s.logger.Error("failed to claim messages", "worker_id", s.cfg.WorkerID, "error", err)
		return nil
	}
	if len(claimed) > 0 {
		s.logger.Info("claimed messages", "worker_id", s.cfg.WorkerID, "count", len(claimed))
	}
	return claimed
}

// Release ends this worker's lease with the given outcome.
//
// The current attempt count is read under the ownership predicate; if the
// row is not found the lease was already lost and Release reports false
// without touching anything. A RETRY whose attempts are exhausted escalates
// to FAILED with no next run time; otherwise the retry is scheduled via the
// backoff policy.
func (s *GormStore) Release(ctx context.Context, sid string, outcome core.Outcome, reason string, failedStage core.Stage) bool {
	reason = sanitizeReason(reason)

	var matched bool
	var status core.JobStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg core.Message
		res := s.ownershipScope(tx, sid).First(&msg)
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil
		}
		if res.Error != nil {
			return res.Error
		}

		status = core.StatusReady
		if outcome == core.OutcomeFailed || backoff.Exhausted(msg.AttemptCount, s.cfg.MaxAttempts) {
			status = core.StatusFailed
		}

		updates := map[string]any{
			"job_status":    status,
			"locked_by":     "",
			"locked_until":  nil,
			"failed_stage":  string(failedStage),
			"failed_reason": reason,
			"next_run_at":   nil,
		}
		if status == core.StatusReady {
			updates["next_run_at"] = backoff.NextRunAt(time.Now(), msg.AttemptCount)
		}

		res = s.ownershipScope(tx.Model(&core.Message{}), sid).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		matched = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		s.logger.Error("failed to release message", "message_sid", sid, "error", err)
		return false
	}
	if !matched {
		s.logger.Warn("lease lost before release", "message_sid", sid)
		return false
	}
	if status == core.StatusFailed && outcome == core.OutcomeRetry {
		s.logger.Warn("message exceeded max attempts, marking as FAILED",
			"message_sid", sid, "max_attempts", s.cfg.MaxAttempts)
	}
	s.logger.Info("released message",
		"message_sid", sid, "status", status, "failed_stage", failedStage, "reason", reason)
	return true
}

// Complete transitions an owned message to DONE/COMPLETED and clears the
// lease. Reports false if ownership was lost.
func (s *GormStore) Complete(ctx context.Context, sid string) bool {
	now := time.Now()
	res := s.ownershipScope(s.db.WithContext(ctx).Model(&core.Message{}), sid).
		Updates(map[string]any{
			"job_status":    core.StatusDone,
			"current_stage": core.StageCompleted,
			"processed_at":  now,
			"locked_by":     "",
			"locked_until":  nil,
			"next_run_at":   nil,
		})
	if res.Error != nil {
		s.logger.Error("failed to complete message", "message_sid", sid, "error", res.Error)
		return false
	}
	if res.RowsAffected != 1 {
		s.logger.Warn("lease lost before completion", "message_sid", sid)
		return false
	}
	s.logger.Info("message completed", "message_sid", sid)
	return true
}

// AdvanceStage persists a stage checkpoint plus its payload columns in one
// ownership-scoped statement. Payload columns are written together with the
// stage so a crash can never observe a stage ahead of its payload.
func (s *GormStore) AdvanceStage(ctx context.Context, sid string, stage core.Stage, fields map[string]any) bool {
	updates := map[string]any{"current_stage": stage}
	for col, val := range fields {
		updates[col] = val
	}
	res := s.ownershipScope(s.db.WithContext(ctx).Model(&core.Message{}), sid).
		Updates(updates)
	if res.Error != nil {
		s.logger.Error("failed to advance stage",
			"message_sid", sid, "stage", stage, "error", res.Error)
		return false
	}
	if res.RowsAffected != 1 {
		s.logger.Warn("lease lost before stage advance", "message_sid", sid, "stage", stage)
		return false
	}
	return true
}

// RequeueForShutdown returns the given owned messages to READY with a short
// delay so any worker can claim them once it passes.
func (s *GormStore) RequeueForShutdown(ctx context.Context, sids []string) error {
	if len(sids) == 0 {
		return nil
	}
	nextRun := time.Now().Add(ShutdownRequeueDelay)
	res := s.db.WithContext(ctx).Model(&core.Message{}).
		Where("message_sid IN ? AND locked_by = ?", sids, s.cfg.WorkerID).
		Updates(map[string]any{
			"job_status":    core.StatusReady,
			"locked_by":     "",
			"locked_until":  nil,
			"next_run_at":   nextRun,
			"failed_reason": shutdownRequeueReason,
		})
	if res.Error != nil {
		return res.Error
	}
	s.logger.Info("requeued in-flight messages for shutdown",
		"worker_id", s.cfg.WorkerID, "count", res.RowsAffected)
	return nil
}

// QueueDepth counts READY messages that are due now.
func (s *GormStore) QueueDepth(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&core.Message{}).
		Where("job_status = ?", core.StatusReady).
		Where("(next_run_at IS NULL OR next_run_at <= ?)", time.Now()).
		Count(&count).Error
	return count, err
}

// UpsertHeartbeat inserts or refreshes the heartbeat row keyed by worker
// identity. A healthy beat keeps the previously recorded error for
// inspection; only a degraded beat overwrites it.
func (s *GormStore) UpsertHeartbeat(ctx context.Context, hb *core.Heartbeat) error {
	assignments := map[string]any{
		"last_seen_at":         hb.LastSeenAt,
		"jobs_in_flight":       hb.JobsInFlight,
		"jobs_processed_total": hb.JobsProcessedTotal,
		"queue_ready_now":      hb.QueueReadyNow,
		"current_status":       hb.CurrentStatus,
		"version":              hb.Version,
		"hostname":             hb.Hostname,
	}
	if hb.CurrentStatus == core.HealthDegraded {
		assignments["last_error"] = hb.LastError
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(hb).Error
}

// ReclaimExpired resolves PROCESSING rows whose lease expired more than
// grace ago. Rows with attempts remaining return to READY so they become
// claimable again; rows whose crashed holder consumed the final attempt go
// straight to FAILED, since no claimer would ever pick them up. This is the
// safety net for workers that crashed without reaching the shutdown path.
func (s *GormStore) ReclaimExpired(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().Add(-grace)

	failed := s.db.WithContext(ctx).Model(&core.Message{}).
		Where("job_status = ? AND locked_until < ? AND attempt_count >= ?",
			core.StatusProcessing, cutoff, s.cfg.MaxAttempts).
		Updates(map[string]any{
			"job_status":    core.StatusFailed,
			"locked_by":     "",
			"locked_until":  nil,
			"next_run_at":   nil,
			"failed_reason": "lease_expired",
		})
	if failed.Error != nil {
		return 0, failed.Error
	}
	if failed.RowsAffected > 0 {
		s.logger.Warn("expired leases with exhausted attempts marked FAILED",
			"count", failed.RowsAffected)
	}

	res := s.db.WithContext(ctx).Model(&core.Message{}).
		Where("job_status = ? AND locked_until < ?", core.StatusProcessing, cutoff).
		Updates(map[string]any{
			"job_status":    core.StatusReady,
			"locked_by":     "",
			"locked_until":  nil,
			"failed_reason": "lease_expired",
		})
	if res.Error != nil {
		return failed.RowsAffected, res.Error
	}
	return failed.RowsAffected + res.RowsAffected, nil
}
