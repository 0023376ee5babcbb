// Package pipeline drives a claimed message through the ordered processing
// stages, persisting a checkpoint after each one.
//
// A message entering with a stage checkpoint only runs the stages strictly
// after it. Every failure path resolves to a durable state transition
// (retry release, terminal release, or completion) before the result is
// reported to the worker loop; a message is never left owned-but-unresolved
// on a handled failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carelane/voiceworker/pkg/core"
)

// Processors holds the stage processors in pipeline order.
type Processors struct {
	AudioStore core.StageProcessor
	Transcribe core.StageProcessor
	Analyze    core.StageProcessor
	CreateDoc  core.StageProcessor
	Notify     core.StageProcessor
}

// Result reports the outcome of one pipeline run to the worker loop.
type Result struct {
	MessageSid string

	// Completed is true only when the final stage ran and the completion
	// was persisted under a valid lease.
	Completed bool

	// FailedStage names the stage active when the run stopped early.
	FailedStage core.Stage

	// Hard marks an infrastructure failure; the worker loop feeds these
	// into the sliding degradation window.
	Hard bool

	Err error
}

// Runner executes the stage pipeline for one message at a time. It is safe
// for concurrent use across messages.
type Runner struct {
	store  core.Store
	procs  Processors
	logger *slog.Logger
}

// New creates a pipeline runner.
func New(store core.Store, procs Processors, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, procs: procs, logger: logger}
}

type step struct {
	stage core.Stage
	proc  core.StageProcessor
}

// Process runs every stage after the message's checkpoint, in order,
// short-circuiting on the first failure. Anything the processors panic with
// is caught here, classified, and resolved as a retry release tagged with
// the stage active at the time.
func (r *Runner) Process(ctx context.Context, msg *core.Message) (res Result) {
	res.MessageSid = msg.MessageSid
	stage := msg.ResumeStage()
	log := r.logger.With("message_sid", msg.MessageSid)
	log.Info("starting message processing", "stage", stage, "attempt", msg.AttemptCount)

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("unexpected processing error at stage %s: %v", stage, rec)
			log.Error("pipeline panic recovered", "stage", stage, "error", err)
			r.store.Release(ctx, msg.MessageSid, core.OutcomeRetry, err.Error(), stage)
			res = Result{
				MessageSid:  msg.MessageSid,
				FailedStage: stage,
				Hard:        core.IsHard(err),
				Err:         err,
			}
		}
	}()

	steps := []step{
		{core.StageAudioStored, r.procs.AudioStore},
		{core.StageTranscribed, r.procs.Transcribe},
		{core.StageAnalyzed, r.procs.Analyze},
		{core.StageDocCreated, r.procs.CreateDoc},
		{core.StageNotifQueued, r.procs.Notify},
	}

	for _, st := range steps {
		if !stage.Before(st.stage) {
			continue
		}

		fields, err := st.proc.Process(ctx, msg)
		if err != nil {
			// A failed audio upload is survivable while the provider URL
			// still works as a direct source for transcription.
			if st.stage == core.StageAudioStored && !core.IsTerminal(err) && msg.MediaURL != "" {
				log.Warn("audio store failed, falling back to provider download", "error", err)
				continue
			}

			outcome := core.OutcomeRetry
			if core.IsTerminal(err) {
				outcome = core.OutcomeFailed
			}
			log.Error("stage failed", "stage", st.stage, "outcome", outcome, "error", err)
			r.store.Release(ctx, msg.MessageSid, outcome, err.Error(), st.stage)
			return Result{
				MessageSid:  msg.MessageSid,
				FailedStage: st.stage,
				Hard:        core.IsHard(err),
				Err:         err,
			}
		}

		if !r.store.AdvanceStage(ctx, msg.MessageSid, st.stage, fields) {
			// Another worker holds the lease now; any further progress
			// here would conflict with its writes.
			log.Warn("lease lost, aborting pipeline", "stage", st.stage)
			return Result{
				MessageSid:  msg.MessageSid,
				FailedStage: st.stage,
				Err:         core.ErrNotOwned,
			}
		}
		stage = st.stage
		msg.CurrentStage = stage
		log.Info("stage complete", "stage", st.stage)
	}

	if !r.store.Complete(ctx, msg.MessageSid) {
		log.Warn("lease lost before completion")
		return Result{
			MessageSid:  msg.MessageSid,
			FailedStage: stage,
			Err:         core.ErrNotOwned,
		}
	}

	log.Info("message processing complete")
	return Result{MessageSid: msg.MessageSid, Completed: true}
}
