package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelane/voiceworker/pkg/core"
)

// ─────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────

type release struct {
	sid         string
	outcome     core.Outcome
	reason      string
	failedStage core.Stage
}

type advance struct {
	sid    string
	stage  core.Stage
	fields map[string]any
}

type fakeStore struct {
	releases   []release
	advances   []advance
	completed  []string
	advanceOK  bool
	completeOK bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{advanceOK: true, completeOK: true}
}

func (s *fakeStore) ClaimBatch(ctx context.Context, limit int) []*core.Message { return nil }

func (s *fakeStore) Release(ctx context.Context, sid string, outcome core.Outcome, reason string, failedStage core.Stage) bool {
	s.releases = append(s.releases, release{sid, outcome, reason, failedStage})
	return true
}

func (s *fakeStore) Complete(ctx context.Context, sid string) bool {
	if !s.completeOK {
		return false
	}
	s.completed = append(s.completed, sid)
	return true
}

func (s *fakeStore) AdvanceStage(ctx context.Context, sid string, stage core.Stage, fields map[string]any) bool {
	if !s.advanceOK {
		return false
	}
	s.advances = append(s.advances, advance{sid, stage, fields})
	return true
}

func (s *fakeStore) RequeueForShutdown(ctx context.Context, sids []string) error { return nil }
func (s *fakeStore) QueueDepth(ctx context.Context) (int64, error)               { return 0, nil }
func (s *fakeStore) UpsertHeartbeat(ctx context.Context, hb *core.Heartbeat) error {
	return nil
}
func (s *fakeStore) ReclaimExpired(ctx context.Context, grace time.Duration) (int64, error) {
	return 0, nil
}

type fakeProc struct {
	calls  int
	fields map[string]any
	err    error
	panics bool
}

func (p *fakeProc) Process(ctx context.Context, msg *core.Message) (map[string]any, error) {
	p.calls++
	if p.panics {
		panic("boom")
	}
	return p.fields, p.err
}

type procs struct {
	audioStore *fakeProc
	transcribe *fakeProc
	analyze    *fakeProc
	createDoc  *fakeProc
	notify     *fakeProc
}

func newProcs() *procs {
	return &procs{
		audioStore: &fakeProc{fields: map[string]any{"media_blob_id": "blob-1"}},
		transcribe: &fakeProc{fields: map[string]any{"transcript_text": "hallo"}},
		analyze:    &fakeProc{fields: map[string]any{"analysis_json": []byte(`{}`)}},
		createDoc:  &fakeProc{},
		notify:     &fakeProc{},
	}
}

func (p *procs) processors() Processors {
	return Processors{
		AudioStore: p.audioStore,
		Transcribe: p.transcribe,
		Analyze:    p.analyze,
		CreateDoc:  p.createDoc,
		Notify:     p.notify,
	}
}

func newRunner(store core.Store, p *procs) *Runner {
	return New(store, p.processors(), slog.Default())
}

func testMessage(stage core.Stage) *core.Message {
	return &core.Message{
		MessageSid:   "SM-test",
		JobStatus:    core.StatusProcessing,
		CurrentStage: stage,
		MediaURL:     "https://media.example.com/SM-test",
		AttemptCount: 1,
	}
}

// ─────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────

func TestProcessRunsAllStagesInOrder(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageReceived))

	assert.True(t, res.Completed)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, p.audioStore.calls)
	assert.Equal(t, 1, p.transcribe.calls)
	assert.Equal(t, 1, p.analyze.calls)
	assert.Equal(t, 1, p.createDoc.calls)
	assert.Equal(t, 1, p.notify.calls)

	require.Len(t, store.advances, 5)
	assert.Equal(t, core.StageAudioStored, store.advances[0].stage)
	assert.Equal(t, core.StageTranscribed, store.advances[1].stage)
	assert.Equal(t, core.StageAnalyzed, store.advances[2].stage)
	assert.Equal(t, core.StageDocCreated, store.advances[3].stage)
	assert.Equal(t, core.StageNotifQueued, store.advances[4].stage)
	assert.Equal(t, []string{"SM-test"}, store.completed)
	assert.Empty(t, store.releases)
}

func TestProcessResumesAfterCheckpoint(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageTranscribed))

	assert.True(t, res.Completed)
	assert.Zero(t, p.audioStore.calls)
	assert.Zero(t, p.transcribe.calls)
	assert.Equal(t, 1, p.analyze.calls)
	assert.Equal(t, 1, p.createDoc.calls)
	assert.Equal(t, 1, p.notify.calls)
	require.Len(t, store.advances, 3)
	assert.Equal(t, core.StageAnalyzed, store.advances[0].stage)
}

func TestProcessStageErrorReleasesForRetry(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.analyze.err = errors.New("model unavailable")
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageReceived))

	assert.False(t, res.Completed)
	assert.Equal(t, core.StageAnalyzed, res.FailedStage)
	assert.Error(t, res.Err)
	assert.Zero(t, p.createDoc.calls)
	assert.Zero(t, p.notify.calls)
	assert.Empty(t, store.completed)

	require.Len(t, store.releases, 1)
	assert.Equal(t, core.OutcomeRetry, store.releases[0].outcome)
	assert.Equal(t, core.StageAnalyzed, store.releases[0].failedStage)
	assert.Contains(t, store.releases[0].reason, "model unavailable")
}

func TestProcessTerminalErrorReleasesAsFailed(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.transcribe.err = core.Terminal(core.ErrNoAudioSource)
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageAudioStored))

	assert.False(t, res.Completed)
	require.Len(t, store.releases, 1)
	assert.Equal(t, core.OutcomeFailed, store.releases[0].outcome)
	assert.Equal(t, core.StageTranscribed, store.releases[0].failedStage)
}

func TestProcessHardErrorFlagged(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.transcribe.err = core.Hard(errors.New("transcription request: 503 service unavailable"))
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageAudioStored))

	assert.True(t, res.Hard)
	require.Len(t, store.releases, 1)
	assert.Equal(t, core.OutcomeRetry, store.releases[0].outcome)
}

func TestProcessAudioStoreFailureFallsBackToProviderURL(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.audioStore.err = errors.New("bucket unreachable")
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageReceived))

	assert.True(t, res.Completed)
	assert.Equal(t, 1, p.transcribe.calls)
	assert.Empty(t, store.releases)
	// No checkpoint for the skipped stage.
	require.Len(t, store.advances, 4)
	assert.Equal(t, core.StageTranscribed, store.advances[0].stage)
}

func TestProcessAudioStoreTerminalFailureDoesNotFallBack(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.audioStore.err = core.Terminal(core.ErrNoAudioSource)
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageReceived))

	assert.False(t, res.Completed)
	assert.Zero(t, p.transcribe.calls)
	require.Len(t, store.releases, 1)
	assert.Equal(t, core.OutcomeFailed, store.releases[0].outcome)
}

func TestProcessAudioStoreFailureWithoutURLFails(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.audioStore.err = errors.New("bucket unreachable")
	r := newRunner(store, p)

	msg := testMessage(core.StageReceived)
	msg.MediaURL = ""
	res := r.Process(context.Background(), msg)

	assert.False(t, res.Completed)
	require.Len(t, store.releases, 1)
	assert.Equal(t, core.OutcomeRetry, store.releases[0].outcome)
}

func TestProcessAbortsWhenLeaseLost(t *testing.T) {
	store := newFakeStore()
	store.advanceOK = false
	p := newProcs()
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageReceived))

	assert.False(t, res.Completed)
	assert.ErrorIs(t, res.Err, core.ErrNotOwned)
	assert.Equal(t, 1, p.audioStore.calls)
	assert.Zero(t, p.transcribe.calls)
	assert.Empty(t, store.releases)
	assert.Empty(t, store.completed)
}

func TestProcessCompleteRejectedReportsLostLease(t *testing.T) {
	store := newFakeStore()
	store.completeOK = false
	p := newProcs()
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageNotifQueued))

	assert.False(t, res.Completed)
	assert.ErrorIs(t, res.Err, core.ErrNotOwned)
}

func TestProcessRecoversFromPanic(t *testing.T) {
	store := newFakeStore()
	p := newProcs()
	p.analyze.panics = true
	r := newRunner(store, p)

	res := r.Process(context.Background(), testMessage(core.StageReceived))

	assert.False(t, res.Completed)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "boom")
	require.Len(t, store.releases, 1)
	assert.Equal(t, core.OutcomeRetry, store.releases[0].outcome)
	assert.Equal(t, core.StageTranscribed, store.releases[0].failedStage)
	assert.Empty(t, store.completed)
}
