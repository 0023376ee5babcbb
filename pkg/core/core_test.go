package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageOrdering(t *testing.T) {
	assert.True(t, StageReceived.Before(StageAudioStored))
	assert.True(t, StageAudioStored.Before(StageTranscribed))
	assert.True(t, StageNotifQueued.Before(StageCompleted))
	assert.False(t, StageCompleted.Before(StageReceived))
	assert.False(t, StageTranscribed.Before(StageTranscribed))
}

func TestStageIndexEmptySortsAsReceived(t *testing.T) {
	assert.Equal(t, 0, Stage("").Index())
	assert.Equal(t, 0, StageReceived.Index())
	assert.Equal(t, -1, Stage("BOGUS").Index())
}

func TestResumeStage(t *testing.T) {
	assert.Equal(t, StageReceived, (&Message{}).ResumeStage())
	assert.Equal(t, StageAnalyzed, (&Message{CurrentStage: StageAnalyzed}).ResumeStage())
}

func TestTerminalWrapping(t *testing.T) {
	base := errors.New("bad payload")
	err := Terminal(base)

	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, base)
	assert.True(t, IsTerminal(fmt.Errorf("stage: %w", err)))
	assert.False(t, IsTerminal(base))
}

func TestHardClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"tagged", Hard(errors.New("anything")), true},
		{"wrapped tagged", fmt.Errorf("stage: %w", Hard(errors.New("x"))), true},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limit text", errors.New("429 Too Many Requests"), true},
		{"server error text", errors.New("upstream returned 503"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"timeout text", errors.New("i/o timeout"), true},
		{"plain business error", errors.New("patient not found"), false},
		{"terminal", Terminal(errors.New("no audio")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsHard(tc.err))
		})
	}
}

func TestHasAnalysis(t *testing.T) {
	assert.False(t, (&Message{}).HasAnalysis())
	assert.False(t, (&Message{AnalysisJSON: []byte("  ")}).HasAnalysis())
	assert.False(t, (&Message{AnalysisJSON: []byte("{}")}).HasAnalysis())
	assert.False(t, (&Message{AnalysisJSON: []byte("null")}).HasAnalysis())
	assert.True(t, (&Message{AnalysisJSON: []byte(`{"patientName":"x"}`)}).HasAnalysis())
}

func TestAnalysisDecoding(t *testing.T) {
	msg := &Message{AnalysisJSON: []byte(`{"patientName":"Frau Schmidt","khCodes":["LK02"]}`)}
	a, err := msg.Analysis()
	assert.NoError(t, err)
	assert.Equal(t, "Frau Schmidt", a.PatientName)
	assert.Equal(t, []string{"LK02"}, a.KHCodes)

	none, err := (&Message{}).Analysis()
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = (&Message{AnalysisJSON: []byte(`{broken`)}).Analysis()
	assert.Error(t, err)
}
