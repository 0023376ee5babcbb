package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/carelane/voiceworker/pkg/core"
)

// Analyzer extracts the structured care record from a transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*core.Analysis, error)
}

// Analyze runs transcript analysis and persists the structured result as
// the ANALYZED checkpoint.
type Analyze struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewAnalyze creates the ANALYZED stage processor.
func NewAnalyze(analyzer Analyzer, logger *slog.Logger) *Analyze {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyze{analyzer: analyzer, logger: logger}
}

func (s *Analyze) Process(ctx context.Context, msg *core.Message) (map[string]any, error) {
	if msg.HasAnalysis() {
		s.logger.Debug("analysis already present", "message_sid", msg.MessageSid)
		return map[string]any{"analysis_json": msg.AnalysisJSON}, nil
	}
	if msg.TranscriptText == "" {
		return nil, core.Terminal(core.ErrNoTranscript)
	}

	analysis, err := s.analyzer.Analyze(ctx, msg.TranscriptText)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(analysis)
	if err != nil {
		return nil, core.Terminal(fmt.Errorf("encode analysis: %w", err))
	}

	msg.AnalysisJSON = data
	return map[string]any{"analysis_json": data}, nil
}
