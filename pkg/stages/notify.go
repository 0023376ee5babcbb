package stages

import (
	"context"
	"log/slog"

	"github.com/carelane/voiceworker/pkg/core"
)

// DocCompleter delivers the finalized record to the main application.
type DocCompleter interface {
	CompletePendingDoc(ctx context.Context, payload *core.CompletionPayload) error
}

// Notify sends the completed documentation to the callback endpoint. The
// remote side is idempotent on the message sid, so a replay after a
// reclaim is harmless.
type Notify struct {
	completer DocCompleter
	workerID  string
	logger    *slog.Logger
}

// NewNotify creates the NOTIF_QUEUED stage processor.
func NewNotify(completer DocCompleter, workerID string, logger *slog.Logger) *Notify {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notify{completer: completer, workerID: workerID, logger: logger}
}

func (s *Notify) Process(ctx context.Context, msg *core.Message) (map[string]any, error) {
	analysis, err := msg.Analysis()
	if err != nil {
		return nil, core.Terminal(err)
	}
	if analysis == nil {
		return nil, core.Terminal(core.ErrNoAnalysis)
	}

	payload := &core.CompletionPayload{
		PendingDocID:      msg.PendingDocID,
		MessageSid:        msg.MessageSid,
		AgencyID:          msg.AgencyID,
		PatientID:         analysis.PatientID,
		PatientName:       analysis.PatientName,
		ServiceDate:       analysis.ServiceDate,
		RawContent:        analysis.RawContent,
		PhoneNumber:       msg.FromNumber,
		Translations:      analysis.Translations,
		OriginalLanguage:  analysis.OriginalLanguage,
		KHCodes:           analysis.KHCodes,
		Alerts:            analysis.Alerts,
		StructuredData:    analysis.StructuredData,
		SenderNumber:      msg.FromNumber,
		SenderProfileName: msg.ProfileName,
		WorkerID:          s.workerID,
	}

	if err := s.completer.CompletePendingDoc(ctx, payload); err != nil {
		return nil, err
	}

	s.logger.Info("completion delivered", "message_sid", msg.MessageSid, "pending_doc_id", msg.PendingDocID)
	return nil, nil
}
