package stages

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/carelane/voiceworker/pkg/core"
)

// DocCreator inserts the pending care documentation record. The second
// return reports whether a new record was created; false means an existing
// record for this message was reused.
type DocCreator interface {
	CreatePendingDoc(ctx context.Context, doc *core.PendingDoc) (id string, created bool, err error)
}

// CreateDoc materializes the analysis into a pending care documentation
// record. The unique (agency, message) constraint makes replays reuse the
// existing record.
type CreateDoc struct {
	docs   DocCreator
	logger *slog.Logger
}

// NewCreateDoc creates the DOC_CREATED stage processor.
func NewCreateDoc(docs DocCreator, logger *slog.Logger) *CreateDoc {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateDoc{docs: docs, logger: logger}
}

func (s *CreateDoc) Process(ctx context.Context, msg *core.Message) (map[string]any, error) {
	if msg.PendingDocID != "" {
		s.logger.Debug("pending doc already created", "message_sid", msg.MessageSid, "pending_doc_id", msg.PendingDocID)
		return map[string]any{"pending_doc_id": msg.PendingDocID}, nil
	}

	analysis, err := msg.Analysis()
	if err != nil {
		return nil, core.Terminal(err)
	}
	if analysis == nil {
		return nil, core.Terminal(core.ErrNoAnalysis)
	}

	doc := &core.PendingDoc{
		PhoneNumber:         msg.FromNumber,
		PatientID:           analysis.PatientID,
		PatientName:         analysis.PatientName,
		ServiceDate:         analysis.ServiceDate,
		RawContent:          analysis.RawContent,
		TranslatedContentDE: analysis.Translations.DE,
		TranslatedContentEN: analysis.Translations.EN,
		OriginalLanguage:    analysis.OriginalLanguage,
		KHCodes:             mustJSON(analysis.KHCodes),
		StructuredData:      mustJSON(analysis.StructuredData),
		Alerts:              mustJSON(analysis.Alerts),
		AgencyID:            msg.AgencyID,
		MessageSid:          msg.MessageSid,
	}

	id, created, err := s.docs.CreatePendingDoc(ctx, doc)
	if err != nil {
		return nil, err
	}
	if !created {
		s.logger.Info("reusing existing pending doc", "message_sid", msg.MessageSid, "pending_doc_id", id)
	}

	msg.PendingDocID = id
	return map[string]any{"pending_doc_id": id}, nil
}

// mustJSON encodes values that came out of a JSON decode and therefore
// cannot fail to re-encode.
func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
