package core

import (
	"bytes"
	"encoding/json"
)

// Alert is a care concern flagged by transcript analysis.
type Alert struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Translations holds the transcript rendered into the supported languages.
// Empty fields mean the translation was not produced.
type Translations struct {
	DE string `json:"de,omitempty"`
	EN string `json:"en,omitempty"`
	TR string `json:"tr,omitempty"`
	AR string `json:"ar,omitempty"`
}

// Analysis is the structured result extracted from a transcript. It is
// persisted verbatim on the message as the ANALYZED checkpoint and reused on
// resume instead of re-running the extraction.
type Analysis struct {
	PatientID        string         `json:"patientId"`
	PatientName      string         `json:"patientName"`
	ServiceDate      string         `json:"serviceDate"`
	RawContent       string         `json:"rawContent"`
	KHCodes          []string       `json:"khCodes"`
	StructuredData   map[string]any `json:"structuredData"`
	Alerts           []Alert        `json:"alerts"`
	OriginalLanguage string         `json:"originalLanguage"`
	Translations     Translations   `json:"translations"`
}

// HasAnalysis reports whether the message carries a non-empty persisted
// analysis. An empty JSON object does not count.
func (m *Message) HasAnalysis() bool {
	trimmed := bytes.TrimSpace(m.AnalysisJSON)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("{}")) && !bytes.Equal(trimmed, []byte("null"))
}

// Analysis decodes the persisted analysis checkpoint. Returns nil with no
// error when the message has none.
func (m *Message) Analysis() (*Analysis, error) {
	if !m.HasAnalysis() {
		return nil, nil
	}
	var a Analysis
	if err := json.Unmarshal(m.AnalysisJSON, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CompletionPayload is the finalized document sent to the remote completion
// API once all pipeline stages have run. The remote call is idempotent on
// MessageSid.
type CompletionPayload struct {
	PendingDocID      string         `json:"pendingDocId,omitempty"`
	MessageSid        string         `json:"messageSid"`
	AgencyID          string         `json:"agencyId"`
	PatientID         string         `json:"patientId,omitempty"`
	PatientName       string         `json:"patientName,omitempty"`
	ServiceDate       string         `json:"serviceDate"`
	RawContent        string         `json:"rawContent"`
	PhoneNumber       string         `json:"phoneNumber,omitempty"`
	Translations      Translations   `json:"translations"`
	OriginalLanguage  string         `json:"originalLanguage"`
	KHCodes           []string       `json:"khCodes"`
	Alerts            []Alert        `json:"alerts,omitempty"`
	StructuredData    map[string]any `json:"structuredData"`
	SenderNumber      string         `json:"senderNumber"`
	SenderProfileName string         `json:"senderProfileName,omitempty"`
	WorkerID          string         `json:"workerId,omitempty"`
}
