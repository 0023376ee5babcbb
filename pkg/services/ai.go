package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/carelane/voiceworker/pkg/core"
)

// analysisSystemPrompt instructs the model to extract a structured care
// documentation record from a caregiver's voice note. The transcript may be
// in German, Turkish, Arabic or English; the canonical record is German.
const analysisSystemPrompt = `You are an assistant for a German outpatient care service (ambulanter Pflegedienst).
You receive the transcript of a voice message left by a caregiver after a patient visit.
Extract a structured care documentation record and respond with a single JSON object:
{
  "patientId": "", "patientName": "", "serviceDate": "YYYY-MM-DD",
  "rawContent": "", "khCodes": [], "structuredData": {},
  "alerts": [{"type": "", "severity": "", "description": ""}],
  "originalLanguage": "de|en|tr|ar",
  "translations": {"de": "", "en": ""}
}
Rules:
- khCodes are German care service codes (Leistungskomplexe) mentioned or implied.
- Raise an alert for any health concern: falls, wounds, refusal of medication, confusion, emergencies.
- translations.de always carries the German text; add translations.en when the original is not English.
- Leave fields empty rather than inventing values.`

// AIClient wraps the AI provider for transcription and transcript analysis.
type AIClient struct {
	client      *openai.Client
	chatModel   string
	retryConfig RetryConfig
}

// NewAIClient creates a client for the AI provider.
func NewAIClient(apiKey string) *AIClient {
	return &AIClient{
		client:      openai.NewClient(apiKey),
		chatModel:   openai.GPT4o,
		retryConfig: DefaultRetryConfig(),
	}
}

// Transcribe converts audio bytes to text. The filename's extension tells
// the provider the container format.
func (c *AIClient) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	var text string
	err := retryWithBackoff(ctx, c.retryConfig, func() error {
		resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: filename,
			Reader:   bytes.NewReader(audio),
		})
		if err != nil {
			return classifyProviderError("transcription", err)
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", core.Terminal(fmt.Errorf("transcription produced no text"))
	}
	return text, nil
}

// Analyze extracts the structured care record from a transcript. Missing
// serviceDate and originalLanguage fall back to today and German, and
// rawContent falls back to the transcript itself.
func (c *AIClient) Analyze(ctx context.Context, transcript string) (*core.Analysis, error) {
	var content string
	err := retryWithBackoff(ctx, c.retryConfig, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: transcript},
			},
		})
		if err != nil {
			return classifyProviderError("analysis", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("analysis returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	var analysis core.Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	applyAnalysisDefaults(&analysis, transcript)
	return &analysis, nil
}

// applyAnalysisDefaults fills the fields downstream stages rely on when the
// model leaves them empty.
func applyAnalysisDefaults(a *core.Analysis, transcript string) {
	if a.ServiceDate == "" {
		a.ServiceDate = time.Now().UTC().Format("2006-01-02")
	}
	if a.OriginalLanguage == "" {
		a.OriginalLanguage = "de"
	}
	if a.RawContent == "" {
		a.RawContent = transcript
	}
	if a.Translations.DE == "" && a.OriginalLanguage == "de" {
		a.Translations.DE = transcript
	}
	if a.KHCodes == nil {
		a.KHCodes = []string{}
	}
	if a.StructuredData == nil {
		a.StructuredData = map[string]any{}
	}
}

// classifyProviderError maps AI provider failures onto the worker's error
// taxonomy. Rejected requests are terminal; capacity and server problems
// are hard.
func classifyProviderError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500:
			return core.Hard(fmt.Errorf("%s request: %w", op, err))
		case apiErr.HTTPStatusCode >= 400:
			return core.Terminal(fmt.Errorf("%s request rejected: %w", op, err))
		}
	}
	if core.IsHard(err) {
		return core.Hard(fmt.Errorf("%s request: %w", op, err))
	}
	return fmt.Errorf("%s request: %w", op, err)
}
