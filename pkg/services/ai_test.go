package services

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/carelane/voiceworker/pkg/core"
)

func TestApplyAnalysisDefaults(t *testing.T) {
	a := &core.Analysis{}
	applyAnalysisDefaults(a, "Frau Schmidt ging es heute gut")

	assert.NotEmpty(t, a.ServiceDate)
	assert.Equal(t, "de", a.OriginalLanguage)
	assert.Equal(t, "Frau Schmidt ging es heute gut", a.RawContent)
	assert.Equal(t, "Frau Schmidt ging es heute gut", a.Translations.DE)
	assert.NotNil(t, a.KHCodes)
	assert.NotNil(t, a.StructuredData)
}

func TestApplyAnalysisDefaultsKeepsModelOutput(t *testing.T) {
	a := &core.Analysis{
		ServiceDate:      "2025-05-30",
		OriginalLanguage: "tr",
		RawContent:       "raw",
		Translations:     core.Translations{DE: "übersetzt"},
	}
	applyAnalysisDefaults(a, "transcript")

	assert.Equal(t, "2025-05-30", a.ServiceDate)
	assert.Equal(t, "tr", a.OriginalLanguage)
	assert.Equal(t, "raw", a.RawContent)
	assert.Equal(t, "übersetzt", a.Translations.DE)
}

func TestClassifyProviderError(t *testing.T) {
	rateLimited := classifyProviderError("transcription", &openai.APIError{HTTPStatusCode: 429})
	assert.True(t, core.IsHard(rateLimited))

	serverError := classifyProviderError("analysis", &openai.APIError{HTTPStatusCode: 503})
	assert.True(t, core.IsHard(serverError))

	badRequest := classifyProviderError("analysis", &openai.APIError{HTTPStatusCode: 400})
	assert.True(t, core.IsTerminal(badRequest))

	transient := classifyProviderError("analysis", errors.New("connection reset by peer"))
	assert.True(t, core.IsHard(transient))

	plain := classifyProviderError("analysis", errors.New("odd response shape"))
	assert.False(t, core.IsHard(plain))
	assert.False(t, core.IsTerminal(plain))
}
