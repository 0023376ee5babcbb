package storage

import (
	"strings"
	"unicode/utf8"
)

// maxReasonLength bounds stored failure diagnostics.
const maxReasonLength = 4096

// sanitizeReason strips control characters and truncates failure reasons
// before they are persisted as diagnostics.
func sanitizeReason(msg string) string {
	if msg == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	result := b.String()

	if utf8.RuneCountInString(result) > maxReasonLength {
		runes := []rune(result)
		result = string(runes[:maxReasonLength-3]) + "..."
	}
	return result
}
