package services

import (
	"fmt"
	"strings"
)

const maxTitleLength = 80

// FallbackTitle derives a short incident title from the raw fault message
func FallbackTitle(message string, source string) string {
	message = strings.TrimSpace(message)

	// Remove common prefixes
	for _, prefix := range []string{"Error:", "error:", "ERROR:", "Incident:", "incident:"} {
		message = strings.TrimPrefix(message, prefix)
	}
	message = strings.TrimSpace(message)

	// First line only
	if idx := strings.Index(message, "\n"); idx > 0 {
		message = strings.TrimSpace(message[:idx])
	}

	runes := []rune(message)
	if len(runes) > maxTitleLength {
		cut := string(runes[:maxTitleLength])
		if idx := strings.LastIndex(cut, " "); idx > maxTitleLength/2 {
			message = cut[:idx] + "..."
		} else {
			message = string(runes[:maxTitleLength-3]) + "..."
		}
	}

	if message == "" {
		return fmt.Sprintf("Incident from %s", source)
	}
	return message
}
