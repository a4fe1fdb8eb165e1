// Package fingerprint normalizes raw fault messages and hashes them so that
// repeated occurrences of the same fault collapse onto one open incident.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// PrefixLength is the number of normalized runes that participate in the hash.
// Long stack-trace tails are cut off so unrelated noise cannot dominate.
const PrefixLength = 256

var (
	// 2024-01-02T03:04:05, 2024-01-02 03:04:05.123Z, 2024-01-02 03:04:05,123,
	// 2024-01-02T03:04:05+02:00
	isoTimestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}(:\d{2}([.,]\d+)?)?(z|[+-]\d{2}:?\d{2})?`)
	// bare dates left over after timestamps are stripped
	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	// 03:04:05, 03:04:05.123 and 03:04:05,123
	clockPattern = regexp.MustCompile(`\b\d{1,2}:\d{2}:\d{2}([.,]\d+)?\b`)
	uuidPattern  = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Normalize lower-cases the message, strips timestamps and UUIDs, collapses
// whitespace and truncates the result to PrefixLength runes.
func Normalize(message string) string {
	s := strings.ToLower(message)
	s = isoTimestampPattern.ReplaceAllString(s, "")
	s = isoDatePattern.ReplaceAllString(s, "")
	s = clockPattern.ReplaceAllString(s, "")
	s = uuidPattern.ReplaceAllString(s, "")
	s = spacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > PrefixLength {
		s = string(runes[:PrefixLength])
	}
	return s
}

// Compute returns the hex SHA-256 of the normalized message bound to a project.
func Compute(message, projectID string) string {
	sum := sha256.Sum256([]byte(Normalize(message) + "\x00" + projectID))
	return hex.EncodeToString(sum[:])
}
