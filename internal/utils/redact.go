package utils

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RedactedPlaceholder replaces every masked value
const RedactedPlaceholder = "[REDACTED]"

var (
	// Token shapes that must never reach persisted logs or broadcasts
	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),         // GitHub tokens
		regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`),       // GitHub fine-grained tokens
		regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),              // OpenAI keys
		regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9-]{10,}\b`),       // Slack tokens
		regexp.MustCompile(`\bxapp-[A-Za-z0-9-]{10,}\b`),             // Slack app tokens
		regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),                   // AWS access key ids
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{16,}`), // Authorization headers
	}

	// Control characters (except common whitespace)
	controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	branchUnsafePattern = regexp.MustCompile(`[^a-z0-9._/-]+`)
	uuidPattern         = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
)

// Redactor masks known secret values and token-shaped strings
type Redactor struct {
	secrets []string
}

// minSecretLength avoids masking short, common substrings
const minSecretLength = 6

// NewRedactor creates a Redactor for the given secret values
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if len(s) >= minSecretLength {
			r.secrets = append(r.secrets, s)
		}
	}
	// Longest first so overlapping secrets are fully masked
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
	return r
}

// Redact returns text with all secrets and token shapes masked
func (r *Redactor) Redact(text string) string {
	if r != nil {
		for _, s := range r.secrets {
			text = strings.ReplaceAll(text, s, RedactedPlaceholder)
		}
	}
	for _, pattern := range tokenPatterns {
		text = pattern.ReplaceAllString(text, RedactedPlaceholder)
	}
	return text
}

// RedactAll applies Redact to every line
func (r *Redactor) RedactAll(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = r.Redact(line)
	}
	return out
}

// SanitizeLogLine strips control characters from a streamed log line
func SanitizeLogLine(line string) string {
	line = controlCharPattern.ReplaceAllString(line, "")
	return strings.TrimRight(line, "\r\n")
}

// EscapeForLogging escapes content for single-line logging
func EscapeForLogging(text string, maxLen int) string {
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}

	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "\\r")
	text = strings.ReplaceAll(text, "\t", "\\t")

	return text
}

// BranchName builds a git-safe branch name from a prefix and an identifier
func BranchName(prefix, id string) string {
	name := strings.ToLower(prefix + "/" + id)
	name = branchUnsafePattern.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-/.")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

// ValidateIncidentUUID validates that a UUID is properly formatted
func ValidateIncidentUUID(uuid string) error {
	if uuid == "" {
		return fmt.Errorf("incident UUID is required")
	}
	if !uuidPattern.MatchString(strings.ToLower(uuid)) {
		return fmt.Errorf("invalid UUID format")
	}
	return nil
}
