package output

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/akmatori/autoheal/internal/database"
)

// ParsedOutput contains the structured blocks parsed from a reasoning reply
type ParsedOutput struct {
	// The original raw output
	RawOutput string

	// The output with structured blocks removed; kept as the step's thoughts
	CleanOutput string

	// Parsed structured blocks (nil if not found)
	RootCause *database.RootCause
	Patch     *database.Patch

	// PatchError is set when a [PATCH] block exists but is not valid JSON
	PatchError error
}

// Regex patterns for structured blocks
var (
	rootCausePattern    = regexp.MustCompile(`(?s)\[ROOT_CAUSE\]\s*(.+?)\s*\[/ROOT_CAUSE\]`)
	patchPattern        = regexp.MustCompile(`(?s)\[PATCH\]\s*(.+?)\s*\[/PATCH\]`)
	codeFencePattern    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.+?)\\s*```$")
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
)

// Parse extracts structured blocks from a reasoning reply
func Parse(output string) *ParsedOutput {
	result := &ParsedOutput{
		RawOutput: output,
	}

	if matches := rootCausePattern.FindStringSubmatch(output); len(matches) >= 2 {
		result.RootCause = parseRootCauseContent(matches[1])
	}

	if matches := patchPattern.FindStringSubmatch(output); len(matches) >= 2 {
		result.Patch, result.PatchError = parsePatchContent(matches[1])
	}

	clean := output
	clean = rootCausePattern.ReplaceAllString(clean, "")
	clean = patchPattern.ReplaceAllString(clean, "")
	clean = strings.TrimSpace(clean)
	clean = multiNewlinePattern.ReplaceAllString(clean, "\n\n")
	result.CleanOutput = clean

	return result
}

// parseRootCauseContent parses the content inside a [ROOT_CAUSE] block.
//
//	analysis: free text, may continue on following lines
//	hints:
//	- file: internal/db/pool.go
//	- component: connection pool
func parseRootCauseContent(content string) *database.RootCause {
	result := &database.RootCause{}
	var analysis []string
	var currentSection string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "analysis:"):
			currentSection = "analysis"
			if first := strings.TrimSpace(strings.TrimPrefix(line, "analysis:")); first != "" {
				analysis = append(analysis, first)
			}
		case strings.HasPrefix(line, "hints:"):
			currentSection = "hints"
		case currentSection == "hints" && strings.HasPrefix(line, "- "):
			item := strings.TrimPrefix(line, "- ")
			key, value, ok := strings.Cut(item, ":")
			if !ok {
				continue
			}
			if result.Hints == nil {
				result.Hints = make(map[string]string)
			}
			result.Hints[strings.TrimSpace(key)] = strings.TrimSpace(value)
		case currentSection == "analysis":
			analysis = append(analysis, line)
		}
	}

	result.Analysis = strings.Join(analysis, "\n")
	return result
}

// parsePatchContent decodes the JSON body of a [PATCH] block
func parsePatchContent(content string) (*database.Patch, error) {
	content = strings.TrimSpace(content)
	if matches := codeFencePattern.FindStringSubmatch(content); len(matches) >= 2 {
		content = matches[1]
	}

	var patch database.Patch
	if err := json.Unmarshal([]byte(content), &patch); err != nil {
		return nil, fmt.Errorf("invalid patch block: %w", err)
	}
	for i, update := range patch.FileUpdates {
		if strings.TrimSpace(update.Path) == "" {
			return nil, fmt.Errorf("invalid patch block: file update %d has no path", i)
		}
	}
	return &patch, nil
}

// HasStructuredOutput returns true if any structured blocks were found
func (p *ParsedOutput) HasStructuredOutput() bool {
	return p.RootCause != nil || p.Patch != nil
}
