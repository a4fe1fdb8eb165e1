package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/akmatori/autoheal/internal/utils"
)

const (
	maxRawErrorChars   = 8000
	maxPriorLogLines   = 80
	maxPriorPatchChars = 12000
)

const analyzeSystemPrompt = `You are a senior engineer performing root cause analysis on a production or CI/CD fault.

IMPORTANT RULES:
- ONLY use information present in the fault report - do NOT invent stack frames or files
- Think briefly in plain text, then emit exactly one block:

[ROOT_CAUSE]
analysis: <what broke and why, several sentences allowed>
hints:
- file: <most likely file path, if known>
- component: <subsystem name, if known>
[/ROOT_CAUSE]`

const patchSystemPrompt = `You are a senior engineer writing the smallest safe code change that fixes a fault.

IMPORTANT RULES:
- Rewrite whole files; every file_updates entry holds the complete new file content
- Do not touch files unrelated to the fault
- If earlier verification logs are provided, the previous patch failed; fix what they show
- Think briefly in plain text, then emit exactly one block whose body is JSON:

[PATCH]
{"explanation": "<one paragraph>", "file_updates": [{"path": "<repo relative path>", "content": "<full file>"}]}
[/PATCH]`

func buildIncidentPrompt(ic IncidentContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Incident: %s\n", ic.Title))
	sb.WriteString(fmt.Sprintf("Source: %s | Severity: %s | Error source: %s\n", ic.Source, ic.Severity, ic.ErrorSource))
	if ic.Repository != "" {
		sb.WriteString(fmt.Sprintf("Repository: %s (base branch %s)\n", ic.Repository, ic.BaseBranch))
	}
	if ic.Description != "" {
		sb.WriteString(fmt.Sprintf("\nDescription:\n%s\n", ic.Description))
	}
	if ic.RawError != "" {
		sb.WriteString(fmt.Sprintf("\nFault output:\n%s\n", truncateForPrompt(ic.RawError, maxRawErrorChars)))
	}
	return sb.String()
}

func buildAnalyzePrompt(ic IncidentContext) string {
	return buildIncidentPrompt(ic)
}

func buildPatchPrompt(ic IncidentContext, priorFailureLogs []string) string {
	var sb strings.Builder
	sb.WriteString(buildIncidentPrompt(ic))

	if !ic.RootCause.IsEmpty() {
		sb.WriteString(fmt.Sprintf("\nRoot cause analysis:\n%s\n", ic.RootCause.Analysis))
		keys := make([]string, 0, len(ic.RootCause.Hints))
		for k := range ic.RootCause.Hints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", k, ic.RootCause.Hints[k]))
		}
	} else {
		sb.WriteString("\nRoot cause analysis was not available; work from the fault output.\n")
	}

	if len(priorFailureLogs) > 0 {
		if ic.Patch != nil {
			sb.WriteString("\nPrevious patch (failed verification):\n")
			for _, update := range ic.Patch.FileUpdates {
				sb.WriteString(fmt.Sprintf("--- %s\n%s\n", update.Path, truncateForPrompt(update.Content, maxPriorPatchChars)))
			}
		}
		sb.WriteString("\nVerification logs from the failed attempt:\n")
		sb.WriteString(strings.Join(utils.TailLines(priorFailureLogs, maxPriorLogLines), "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// truncateForPrompt truncates a string to fit in the prompt
func truncateForPrompt(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
