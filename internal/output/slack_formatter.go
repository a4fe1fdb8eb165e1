package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/utils"
)

const (
	maxAnalysisLength   = 1500
	maxExplanationChars = 800
	maxFilesListed      = 10
)

// DecisionSummary is what a human needs to approve or reject a fix
type DecisionSummary struct {
	IncidentID string
	Title      string
	ProjectID  string
	Severity   database.Severity
	Repository string
	RootCause  *database.RootCause
	Patch      *database.Patch
}

// NewDecisionSummary builds the summary from a persisted incident
func NewDecisionSummary(incident *database.Incident) DecisionSummary {
	return DecisionSummary{
		IncidentID: incident.ID,
		Title:      incident.Title,
		ProjectID:  incident.ProjectID,
		Severity:   incident.Severity,
		Repository: incident.Metadata.Repository(),
		RootCause:  incident.Metadata.RootCause,
		Patch:      incident.Metadata.Patch,
	}
}

// FormatDecisionRequest renders the approval request as Slack mrkdwn
func FormatDecisionRequest(s DecisionSummary) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s *Fix ready for review*: %s\n", database.GetSeverityEmoji(s.Severity), s.Title))
	sb.WriteString(fmt.Sprintf("Project: `%s`", s.ProjectID))
	if s.Repository != "" {
		sb.WriteString(fmt.Sprintf(" | Repository: `%s`", s.Repository))
	}
	sb.WriteString(fmt.Sprintf("\nIncident: `%s`\n", s.IncidentID))

	if !s.RootCause.IsEmpty() {
		sb.WriteString("\n*Root Cause*\n")
		sb.WriteString(utils.TruncateText(s.RootCause.Analysis, maxAnalysisLength))
		sb.WriteString("\n")
		if len(s.RootCause.Hints) > 0 {
			keys := make([]string, 0, len(s.RootCause.Hints))
			for k := range s.RootCause.Hints {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sb.WriteString(fmt.Sprintf("• %s: %s\n", k, s.RootCause.Hints[k]))
			}
		}
	} else {
		sb.WriteString("\n*Root Cause*\n_Not determined_\n")
	}

	if s.Patch != nil {
		sb.WriteString("\n*Proposed Patch*\n")
		if s.Patch.Explanation != "" {
			sb.WriteString(utils.TruncateText(s.Patch.Explanation, maxExplanationChars))
			sb.WriteString("\n")
		}
		for i, update := range s.Patch.FileUpdates {
			if i == maxFilesListed {
				sb.WriteString(fmt.Sprintf("• ...and %d more\n", len(s.Patch.FileUpdates)-maxFilesListed))
				break
			}
			sb.WriteString(fmt.Sprintf("• `%s`\n", update.Path))
		}
	}

	return sb.String()
}

// FormatStatusUpdate renders a terminal or notable status change
func FormatStatusUpdate(incident *database.Incident) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *%s*: %s", getStatusEmoji(incident.Status), statusLabel(incident.Status), incident.Title))
	if incident.Status.IsTerminal() && !incident.CreatedAt.IsZero() && incident.UpdatedAt.After(incident.CreatedAt) {
		sb.WriteString(fmt.Sprintf(" (after %s)", utils.FormatDuration(incident.UpdatedAt.Sub(incident.CreatedAt))))
	}
	if incident.StatusMessage != "" {
		sb.WriteString(fmt.Sprintf("\n%s", incident.StatusMessage))
	}
	if incident.Metadata.PullRequestURL != "" {
		sb.WriteString(fmt.Sprintf("\nPull request: %s", incident.Metadata.PullRequestURL))
	}
	if len(incident.Metadata.LastVerifyLogs) > 0 && incident.Status == database.IncidentStatusFailed {
		logs := strings.Join(utils.TailLines(incident.Metadata.LastVerifyLogs, 20), "\n")
		sb.WriteString(fmt.Sprintf("\n```%s```", utils.TruncateLogForSlack(logs, 2000)))
	}
	return sb.String()
}

// FormatDecisionReply renders the thread reply posted after a decision
func FormatDecisionReply(approved bool, actor, reason string) string {
	if approved {
		return fmt.Sprintf("✅ Approved by %s. Verifying the fix before opening a pull request.", actor)
	}
	if reason != "" {
		return fmt.Sprintf("🚫 Rejected by %s: %s", actor, reason)
	}
	return fmt.Sprintf("🚫 Rejected by %s.", actor)
}

func statusLabel(status database.IncidentStatus) string {
	switch status {
	case database.IncidentStatusResolved:
		return "Resolved"
	case database.IncidentStatusFailed:
		return "Remediation failed"
	case database.IncidentStatusAwaitingApproval:
		return "Awaiting approval"
	default:
		return string(status)
	}
}

// getStatusEmoji returns an emoji for the given status
func getStatusEmoji(status database.IncidentStatus) string {
	switch status {
	case database.IncidentStatusResolved:
		return "✅"
	case database.IncidentStatusFailed:
		return "🚨"
	case database.IncidentStatusAwaitingApproval:
		return "⏸️"
	default:
		return "📋"
	}
}
