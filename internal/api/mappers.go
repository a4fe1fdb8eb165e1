package api

import (
	"sort"

	"github.com/akmatori/autoheal/internal/database"
)

// IncidentToListItem converts a database Incident to a compact list representation.
func IncidentToListItem(i database.Incident) IncidentListItem {
	return IncidentListItem{
		ID:              i.ID,
		Title:           i.Title,
		Source:          i.Source,
		Severity:        i.Severity,
		Status:          i.Status,
		StatusMessage:   i.StatusMessage,
		ProjectID:       i.ProjectID,
		OccurrenceCount: i.OccurrenceCount,
		VerifyAttempts:  i.Metadata.VerifyAttempts,
		PullRequestURL:  i.Metadata.PullRequestURL,
		LastSeen:        i.LastSeen,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

// IncidentsToListItems converts a slice of database Incidents to list items.
func IncidentsToListItems(incidents []database.Incident) []IncidentListItem {
	items := make([]IncidentListItem, len(incidents))
	for i, inc := range incidents {
		items[i] = IncidentToListItem(inc)
	}
	return items
}

// IncidentToResponse converts a database Incident to its full view.
func IncidentToResponse(i database.Incident) IncidentResponse {
	m := i.Metadata
	resp := IncidentResponse{
		ID:              i.ID,
		Title:           i.Title,
		Description:     i.Description,
		Source:          i.Source,
		Severity:        i.Severity,
		Status:          i.Status,
		StatusMessage:   i.StatusMessage,
		Fingerprint:     i.Fingerprint,
		ProjectID:       i.ProjectID,
		OccurrenceCount: i.OccurrenceCount,
		LastSeen:        i.LastSeen,
		ResolvedAt:      i.ResolvedAt,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,

		Repository:       m.Repository(),
		BaseBranch:       m.BaseBranch,
		Branch:           m.Branch,
		ErrorSource:      m.ErrorSource,
		RequiresApproval: m.RequiresApproval(),
		RootCause:        m.RootCause,
		Patch:            m.Patch,
		PatchAttempts:    m.PatchAttempts,
		VerifyAttempts:   m.VerifyAttempts,
		LastVerifyLogs:   m.LastVerifyLogs,
		PullRequestURL:   m.PullRequestURL,
		ApprovedBy:       m.ApprovedBy,
		ApprovedAt:       m.ApprovedAt,
		RejectedBy:       m.RejectedBy,
		RejectionReason:  m.RejectionReason,
		RejectedAt:       m.RejectedAt,
	}
	for k := range m.VerifyEnv {
		resp.VerifyEnvKeys = append(resp.VerifyEnvKeys, k)
	}
	sort.Strings(resp.VerifyEnvKeys)
	return resp
}

// SlackSettingsToResponse masks the tokens of the stored settings.
func SlackSettingsToResponse(s *database.SlackSettings, connected bool) SlackSettingsResponse {
	return SlackSettingsResponse{
		BotToken:      MaskToken(s.BotToken),
		SigningSecret: MaskToken(s.SigningSecret),
		AppToken:      MaskToken(s.AppToken),
		Enabled:       s.Enabled,
		Configured:    s.IsConfigured(),
		Connected:     connected,
	}
}

// MaskToken keeps the last four characters of long tokens
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
