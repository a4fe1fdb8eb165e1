// Package llm talks to the reasoning provider that analyzes faults and drafts patches.
package llm

import "github.com/akmatori/autoheal/internal/database"

// IncidentContext is everything the reasoning provider sees about an incident
type IncidentContext struct {
	IncidentID  string
	ProjectID   string
	Title       string
	Description string
	Source      database.IncidentSource
	Severity    database.Severity
	Repository  string
	BaseBranch  string
	ErrorSource string
	RawError    string
	RootCause   *database.RootCause
	// Patch is the previous attempt when a patch is being regenerated
	Patch *database.Patch
}

// NewIncidentContext builds the reasoning context from a persisted incident
func NewIncidentContext(incident *database.Incident) IncidentContext {
	meta := incident.Metadata
	return IncidentContext{
		IncidentID:  incident.ID,
		ProjectID:   incident.ProjectID,
		Title:       incident.Title,
		Description: incident.Description,
		Source:      incident.Source,
		Severity:    incident.Severity,
		Repository:  meta.Repository(),
		BaseBranch:  meta.BaseBranch,
		ErrorSource: meta.ErrorSource,
		RawError:    meta.RawError,
		RootCause:   meta.RootCause,
		Patch:       meta.Patch,
	}
}
