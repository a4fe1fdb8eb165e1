package testhelpers

import (
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/fingerprint"
	"github.com/google/uuid"
)

// ========================================
// Incident Builder
// ========================================

// IncidentBuilder builds Incident instances for testing
type IncidentBuilder struct {
	incident database.Incident
}

// NewIncidentBuilder creates a new incident builder with defaults
func NewIncidentBuilder() *IncidentBuilder {
	now := time.Now()
	b := &IncidentBuilder{
		incident: database.Incident{
			ID:              uuid.NewString(),
			Title:           "panic: assignment to entry in nil map",
			Description:     "panic: assignment to entry in nil map\ngoroutine 1 [running]",
			Source:          database.IncidentSourceProductionWatcher,
			Severity:        database.SeverityCritical,
			Status:          database.IncidentStatusOpen,
			ProjectID:       "checkout-api",
			OccurrenceCount: 1,
			LastSeen:        now,
			CreatedAt:       now,
			UpdatedAt:       now,
			Metadata: database.IncidentMetadata{
				ProjectID:   "checkout-api",
				RepoOwner:   "acme",
				RepoName:    "checkout",
				BaseBranch:  "main",
				ErrorSource: database.ErrorSourceProduction,
			},
		},
	}
	b.refreshFingerprint()
	return b
}

func (b *IncidentBuilder) refreshFingerprint() {
	b.incident.Fingerprint = fingerprint.Compute(b.incident.Description, b.incident.ProjectID)
}

// WithID sets the incident ID
func (b *IncidentBuilder) WithID(id string) *IncidentBuilder {
	b.incident.ID = id
	return b
}

// WithTitle sets the title
func (b *IncidentBuilder) WithTitle(title string) *IncidentBuilder {
	b.incident.Title = title
	return b
}

// WithMessage sets the description and recomputes the fingerprint
func (b *IncidentBuilder) WithMessage(msg string) *IncidentBuilder {
	b.incident.Description = msg
	b.refreshFingerprint()
	return b
}

// WithProject sets the project on the incident and its metadata
func (b *IncidentBuilder) WithProject(projectID string) *IncidentBuilder {
	b.incident.ProjectID = projectID
	b.incident.Metadata.ProjectID = projectID
	b.refreshFingerprint()
	return b
}

// WithStatus sets the status
func (b *IncidentBuilder) WithStatus(status database.IncidentStatus) *IncidentBuilder {
	b.incident.Status = status
	return b
}

// WithSeverity sets the severity
func (b *IncidentBuilder) WithSeverity(severity database.Severity) *IncidentBuilder {
	b.incident.Severity = severity
	return b
}

// WithSource sets the detector source
func (b *IncidentBuilder) WithSource(source database.IncidentSource) *IncidentBuilder {
	b.incident.Source = source
	return b
}

// WithErrorSource sets the ci-cd/production classification
func (b *IncidentBuilder) WithErrorSource(errorSource string) *IncidentBuilder {
	b.incident.Metadata.ErrorSource = errorSource
	return b
}

// WithRootCause sets the accumulated root cause
func (b *IncidentBuilder) WithRootCause(analysis string) *IncidentBuilder {
	b.incident.Metadata.RootCause = &database.RootCause{Analysis: analysis}
	return b
}

// WithPatch sets the accumulated patch
func (b *IncidentBuilder) WithPatch(patch *database.Patch) *IncidentBuilder {
	b.incident.Metadata.Patch = patch
	return b
}

// WithoutRepository clears the repository linkage
func (b *IncidentBuilder) WithoutRepository() *IncidentBuilder {
	b.incident.Metadata.RepoOwner = ""
	b.incident.Metadata.RepoName = ""
	return b
}

// WithUpdatedAt sets the update time
func (b *IncidentBuilder) WithUpdatedAt(t time.Time) *IncidentBuilder {
	b.incident.UpdatedAt = t
	return b
}

// Build returns the constructed incident
func (b *IncidentBuilder) Build() *database.Incident {
	inc := b.incident
	return &inc
}

// ========================================
// Project Builder
// ========================================

// ProjectBuilder builds Project instances for testing
type ProjectBuilder struct {
	project database.Project
}

// NewProjectBuilder creates a new project builder with defaults
func NewProjectBuilder() *ProjectBuilder {
	return &ProjectBuilder{
		project: database.Project{
			ID:           "checkout-api",
			Name:         "Checkout API",
			RepoOwner:    "acme",
			RepoName:     "checkout",
			BaseBranch:   "main",
			SlackChannel: "C0123456",
			Enabled:      true,
		},
	}
}

// WithID sets the project slug
func (b *ProjectBuilder) WithID(id string) *ProjectBuilder {
	b.project.ID = id
	return b
}

// WithRepository sets owner and name
func (b *ProjectBuilder) WithRepository(owner, name string) *ProjectBuilder {
	b.project.RepoOwner = owner
	b.project.RepoName = name
	return b
}

// WithBaseBranch sets the base branch
func (b *ProjectBuilder) WithBaseBranch(branch string) *ProjectBuilder {
	b.project.BaseBranch = branch
	return b
}

// WithSlackChannel sets the notification channel
func (b *ProjectBuilder) WithSlackChannel(channel string) *ProjectBuilder {
	b.project.SlackChannel = channel
	return b
}

// Disabled sets the project as disabled
func (b *ProjectBuilder) Disabled() *ProjectBuilder {
	b.project.Enabled = false
	return b
}

// Build returns the constructed project
func (b *ProjectBuilder) Build() *database.Project {
	p := b.project
	return &p
}

// ========================================
// Slack Settings Builder
// ========================================

// SlackSettingsBuilder builds SlackSettings instances for testing
type SlackSettingsBuilder struct {
	settings database.SlackSettings
}

// NewSlackSettingsBuilder creates a new Slack settings builder with defaults
func NewSlackSettingsBuilder() *SlackSettingsBuilder {
	return &SlackSettingsBuilder{
		settings: database.SlackSettings{
			Enabled: false,
		},
	}
}

// WithID sets the settings ID
func (b *SlackSettingsBuilder) WithID(id uint) *SlackSettingsBuilder {
	b.settings.ID = id
	return b
}

// WithTokens sets all required tokens
func (b *SlackSettingsBuilder) WithTokens(botToken, signingSecret, appToken string) *SlackSettingsBuilder {
	b.settings.BotToken = botToken
	b.settings.SigningSecret = signingSecret
	b.settings.AppToken = appToken
	return b
}

// Enabled enables Slack integration
func (b *SlackSettingsBuilder) Enabled() *SlackSettingsBuilder {
	b.settings.Enabled = true
	return b
}

// Build returns the constructed settings
func (b *SlackSettingsBuilder) Build() database.SlackSettings {
	return b.settings
}
