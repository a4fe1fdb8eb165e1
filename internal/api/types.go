package api

import (
	"time"

	"github.com/akmatori/autoheal/internal/database"
)

// ========== Incident Types ==========

// SubmitIncidentRequest is the request body for POST /api/incidents and
// POST /webhook/incidents.
type SubmitIncidentRequest struct {
	Title          string            `json:"title" validate:"omitempty,max=255"`
	Message        string            `json:"message" validate:"required,max=65536"`
	Source         string            `json:"source" validate:"required,oneof=GITHUB JENKINS PRODUCTION_WATCHER LOG_INGESTION MANUAL"`
	Severity       string            `json:"severity" validate:"required,oneof=INFO WARNING CRITICAL"`
	ProjectID      string            `json:"project_id" validate:"required,max=64"`
	ErrorSource    string            `json:"error_source" validate:"omitempty,oneof=ci-cd production"`
	RawError       string            `json:"raw_error"`
	Branch         string            `json:"branch" validate:"omitempty,max=255"`
	CredentialsRef string            `json:"credentials_ref" validate:"omitempty,max=255"`
	VerifyEnv      map[string]string `json:"verify_env"`
}

// SubmitIncidentResponse is the response body of an accepted submission.
type SubmitIncidentResponse struct {
	IncidentID string `json:"incident_id"`
	Duplicate  bool   `json:"duplicate"`
}

// RejectIncidentRequest is the optional request body for POST /api/incidents/{id}/reject.
type RejectIncidentRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=1024"`
}

// DecisionResponse reports the outcome of an approve or reject call.
type DecisionResponse struct {
	Applied  bool             `json:"applied"`
	Incident IncidentResponse `json:"incident"`
}

// ========== Project Types ==========

// CreateProjectRequest is the request body for POST /api/projects.
type CreateProjectRequest struct {
	ID           string `json:"id" validate:"required,min=1,max=64,slug"`
	Name         string `json:"name" validate:"required,min=1,max=255"`
	RepoOwner    string `json:"repo_owner" validate:"omitempty,max=255"`
	RepoName     string `json:"repo_name" validate:"omitempty,max=255"`
	BaseBranch   string `json:"base_branch" validate:"omitempty,max=255"`
	SlackChannel string `json:"slack_channel" validate:"omitempty,max=255"`
	Enabled      *bool  `json:"enabled"`
}

// UpdateProjectRequest is the request body for PUT /api/projects/{id}.
type UpdateProjectRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=255"`
	RepoOwner    *string `json:"repo_owner" validate:"omitempty,max=255"`
	RepoName     *string `json:"repo_name" validate:"omitempty,max=255"`
	BaseBranch   *string `json:"base_branch" validate:"omitempty,max=255"`
	SlackChannel *string `json:"slack_channel" validate:"omitempty,max=255"`
	Enabled      *bool   `json:"enabled"`
}

// PutSecretRequest is the request body for PUT /api/projects/{id}/secrets/{kind}.
type PutSecretRequest struct {
	Value string `json:"value" validate:"required,max=8192"`
}

// ProjectResponse is a project with the kinds of secrets it holds. Secret
// values are never returned.
type ProjectResponse struct {
	database.Project
	SecretKinds []string `json:"secret_kinds"`
}

// ========== Settings Types ==========

// UpdateSlackSettingsRequest is the request body for PUT /api/settings/slack.
type UpdateSlackSettingsRequest struct {
	BotToken      *string `json:"bot_token"`
	SigningSecret *string `json:"signing_secret"`
	AppToken      *string `json:"app_token"`
	Enabled       *bool   `json:"enabled"`
}

// SlackSettingsResponse masks tokens.
type SlackSettingsResponse struct {
	BotToken      string `json:"bot_token"`
	SigningSecret string `json:"signing_secret"`
	AppToken      string `json:"app_token"`
	Enabled       bool   `json:"enabled"`
	Configured    bool   `json:"configured"`
	Connected     bool   `json:"connected"`
}

// ========== Auth Types ==========

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ========== Mapper Output Types ==========

// IncidentListItem is a compact representation of an incident for list views.
// It omits step outputs and verification logs.
type IncidentListItem struct {
	ID              string                  `json:"id"`
	Title           string                  `json:"title"`
	Source          database.IncidentSource `json:"source"`
	Severity        database.Severity       `json:"severity"`
	Status          database.IncidentStatus `json:"status"`
	StatusMessage   string                  `json:"status_message,omitempty"`
	ProjectID       string                  `json:"project_id"`
	OccurrenceCount int                     `json:"occurrence_count"`
	VerifyAttempts  int                     `json:"verify_attempts"`
	PullRequestURL  string                  `json:"pull_request_url,omitempty"`
	LastSeen        time.Time               `json:"last_seen"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// IncidentResponse is the full incident view. Verification environment
// values are replaced by their names.
type IncidentResponse struct {
	ID              string                  `json:"id"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description"`
	Source          database.IncidentSource `json:"source"`
	Severity        database.Severity       `json:"severity"`
	Status          database.IncidentStatus `json:"status"`
	StatusMessage   string                  `json:"status_message,omitempty"`
	Fingerprint     string                  `json:"fingerprint"`
	ProjectID       string                  `json:"project_id"`
	OccurrenceCount int                     `json:"occurrence_count"`
	LastSeen        time.Time               `json:"last_seen"`
	ResolvedAt      *time.Time              `json:"resolved_at,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`

	Repository       string              `json:"repository,omitempty"`
	BaseBranch       string              `json:"base_branch,omitempty"`
	Branch           string              `json:"branch,omitempty"`
	ErrorSource      string              `json:"error_source,omitempty"`
	RequiresApproval bool                `json:"requires_approval"`
	VerifyEnvKeys    []string            `json:"verify_env_keys,omitempty"`
	RootCause        *database.RootCause `json:"root_cause,omitempty"`
	Patch            *database.Patch     `json:"patch,omitempty"`
	PatchAttempts    int                 `json:"patch_attempts"`
	VerifyAttempts   int                 `json:"verify_attempts"`
	LastVerifyLogs   []string            `json:"last_verify_logs,omitempty"`
	PullRequestURL   string              `json:"pull_request_url,omitempty"`
	ApprovedBy       string              `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time          `json:"approved_at,omitempty"`
	RejectedBy       string              `json:"rejected_by,omitempty"`
	RejectionReason  string              `json:"rejection_reason,omitempty"`
	RejectedAt       *time.Time          `json:"rejected_at,omitempty"`
}
