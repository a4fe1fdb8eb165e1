package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// scanBytes accepts both []byte (postgres) and string (sqlite) column values.
func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("type assertion to []byte failed")
	}
}

// SlackSettings stores Slack integration configuration
type SlackSettings struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	BotToken      string    `gorm:"type:text" json:"bot_token"`
	SigningSecret string    `gorm:"type:text" json:"signing_secret"`
	AppToken      string    `gorm:"type:text" json:"app_token"`
	Enabled       bool      `gorm:"default:false" json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsConfigured returns true if all required Slack tokens are set
func (s *SlackSettings) IsConfigured() bool {
	return s.BotToken != "" && s.SigningSecret != "" && s.AppToken != ""
}

// IsActive returns true if Slack is enabled and configured
func (s *SlackSettings) IsActive() bool {
	return s.Enabled && s.IsConfigured()
}

func (SlackSettings) TableName() string {
	return "slack_settings"
}

// Project links incidents to a repository and a notification channel.
type Project struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"` // slug, e.g. "checkout-api"
	Name         string    `gorm:"size:255;not null" json:"name"`
	RepoOwner    string    `gorm:"size:255" json:"repo_owner"`
	RepoName     string    `gorm:"size:255" json:"repo_name"`
	BaseBranch   string    `gorm:"size:255;default:'main'" json:"base_branch"`
	SlackChannel string    `gorm:"size:255" json:"slack_channel"` // empty means no chat notifications
	Enabled      bool      `gorm:"default:true" json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

// Repository returns "owner/name" or an empty string when the project has no repository.
func (p *Project) Repository() string {
	if p.RepoOwner == "" || p.RepoName == "" {
		return ""
	}
	return p.RepoOwner + "/" + p.RepoName
}

// ProjectSecret stores one encrypted credential for a project.
// Plaintext never touches this table; see the secrets package.
type ProjectSecret struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ProjectID  string    `gorm:"size:64;not null;uniqueIndex:idx_project_secret_kind" json:"project_id"`
	Kind       string    `gorm:"size:64;not null;uniqueIndex:idx_project_secret_kind" json:"kind"`
	Ciphertext []byte    `gorm:"not null" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ProjectSecret) TableName() string {
	return "project_secrets"
}

// Well-known secret kinds
const (
	SecretKindGitHubToken  = "github_token"
	SecretKindSandboxToken = "sandbox_token"
)

// IncidentSource identifies the detector that raised an incident
type IncidentSource string

const (
	IncidentSourceGitHub            IncidentSource = "GITHUB"
	IncidentSourceJenkins           IncidentSource = "JENKINS"
	IncidentSourceProductionWatcher IncidentSource = "PRODUCTION_WATCHER"
	IncidentSourceLogIngestion      IncidentSource = "LOG_INGESTION"
	IncidentSourceManual            IncidentSource = "MANUAL"
)

// Severity represents incident severity
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IncidentStatus represents the workflow position of an incident
type IncidentStatus string

const (
	IncidentStatusOpen                 IncidentStatus = "OPEN"
	IncidentStatusRCAInProgress        IncidentStatus = "RCA_IN_PROGRESS"
	IncidentStatusPatchInProgress      IncidentStatus = "PATCH_IN_PROGRESS"
	IncidentStatusAwaitingApproval     IncidentStatus = "AWAITING_APPROVAL"
	IncidentStatusVerifyInProgress     IncidentStatus = "VERIFY_IN_PROGRESS"
	IncidentStatusPRCreationInProgress IncidentStatus = "PR_CREATION_IN_PROGRESS"
	IncidentStatusResolved             IncidentStatus = "RESOLVED"
	IncidentStatusFailed               IncidentStatus = "FAILED"
)

// IsTerminal returns true for statuses that never change again
func (s IncidentStatus) IsTerminal() bool {
	return s == IncidentStatusResolved || s == IncidentStatusFailed
}

// IsInProgress returns true while a step executor owns the incident
func (s IncidentStatus) IsInProgress() bool {
	switch s {
	case IncidentStatusRCAInProgress, IncidentStatusPatchInProgress,
		IncidentStatusVerifyInProgress, IncidentStatusPRCreationInProgress:
		return true
	}
	return false
}

// ErrorSource values used for approval routing
const (
	ErrorSourceCICD       = "ci-cd"
	ErrorSourceProduction = "production"
)

// FileUpdate is a single file rewrite proposed by a patch
type FileUpdate struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RootCause is the accumulated output of the RCA step
type RootCause struct {
	Analysis string            `json:"analysis"`
	Hints    map[string]string `json:"hints,omitempty"`
}

// IsEmpty reports whether the root cause carries no usable context
func (r *RootCause) IsEmpty() bool {
	return r == nil || (r.Analysis == "" && len(r.Hints) == 0)
}

// Patch is the accumulated output of the Patch step
type Patch struct {
	FileUpdates []FileUpdate `json:"file_updates"`
	Explanation string       `json:"explanation"`
}

// MessageRef points at a chat message so later replies can be threaded
type MessageRef struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
}

// IncidentMetadata holds project linkage, routing, and accumulated step outputs.
// It is stored as a single JSON column and owned by the workflow engine.
type IncidentMetadata struct {
	ProjectID      string            `json:"project_id,omitempty"`
	RepoOwner      string            `json:"repo_owner,omitempty"`
	RepoName       string            `json:"repo_name,omitempty"`
	BaseBranch     string            `json:"base_branch,omitempty"`
	Branch         string            `json:"branch,omitempty"`
	CredentialsRef string            `json:"credentials_ref,omitempty"`
	ErrorSource    string            `json:"error_source,omitempty"`
	RawError       string            `json:"raw_error,omitempty"`
	VerifyEnv      map[string]string `json:"verify_env,omitempty"`

	RootCause         *RootCause `json:"root_cause,omitempty"`
	Patch             *Patch     `json:"patch,omitempty"`
	PatchAttempts     int        `json:"patch_attempts,omitempty"`
	VerifyAttempts    int        `json:"verify_attempts,omitempty"`
	LastVerifyLogs    []string   `json:"last_verify_logs,omitempty"`
	PatchCommitSHA    string     `json:"patch_commit_sha,omitempty"`
	PullRequestURL    string     `json:"pull_request_url,omitempty"`
	PullRequestBranch string     `json:"pull_request_branch,omitempty"`

	Approved        bool        `json:"approved,omitempty"`
	ApprovedBy      string      `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time  `json:"approved_at,omitempty"`
	RejectedBy      string      `json:"rejected_by,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	RejectedAt      *time.Time  `json:"rejected_at,omitempty"`
	ApprovalMessage *MessageRef `json:"approval_message,omitempty"`
}

// Scan implements the sql.Scanner interface
func (m *IncidentMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = IncidentMetadata{}
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	if len(bytes) == 0 {
		*m = IncidentMetadata{}
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface
func (m IncidentMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Repository returns "owner/name" for the linked repository
func (m *IncidentMetadata) Repository() string {
	if m.RepoOwner == "" || m.RepoName == "" {
		return ""
	}
	return m.RepoOwner + "/" + m.RepoName
}

// RequiresApproval reports whether the incident must pass the approval gate.
// Only an explicit "ci-cd" classification skips it.
func (m *IncidentMetadata) RequiresApproval() bool {
	return m.ErrorSource != ErrorSourceCICD
}

// Incident is the unit of work driven through the remediation workflow
type Incident struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	Title           string           `gorm:"type:varchar(255)" json:"title"`
	Description     string           `gorm:"type:text" json:"description"`
	Source          IncidentSource   `gorm:"type:varchar(32);not null;index" json:"source"`
	Severity        Severity         `gorm:"type:varchar(16);not null" json:"severity"`
	Status          IncidentStatus   `gorm:"type:varchar(32);not null;default:'OPEN';index" json:"status"`
	StatusMessage   string           `gorm:"type:text" json:"status_message,omitempty"`
	Fingerprint     string           `gorm:"size:64;not null;uniqueIndex:idx_incidents_open_fingerprint,where:status <> 'RESOLVED'" json:"fingerprint"`
	ProjectID       string           `gorm:"size:64;index" json:"project_id"`
	OccurrenceCount int              `gorm:"not null;default:1" json:"occurrence_count"`
	LastSeen        time.Time        `json:"last_seen"`
	Metadata        IncidentMetadata `gorm:"type:jsonb" json:"metadata"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt       time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// BeforeCreate assigns the id and initial counters
func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.OccurrenceCount == 0 {
		i.OccurrenceCount = 1
	}
	if i.LastSeen.IsZero() {
		i.LastSeen = time.Now()
	}
	if i.Status == "" {
		i.Status = IncidentStatusOpen
	}
	return nil
}

func (Incident) TableName() string {
	return "incidents"
}

// AgentName identifies a step executor
type AgentName string

const (
	AgentRCA    AgentName = "RCA"
	AgentPatch  AgentName = "Patch"
	AgentVerify AgentName = "Verify"
	AgentPR     AgentName = "PR"
)

// AgentRunStatus is the lifecycle state of one step execution
type AgentRunStatus string

const (
	AgentRunIdle      AgentRunStatus = "IDLE"
	AgentRunWorking   AgentRunStatus = "WORKING"
	AgentRunCompleted AgentRunStatus = "COMPLETED"
	AgentRunFailed    AgentRunStatus = "FAILED"
)

// IsTerminal returns true once the run record must no longer change
func (s AgentRunStatus) IsTerminal() bool {
	return s == AgentRunCompleted || s == AgentRunFailed
}

// AgentRun is the audit record of one step execution attempt
type AgentRun struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	IncidentID  string         `gorm:"size:36;not null;index" json:"incident_id"`
	AgentName   AgentName      `gorm:"type:varchar(16);not null" json:"agent_name"`
	Status      AgentRunStatus `gorm:"type:varchar(16);not null" json:"status"`
	Attempt     int            `gorm:"not null;default:1" json:"attempt"`
	Thoughts    string         `gorm:"type:text" json:"thoughts"`
	Output      JSONB          `gorm:"type:jsonb" json:"output"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	Incident Incident `gorm:"foreignKey:IncidentID" json:"-"`
}

// BeforeCreate assigns the id and start time
func (r *AgentRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

func (AgentRun) TableName() string {
	return "agent_runs"
}

// GetSeverityEmoji returns an emoji for the incident severity
func GetSeverityEmoji(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return ":red_circle:"
	case SeverityWarning:
		return ":large_yellow_circle:"
	case SeverityInfo:
		return ":large_blue_circle:"
	default:
		return ":white_circle:"
	}
}
