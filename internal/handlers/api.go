package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/secrets"
	"github.com/akmatori/autoheal/internal/services"
	slackutil "github.com/akmatori/autoheal/internal/slack"
	"github.com/akmatori/autoheal/internal/workflow"
	"gorm.io/gorm"
)

// APIHandler serves the operator API
type APIHandler struct {
	engine       *workflow.Engine
	store        *services.IncidentStore
	projects     *services.ProjectService
	secrets      *secrets.Store
	db           *gorm.DB
	slackManager *slackutil.Manager
}

// NewAPIHandler creates a new API handler. slackManager may be nil.
func NewAPIHandler(engine *workflow.Engine, store *services.IncidentStore, projects *services.ProjectService, secretStore *secrets.Store, db *gorm.DB, slackManager *slackutil.Manager) *APIHandler {
	return &APIHandler{
		engine:       engine,
		store:        store,
		projects:     projects,
		secrets:      secretStore,
		db:           db,
		slackManager: slackManager,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	// Incidents
	mux.HandleFunc("POST /api/incidents", h.handleSubmitIncident)
	mux.HandleFunc("GET /api/incidents", h.handleListIncidents)
	mux.HandleFunc("GET /api/incidents/history", h.handleIncidentHistory)
	mux.HandleFunc("GET /api/incidents/{id}", h.handleGetIncident)
	mux.HandleFunc("GET /api/incidents/{id}/runs", h.handleIncidentRuns)
	mux.HandleFunc("POST /api/incidents/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /api/incidents/{id}/reject", h.handleReject)

	// Projects
	mux.HandleFunc("GET /api/projects", h.handleListProjects)
	mux.HandleFunc("POST /api/projects", h.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", h.handleGetProject)
	mux.HandleFunc("PUT /api/projects/{id}", h.handleUpdateProject)
	mux.HandleFunc("PUT /api/projects/{id}/secrets/{kind}", h.handlePutSecret)

	// Slack settings
	mux.HandleFunc("GET /api/settings/slack", h.handleGetSlackSettings)
	mux.HandleFunc("PUT /api/settings/slack", h.handleUpdateSlackSettings)
}

// respondWorkflowError maps engine errors to HTTP responses
func respondWorkflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrIncidentNotFound), errors.Is(err, services.ErrNotFound):
		api.RespondError(w, http.StatusNotFound, "Incident not found")
	case errors.Is(err, workflow.ErrInvalidCandidate):
		api.RespondErrorWithCode(w, http.StatusUnprocessableEntity, "invalid_candidate", err.Error())
	case errors.Is(err, workflow.ErrUnknownProject):
		api.RespondErrorWithCode(w, http.StatusUnprocessableEntity, "unknown_project", err.Error())
	case errors.Is(err, workflow.ErrProjectDisabled):
		api.RespondErrorWithCode(w, http.StatusConflict, "project_disabled", err.Error())
	case errors.Is(err, workflow.ErrShuttingDown):
		api.RespondError(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		log.Printf("API: request failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Internal error")
	}
}

// parseStatus validates an optional status query parameter
func parseStatus(value string) (database.IncidentStatus, bool) {
	status := database.IncidentStatus(value)
	switch status {
	case "", database.IncidentStatusOpen, database.IncidentStatusRCAInProgress,
		database.IncidentStatusPatchInProgress, database.IncidentStatusAwaitingApproval,
		database.IncidentStatusVerifyInProgress, database.IncidentStatusPRCreationInProgress,
		database.IncidentStatusResolved, database.IncidentStatusFailed:
		return status, true
	}
	return "", false
}

// parseBool accepts the strconv forms; anything else is false
func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}
