package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/akmatori/autoheal/internal/cache"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/middleware"
	"github.com/akmatori/autoheal/internal/services"
	"github.com/akmatori/autoheal/internal/workflow"
)

// candidateFromRequest converts a validated submission
func candidateFromRequest(req api.SubmitIncidentRequest) workflow.Candidate {
	return workflow.Candidate{
		Title:          strings.TrimSpace(req.Title),
		Message:        req.Message,
		Source:         database.IncidentSource(req.Source),
		Severity:       database.Severity(req.Severity),
		ProjectID:      req.ProjectID,
		ErrorSource:    req.ErrorSource,
		RawError:       req.RawError,
		VerifyEnv:      req.VerifyEnv,
		Branch:         req.Branch,
		CredentialsRef: req.CredentialsRef,
	}
}

// submit decodes, validates and submits a candidate. defaultSource fills an
// empty source field.
func submit(w http.ResponseWriter, r *http.Request, engine *workflow.Engine, defaultSource database.IncidentSource) {
	var req api.SubmitIncidentRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = string(defaultSource)
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	result, err := engine.SubmitIncident(r.Context(), candidateFromRequest(req))
	if err != nil {
		respondWorkflowError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	api.RespondJSON(w, status, api.SubmitIncidentResponse{
		IncidentID: result.IncidentID,
		Duplicate:  result.Duplicate,
	})
}

// handleSubmitIncident handles POST /api/incidents
func (h *APIHandler) handleSubmitIncident(w http.ResponseWriter, r *http.Request) {
	submit(w, r, h.engine, database.IncidentSourceManual)
}

// handleListIncidents handles GET /api/incidents from the active-incident cache
func (h *APIHandler) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, ok := parseStatus(q.Get("status"))
	if !ok {
		api.RespondValidationError(w, map[string]string{"status": "unknown status"})
		return
	}

	incidents := h.engine.ListActiveIncidents(cache.Filter{
		ProjectID:       q.Get("project"),
		Status:          status,
		IncludeTerminal: parseBool(q.Get("include_terminal")),
	})
	api.RespondJSON(w, http.StatusOK, api.IncidentsToListItems(incidents))
}

// handleIncidentHistory handles GET /api/incidents/history, a paginated
// store query including terminal incidents
func (h *APIHandler) handleIncidentHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, ok := parseStatus(q.Get("status"))
	if !ok {
		api.RespondValidationError(w, map[string]string{"status": "unknown status"})
		return
	}
	params := api.ParsePagination(r)

	incidents, total, err := h.store.List(r.Context(), services.IncidentFilter{
		ProjectID:       q.Get("project"),
		Status:          status,
		IncludeTerminal: true,
		Limit:           params.PerPage,
		Offset:          params.Offset(),
	})
	if err != nil {
		respondWorkflowError(w, err)
		return
	}

	api.RespondJSON(w, http.StatusOK, params.Paginate(api.IncidentsToListItems(incidents), total))
}

// handleGetIncident handles GET /api/incidents/{id}
func (h *APIHandler) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	api.RespondJSON(w, http.StatusOK, api.IncidentToResponse(*incident))
}

// handleIncidentRuns handles GET /api/incidents/{id}/runs
func (h *APIHandler) handleIncidentRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.engine.Runs(r.Context(), r.PathValue("id"))
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	if runs == nil {
		runs = []database.AgentRun{}
	}
	api.RespondJSON(w, http.StatusOK, runs)
}

// handleApprove handles POST /api/incidents/{id}/approve. Approving an
// incident that is no longer awaiting approval is a no-op.
func (h *APIHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.engine.Approve(r.Context(), r.PathValue("id"), middleware.GetUserFromContext(r.Context()))
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondDecision(w, outcome)
}

// handleReject handles POST /api/incidents/{id}/reject with an optional reason
func (h *APIHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req api.RejectIncidentRequest
	if err := api.DecodeJSON(r, &req); err != nil && !errors.Is(err, api.ErrEmptyBody) {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	outcome, err := h.engine.Reject(r.Context(), r.PathValue("id"), middleware.GetUserFromContext(r.Context()), req.Reason)
	if err != nil {
		respondWorkflowError(w, err)
		return
	}
	respondDecision(w, outcome)
}

func respondDecision(w http.ResponseWriter, outcome workflow.Outcome) {
	resp := api.DecisionResponse{Applied: outcome.Applied}
	if outcome.Incident != nil {
		resp.Incident = api.IncidentToResponse(*outcome.Incident)
	}
	api.RespondJSON(w, http.StatusOK, resp)
}
