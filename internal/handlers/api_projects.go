package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/secrets"
	"github.com/akmatori/autoheal/internal/services"
	"gorm.io/gorm"
)

// projectResponse attaches the stored secret kinds to a project
func (h *APIHandler) projectResponse(r *http.Request, project *database.Project) (api.ProjectResponse, error) {
	resp := api.ProjectResponse{Project: *project, SecretKinds: []string{}}
	if h.secrets == nil {
		return resp, nil
	}
	kinds, err := h.secrets.Kinds(r.Context(), project.ID)
	if err != nil {
		return resp, err
	}
	if kinds != nil {
		resp.SecretKinds = kinds
	}
	return resp, nil
}

// handleListProjects handles GET /api/projects
func (h *APIHandler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		log.Printf("API: failed to list projects: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}
	if projects == nil {
		projects = []database.Project{}
	}
	api.RespondJSON(w, http.StatusOK, projects)
}

// handleCreateProject handles POST /api/projects
func (h *APIHandler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProjectRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	project := &database.Project{
		ID:           req.ID,
		Name:         req.Name,
		RepoOwner:    req.RepoOwner,
		RepoName:     req.RepoName,
		BaseBranch:   req.BaseBranch,
		SlackChannel: req.SlackChannel,
		Enabled:      true,
	}
	if err := h.projects.Create(r.Context(), project); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			api.RespondErrorWithCode(w, http.StatusConflict, "duplicate_project", "Project already exists")
			return
		}
		log.Printf("API: failed to create project %s: %v", req.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	// gorm skips zero-value fields on insert, so a disabled project needs an update
	if req.Enabled != nil && !*req.Enabled {
		updated, err := h.projects.Update(r.Context(), project.ID, services.ProjectUpdate{Enabled: req.Enabled})
		if err != nil {
			log.Printf("API: failed to disable project %s: %v", req.ID, err)
			api.RespondError(w, http.StatusInternalServerError, "Failed to create project")
			return
		}
		project = updated
	}

	log.Printf("API: created project %s", project.ID)
	resp, err := h.projectResponse(r, project)
	if err != nil {
		log.Printf("API: failed to list secret kinds for %s: %v", project.ID, err)
	}
	api.RespondJSON(w, http.StatusCreated, resp)
}

// handleGetProject handles GET /api/projects/{id}
func (h *APIHandler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, services.ErrNotFound) {
		api.RespondError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		log.Printf("API: failed to get project: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}

	resp, err := h.projectResponse(r, project)
	if err != nil {
		log.Printf("API: failed to list secret kinds for %s: %v", project.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handleUpdateProject handles PUT /api/projects/{id}
func (h *APIHandler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateProjectRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	project, err := h.projects.Update(r.Context(), r.PathValue("id"), services.ProjectUpdate{
		Name:         req.Name,
		RepoOwner:    req.RepoOwner,
		RepoName:     req.RepoName,
		BaseBranch:   req.BaseBranch,
		SlackChannel: req.SlackChannel,
		Enabled:      req.Enabled,
	})
	if errors.Is(err, services.ErrNotFound) {
		api.RespondError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		log.Printf("API: failed to update project: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to update project")
		return
	}

	resp, err := h.projectResponse(r, project)
	if err != nil {
		log.Printf("API: failed to list secret kinds for %s: %v", project.ID, err)
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

// handlePutSecret handles PUT /api/projects/{id}/secrets/{kind}. The value is
// write-only.
func (h *APIHandler) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	if h.secrets == nil {
		api.RespondError(w, http.StatusServiceUnavailable, "Secret store is not configured")
		return
	}

	projectID, kind := r.PathValue("id"), r.PathValue("kind")
	if !secrets.IsKnownKind(kind) {
		api.RespondErrorWithCode(w, http.StatusBadRequest, "unknown_secret_kind", "Unknown secret kind: "+kind)
		return
	}
	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			api.RespondError(w, http.StatusNotFound, "Project not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to get project")
		return
	}

	var req api.PutSecretRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := api.Validate(req); errs != nil {
		api.RespondValidationError(w, errs)
		return
	}

	if err := h.secrets.Put(r.Context(), projectID, kind, req.Value); err != nil {
		log.Printf("API: failed to store %s for project %s: %v", kind, projectID, err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to store secret")
		return
	}
	log.Printf("API: stored %s for project %s", kind, projectID)
	api.RespondNoContent(w)
}
