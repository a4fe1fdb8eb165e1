package handlers

import (
	"net/http"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/middleware"
	"github.com/akmatori/autoheal/internal/workflow"
)

// WebhookHandler accepts incident candidates from machine detectors
type WebhookHandler struct {
	engine *workflow.Engine
	auth   *middleware.APIKeyAuth
}

// NewWebhookHandler creates a webhook handler guarded by API key auth
func NewWebhookHandler(engine *workflow.Engine, auth *middleware.APIKeyAuth) *WebhookHandler {
	return &WebhookHandler{engine: engine, auth: auth}
}

// SetupRoutes registers POST /webhook/incidents
func (h *WebhookHandler) SetupRoutes(mux *http.ServeMux) {
	mux.Handle("POST /webhook/incidents", h.auth.WrapFunc(h.handleIncident))
}

// handleIncident submits a candidate; detectors are expected to name their
// source, LOG_INGESTION is assumed otherwise
func (h *WebhookHandler) handleIncident(w http.ResponseWriter, r *http.Request) {
	submit(w, r, h.engine, database.IncidentSourceLogIngestion)
}
