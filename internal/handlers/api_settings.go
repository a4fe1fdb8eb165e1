package handlers

import (
	"log"
	"net/http"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/akmatori/autoheal/internal/database"
)

// handleGetSlackSettings handles GET /api/settings/slack
func (h *APIHandler) handleGetSlackSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := database.GetOrCreateSlackSettings(h.db.WithContext(r.Context()))
	if err != nil {
		log.Printf("API: failed to load Slack settings: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to load Slack settings")
		return
	}
	api.RespondJSON(w, http.StatusOK, api.SlackSettingsToResponse(settings, h.slackConnected()))
}

// handleUpdateSlackSettings handles PUT /api/settings/slack and hot-reloads
// the Slack connection
func (h *APIHandler) handleUpdateSlackSettings(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSlackSettingsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	db := h.db.WithContext(r.Context())
	settings, err := database.GetOrCreateSlackSettings(db)
	if err != nil {
		log.Printf("API: failed to load Slack settings: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to load Slack settings")
		return
	}

	if req.BotToken != nil {
		settings.BotToken = *req.BotToken
	}
	if req.SigningSecret != nil {
		settings.SigningSecret = *req.SigningSecret
	}
	if req.AppToken != nil {
		settings.AppToken = *req.AppToken
	}
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}

	if err := database.UpdateSlackSettings(db, settings); err != nil {
		log.Printf("API: failed to update Slack settings: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to update Slack settings")
		return
	}

	if h.slackManager != nil {
		h.slackManager.TriggerReload()
		log.Printf("Slack settings updated, triggering hot-reload")
	}

	api.RespondJSON(w, http.StatusOK, api.SlackSettingsToResponse(settings, h.slackConnected()))
}

func (h *APIHandler) slackConnected() bool {
	return h.slackManager != nil && h.slackManager.IsRunning()
}
