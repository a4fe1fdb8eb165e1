package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     interface{}
		wantBody string
	}{
		{"accepted submission", http.StatusAccepted, SubmitIncidentResponse{IncidentID: "inc-1"}, `{"incident_id":"inc-1","duplicate":false}`},
		{"empty list", http.StatusOK, []IncidentListItem{}, `[]`},
		{"nil data", http.StatusOK, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondJSON(w, tt.status, tt.data)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if got := strings.TrimSuffix(w.Body.String(), "\n"); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return resp
}

func TestRespondError_Variants(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(w http.ResponseWriter)
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{
			name:       "plain",
			respond:    func(w http.ResponseWriter) { RespondError(w, http.StatusNotFound, "Incident not found") },
			wantStatus: http.StatusNotFound,
			wantError:  "Incident not found",
		},
		{
			name: "with code",
			respond: func(w http.ResponseWriter) {
				RespondErrorWithCode(w, http.StatusConflict, "project_disabled", "project is disabled")
			},
			wantStatus: http.StatusConflict,
			wantCode:   "project_disabled",
			wantError:  "project is disabled",
		},
		{
			name: "validation",
			respond: func(w http.ResponseWriter) {
				RespondValidationError(w, map[string]string{"message": "is required"})
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_error",
			wantError:  "Validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.respond(w)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp := decodeError(t, w)
			if resp.Error != tt.wantError || resp.Code != tt.wantCode {
				t.Errorf("envelope = %+v", resp)
			}
		})
	}
}

func TestRespondValidationError_Details(t *testing.T) {
	w := httptest.NewRecorder()
	RespondValidationError(w, map[string]string{"project_id": "is required", "severity": "must be one of: INFO WARNING CRITICAL"})

	resp := decodeError(t, w)
	if len(resp.Details) != 2 || resp.Details["project_id"] != "is required" {
		t.Errorf("details = %v", resp.Details)
	}
}

func TestRespondError_EchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")
	RespondError(w, http.StatusInternalServerError, "Internal error")

	if got := decodeError(t, w).RequestID; got != "req-123" {
		t.Errorf("request_id = %q, want req-123", got)
	}
}

func TestErrorResponse_OmitsEmptyFields(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, http.StatusBadRequest, "bad")

	body := w.Body.String()
	for _, field := range []string{"code", "details", "request_id"} {
		if strings.Contains(body, `"`+field+`"`) {
			t.Errorf("body %s should omit %s", body, field)
		}
	}
}

func TestRespondNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	RespondNoContent(w)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
}
