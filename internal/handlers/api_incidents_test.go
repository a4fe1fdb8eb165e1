package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/akmatori/autoheal/internal/api"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/testhelpers"
)

func (s *testServer) submit(errorSource string) api.SubmitIncidentResponse {
	s.t.Helper()
	var resp api.SubmitIncidentResponse
	s.do(http.MethodPost, "/api/incidents", submission(errorSource)).
		AssertStatus(http.StatusAccepted).
		DecodeJSON(&resp)
	s.wait()
	return resp
}

func (s *testServer) incident(id string) api.IncidentResponse {
	s.t.Helper()
	var resp api.IncidentResponse
	s.do(http.MethodGet, "/api/incidents/"+id, nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)
	return resp
}

func TestSubmitIncident_SelfHealingPathResolves(t *testing.T) {
	s := newTestServer(t, false, true)

	resp := s.submit(database.ErrorSourceCICD)
	if resp.IncidentID == "" || resp.Duplicate {
		t.Fatalf("unexpected submit response %+v", resp)
	}

	inc := s.incident(resp.IncidentID)
	if inc.Status != database.IncidentStatusResolved {
		t.Fatalf("status = %s, want RESOLVED (%s)", inc.Status, inc.StatusMessage)
	}
	if inc.VerifyAttempts != 2 {
		t.Errorf("verify_attempts = %d, want 2", inc.VerifyAttempts)
	}
	if !strings.HasPrefix(inc.PullRequestURL, "https://github.com/acme/checkout/pull/") {
		t.Errorf("pull_request_url = %q", inc.PullRequestURL)
	}
	if len(inc.VerifyEnvKeys) != 1 || inc.VerifyEnvKeys[0] != "DB_PASSWORD" {
		t.Errorf("verify_env_keys = %v, want [DB_PASSWORD]", inc.VerifyEnvKeys)
	}

	// The stored token is decrypted for the code host
	if got := s.host.Tokens; len(got) == 0 || got[0] != "ghp_test_token" {
		t.Errorf("code host tokens = %v", got)
	}
}

func TestSubmitIncident_ResponseNeverLeaksEnvValues(t *testing.T) {
	s := newTestServer(t, true)
	resp := s.submit(database.ErrorSourceCICD)

	ctx := s.do(http.MethodGet, "/api/incidents/"+resp.IncidentID, nil).AssertStatus(http.StatusOK)
	if strings.Contains(ctx.Recorder.Body.String(), "hunter2-very-secret") {
		t.Error("incident response leaked a verify_env value")
	}
}

func TestSubmitIncident_Duplicate(t *testing.T) {
	s := newTestServer(t, true)

	// Awaiting approval keeps the incident open for deduplication
	first := s.submit(database.ErrorSourceProduction)

	var second api.SubmitIncidentResponse
	s.do(http.MethodPost, "/api/incidents", submission(database.ErrorSourceProduction)).
		AssertStatus(http.StatusOK).
		DecodeJSON(&second)

	if !second.Duplicate {
		t.Fatal("second submission should be a duplicate")
	}
	if second.IncidentID != first.IncidentID {
		t.Errorf("duplicate id = %s, want %s", second.IncidentID, first.IncidentID)
	}
	if got := s.incident(first.IncidentID).OccurrenceCount; got != 2 {
		t.Errorf("occurrence_count = %d, want 2", got)
	}
}

func TestSubmitIncident_Rejections(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		mutate     func(map[string]interface{})
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing message",
			mutate:     func(b map[string]interface{}) { delete(b, "message") },
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_error",
		},
		{
			name:       "unknown severity",
			mutate:     func(b map[string]interface{}) { b["severity"] = "SEV1" },
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_error",
		},
		{
			name:       "unknown error source",
			mutate:     func(b map[string]interface{}) { b["error_source"] = "staging" },
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_error",
		},
		{
			name:       "unknown project",
			mutate:     func(b map[string]interface{}) { b["project_id"] = "nope" },
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "unknown_project",
		},
		{
			name:       "unknown field",
			mutate:     func(b map[string]interface{}) { b["host"] = "web-01" },
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := submission(database.ErrorSourceCICD)
			tt.mutate(body)

			var errResp api.ErrorResponse
			s.do(http.MethodPost, "/api/incidents", body).
				AssertStatus(tt.wantStatus).
				DecodeJSON(&errResp)
			if errResp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", errResp.Code, tt.wantCode)
			}
		})
	}
}

func TestSubmitIncident_DisabledProject(t *testing.T) {
	s := newTestServer(t)
	disabled := false
	s.do(http.MethodPut, "/api/projects/"+testProject, map[string]interface{}{"enabled": disabled}).
		AssertStatus(http.StatusOK)

	var errResp api.ErrorResponse
	s.do(http.MethodPost, "/api/incidents", submission(database.ErrorSourceCICD)).
		AssertStatus(http.StatusConflict).
		DecodeJSON(&errResp)
	if errResp.Code != "project_disabled" {
		t.Errorf("code = %q, want project_disabled", errResp.Code)
	}
}

func TestSubmitIncident_RequiresOperatorToken(t *testing.T) {
	s := newTestServer(t)

	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/api/incidents", nil).
		WithJSONBody(submission(database.ErrorSourceCICD)).
		Execute(s.handler).
		AssertStatus(http.StatusUnauthorized)
}

func TestListIncidents(t *testing.T) {
	s := newTestServer(t, true)
	awaiting := s.submit(database.ErrorSourceProduction)

	other := submission(database.ErrorSourceCICD)
	other["message"] = "TypeError: cannot read properties of undefined (reading 'id')"
	var resolved api.SubmitIncidentResponse
	s.do(http.MethodPost, "/api/incidents", other).AssertStatus(http.StatusAccepted).DecodeJSON(&resolved)
	s.wait()

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"active only", "", []string{awaiting.IncidentID}},
		{"include terminal", "?include_terminal=true", []string{resolved.IncidentID, awaiting.IncidentID}},
		{"by status", "?status=RESOLVED", []string{resolved.IncidentID}},
		{"other project", "?project=billing&include_terminal=true", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var items []api.IncidentListItem
			s.do(http.MethodGet, "/api/incidents"+tt.query, nil).
				AssertStatus(http.StatusOK).
				DecodeJSON(&items)
			if len(items) != len(tt.wantIDs) {
				t.Fatalf("got %d incidents, want %d", len(items), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if items[i].ID != id {
					t.Errorf("items[%d] = %s, want %s", i, items[i].ID, id)
				}
			}
		})
	}

	s.do(http.MethodGet, "/api/incidents?status=DONE", nil).AssertStatus(http.StatusUnprocessableEntity)
}

func TestIncidentHistory_Paginates(t *testing.T) {
	s := newTestServer(t, true)
	for i := 0; i < 3; i++ {
		body := submission(database.ErrorSourceCICD)
		body["message"] = fmt.Sprintf("distinct failure number %d in module %c", i, 'a'+i)
		s.do(http.MethodPost, "/api/incidents", body).AssertStatus(http.StatusAccepted)
	}
	s.wait()

	var page struct {
		Data       []api.IncidentListItem `json:"data"`
		Pagination api.PaginationMeta     `json:"pagination"`
	}
	s.do(http.MethodGet, "/api/incidents/history?per_page=2&page=2", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&page)

	if page.Pagination.Total != 3 || page.Pagination.TotalPages != 2 {
		t.Errorf("pagination = %+v", page.Pagination)
	}
	if len(page.Data) != 1 {
		t.Errorf("page 2 has %d incidents, want 1", len(page.Data))
	}
}

func TestGetIncident_NotFound(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/incidents/3f1c1a4e-0000-4000-8000-000000000000", nil).
		AssertStatus(http.StatusNotFound)
	s.do(http.MethodGet, "/api/incidents/3f1c1a4e-0000-4000-8000-000000000000/runs", nil).
		AssertStatus(http.StatusNotFound)
}

func TestIncidentRuns(t *testing.T) {
	s := newTestServer(t, true)
	resp := s.submit(database.ErrorSourceCICD)

	var runs []database.AgentRun
	s.do(http.MethodGet, "/api/incidents/"+resp.IncidentID+"/runs", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&runs)

	want := []database.AgentName{database.AgentRCA, database.AgentPatch, database.AgentVerify, database.AgentPR}
	if len(runs) != len(want) {
		t.Fatalf("got %d runs, want %d", len(runs), len(want))
	}
	for i, agent := range want {
		if runs[i].AgentName != agent {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].AgentName, agent)
		}
	}
}

func TestApproveIncident(t *testing.T) {
	s := newTestServer(t, true)
	resp := s.submit(database.ErrorSourceProduction)

	if got := s.incident(resp.IncidentID).Status; got != database.IncidentStatusAwaitingApproval {
		t.Fatalf("status = %s, want AWAITING_APPROVAL", got)
	}

	var decision api.DecisionResponse
	s.do(http.MethodPost, "/api/incidents/"+resp.IncidentID+"/approve", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&decision)
	if !decision.Applied {
		t.Fatal("first approval should apply")
	}
	s.wait()

	inc := s.incident(resp.IncidentID)
	if inc.Status != database.IncidentStatusResolved {
		t.Fatalf("status = %s, want RESOLVED (%s)", inc.Status, inc.StatusMessage)
	}
	if inc.ApprovedBy != "alice" {
		t.Errorf("approved_by = %q, want alice", inc.ApprovedBy)
	}

	// A second approval is a no-op
	s.do(http.MethodPost, "/api/incidents/"+resp.IncidentID+"/approve", nil).
		AssertStatus(http.StatusOK).
		DecodeJSON(&decision)
	if decision.Applied {
		t.Error("second approval should not apply")
	}
	if s.verifier.Calls() != 1 {
		t.Errorf("verifier calls = %d, want 1", s.verifier.Calls())
	}
}

func TestRejectIncident(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantReason string
	}{
		{"with reason", map[string]string{"reason": "wrong fix"}, "wrong fix"},
		{"without body", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, true)
			resp := s.submit(database.ErrorSourceProduction)

			var decision api.DecisionResponse
			s.do(http.MethodPost, "/api/incidents/"+resp.IncidentID+"/reject", tt.body).
				AssertStatus(http.StatusOK).
				DecodeJSON(&decision)
			if !decision.Applied {
				t.Fatal("rejection should apply")
			}
			if decision.Incident.Status != database.IncidentStatusResolved {
				t.Errorf("status = %s, want RESOLVED", decision.Incident.Status)
			}
			if decision.Incident.RejectedBy != "alice" {
				t.Errorf("rejected_by = %q, want alice", decision.Incident.RejectedBy)
			}
			if decision.Incident.RejectionReason != tt.wantReason {
				t.Errorf("rejection_reason = %q, want %q", decision.Incident.RejectionReason, tt.wantReason)
			}
			if s.host.PullRequestCount() != 0 {
				t.Error("a rejected incident must not open a pull request")
			}
		})
	}
}

func TestDecision_UnknownIncident(t *testing.T) {
	s := newTestServer(t)
	for _, action := range []string{"approve", "reject"} {
		t.Run(action, func(t *testing.T) {
			s.do(http.MethodPost, "/api/incidents/3f1c1a4e-0000-4000-8000-000000000000/"+action, nil).
				AssertStatus(http.StatusNotFound)
		})
	}
}
