package output

import (
	"strings"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/database"
)

func TestFormatDecisionRequest(t *testing.T) {
	incident := &database.Incident{
		ID:        "inc-1",
		Title:     "Checkout timeouts",
		ProjectID: "checkout",
		Severity:  database.SeverityCritical,
		Metadata: database.IncidentMetadata{
			RepoOwner: "acme",
			RepoName:  "checkout",
			RootCause: &database.RootCause{Analysis: "pool exhausted", Hints: map[string]string{"file": "pool.go"}},
			Patch: &database.Patch{
				Explanation: "release connections",
				FileUpdates: []database.FileUpdate{{Path: "pool.go", Content: "x"}},
			},
		},
	}

	text := FormatDecisionRequest(NewDecisionSummary(incident))
	for _, want := range []string{":red_circle:", "Checkout timeouts", "acme/checkout", "pool exhausted", "• file: pool.go", "`pool.go`", "release connections"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
}

func TestFormatDecisionRequest_NoRootCause(t *testing.T) {
	text := FormatDecisionRequest(DecisionSummary{IncidentID: "inc-1", Title: "x", ProjectID: "p"})
	if !strings.Contains(text, "_Not determined_") {
		t.Errorf("expected placeholder for empty root cause, got %q", text)
	}
}

func TestFormatStatusUpdate(t *testing.T) {
	failed := &database.Incident{
		Title:         "Build broken",
		Status:        database.IncidentStatusFailed,
		StatusMessage: "verification failed after 3 attempts; retries exhausted",
		Metadata:      database.IncidentMetadata{LastVerifyLogs: []string{"FAIL TestPool"}},
	}
	text := FormatStatusUpdate(failed)
	if !strings.Contains(text, "Remediation failed") || !strings.Contains(text, "FAIL TestPool") {
		t.Errorf("unexpected failure text %q", text)
	}

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resolved := &database.Incident{
		Title:     "Build broken",
		Status:    database.IncidentStatusResolved,
		CreatedAt: created,
		UpdatedAt: created.Add(2*time.Minute + 30*time.Second),
		Metadata:  database.IncidentMetadata{PullRequestURL: "https://github.com/acme/app/pull/7"},
	}
	text = FormatStatusUpdate(resolved)
	if !strings.Contains(text, "Resolved") || !strings.Contains(text, "/pull/7") {
		t.Errorf("unexpected resolved text %q", text)
	}
	if !strings.Contains(text, "(after 2m 30s)") {
		t.Errorf("resolved text should carry the elapsed time, got %q", text)
	}
}

func TestFormatDecisionReply(t *testing.T) {
	if got := FormatDecisionReply(true, "alice", ""); !strings.Contains(got, "Approved by alice") {
		t.Errorf("unexpected approve reply %q", got)
	}
	if got := FormatDecisionReply(false, "bob", "won't fix"); !strings.Contains(got, "Rejected by bob: won't fix") {
		t.Errorf("unexpected reject reply %q", got)
	}
}
