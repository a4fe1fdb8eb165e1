package testhelpers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/llm"
	"github.com/akmatori/autoheal/internal/output"
	"github.com/akmatori/autoheal/internal/sandbox"
)

func TestHTTPTestContext_WithHeaders(t *testing.T) {
	ctx := NewHTTPTestContext(t, http.MethodGet, "/test", nil).
		WithAPIKey("key-1").
		WithBearerToken("tok")

	if got := ctx.Request.Header.Get("X-API-Key"); got != "key-1" {
		t.Errorf("X-API-Key = %q", got)
	}
	if got := ctx.Request.Header.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestHTTPTestContext_WithJSONBodyKeepsHeaders(t *testing.T) {
	ctx := NewHTTPTestContext(t, http.MethodPost, "/test", nil).
		WithAPIKey("key-1").
		WithJSONBody(map[string]string{"key": "value"})

	if ctx.Request.Header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
	if ctx.Request.Header.Get("X-API-Key") != "key-1" {
		t.Error("API key header lost after setting body")
	}
}

func TestHTTPTestContext_ExecuteAndDecode(t *testing.T) {
	ctx := NewHTTPTestContext(t, http.MethodGet, "/test", nil)
	ctx.ExecuteFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
	}).AssertStatus(http.StatusOK).AssertBodyContains(`"ok"`)

	var result map[string]string
	ctx.DecodeJSON(&result)
	if result["result"] != "ok" {
		t.Errorf("expected result 'ok', got %q", result["result"])
	}
}

func TestNewTestDB(t *testing.T) {
	db := NewTestDB(t)
	project := NewProjectBuilder().Build()
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	inc := NewIncidentBuilder().Build()
	if err := db.Create(inc).Error; err != nil {
		t.Fatalf("create incident: %v", err)
	}
}

func TestIncidentBuilder(t *testing.T) {
	a := NewIncidentBuilder().WithMessage("boom").Build()
	b := NewIncidentBuilder().WithMessage("boom").WithProject("billing").Build()

	if a.ID == b.ID {
		t.Error("builders should assign distinct ids")
	}
	if a.Fingerprint == b.Fingerprint {
		t.Error("fingerprint should depend on project")
	}
	if b.Metadata.ProjectID != "billing" {
		t.Errorf("metadata project = %q", b.Metadata.ProjectID)
	}
	if a.Metadata.Repository() != "acme/checkout" {
		t.Errorf("repository = %q", a.Metadata.Repository())
	}
	if NewIncidentBuilder().WithoutRepository().Build().Metadata.Repository() != "" {
		t.Error("expected no repository")
	}
}

func TestProjectBuilder(t *testing.T) {
	p := NewProjectBuilder().WithID("billing").WithRepository("acme", "billing").Disabled().Build()
	if p.ID != "billing" || p.Repository() != "acme/billing" || p.Enabled {
		t.Errorf("unexpected project %+v", p)
	}
}

func TestSlackSettingsBuilder(t *testing.T) {
	s := NewSlackSettingsBuilder().WithTokens("xoxb", "secret", "xapp").Build()
	if !s.IsConfigured() || s.IsActive() {
		t.Error("expected configured but inactive settings")
	}
	s = NewSlackSettingsBuilder().WithTokens("xoxb", "secret", "xapp").Enabled().Build()
	if !s.IsActive() {
		t.Error("expected active settings")
	}
}

func TestFakeReasoner_PatchSequence(t *testing.T) {
	r := NewFakeReasoner()
	r.Patches = []*database.Patch{SamplePatch("first"), SamplePatch("second")}
	ic := llm.IncidentContext{}

	p1, _ := r.GeneratePatch(context.Background(), ic, nil)
	p2, _ := r.GeneratePatch(context.Background(), ic, []string{"FAIL"})
	p3, _ := r.GeneratePatch(context.Background(), ic, []string{"FAIL again"})

	if p1.Explanation != "first" || p2.Explanation != "second" || p3.Explanation != "second" {
		t.Errorf("unexpected sequence %q %q %q", p1.Explanation, p2.Explanation, p3.Explanation)
	}
	calls := r.PatchCalls()
	if len(calls) != 3 || calls[0] != nil || calls[2][0] != "FAIL again" {
		t.Errorf("unexpected recorded calls %v", calls)
	}
}

func TestFakeVerifier_Outcomes(t *testing.T) {
	v := NewFakeVerifier(false, true)
	var streamed int
	onLog := func(string) { streamed++ }

	r1, err := v.Verify(context.Background(), sandbox.Request{IncidentID: "a"}, onLog)
	if err != nil || r1.Success {
		t.Fatalf("first attempt should fail, got %+v %v", r1, err)
	}
	r2, _ := v.Verify(context.Background(), sandbox.Request{IncidentID: "a"}, onLog)
	if !r2.Success {
		t.Error("second attempt should pass")
	}
	if v.Calls() != 2 || streamed != 2 {
		t.Errorf("calls=%d streamed=%d", v.Calls(), streamed)
	}

	v.Errs = []error{errors.New("sandbox down")}
	if _, err := v.Verify(context.Background(), sandbox.Request{}, nil); err == nil {
		t.Error("expected scripted error")
	}
}

func TestFakeNotifier_Records(t *testing.T) {
	n := &FakeNotifier{}
	ref, err := n.SendDecisionRequest(context.Background(), "C1", output.DecisionSummary{IncidentID: "i1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.ReplyInThread(context.Background(), *ref, "approved"); err != nil {
		t.Fatal(err)
	}
	msgs := n.Messages()
	if len(msgs) != 2 || len(n.DecisionRequests()) != 1 {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[1].ThreadOf == nil || msgs[1].ThreadOf.Timestamp != ref.Timestamp {
		t.Error("reply should be threaded under the request")
	}
}

func TestFakeSecrets(t *testing.T) {
	s := NewFakeSecrets().Set("p1", database.SecretKindGitHubToken, "ghp_x")
	v, ok, err := s.Get(context.Background(), "p1", database.SecretKindGitHubToken)
	if err != nil || !ok || v != "ghp_x" {
		t.Errorf("Get = %q %v %v", v, ok, err)
	}
	if _, ok, _ := s.Get(context.Background(), "p2", database.SecretKindGitHubToken); ok {
		t.Error("unexpected secret for other project")
	}
}

func TestConcurrentTest(t *testing.T) {
	var n int64
	ConcurrentTest(t, 10, func(int) { atomic.AddInt64(&n, 1) })
	if n != 10 {
		t.Errorf("expected 10 runs, got %d", n)
	}
}

func TestMustCompleteWithin_Success(t *testing.T) {
	MustCompleteWithin(t, time.Second, func() {
		time.Sleep(10 * time.Millisecond)
	})
}

func TestEventually(t *testing.T) {
	start := time.Now()
	Eventually(t, time.Second, func() bool { return time.Since(start) > 20*time.Millisecond }, "timer")
}
