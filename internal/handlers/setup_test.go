package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/akmatori/autoheal/internal/cache"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
	"github.com/akmatori/autoheal/internal/executor"
	"github.com/akmatori/autoheal/internal/middleware"
	"github.com/akmatori/autoheal/internal/secrets"
	"github.com/akmatori/autoheal/internal/services"
	slackutil "github.com/akmatori/autoheal/internal/slack"
	"github.com/akmatori/autoheal/internal/testhelpers"
	"github.com/akmatori/autoheal/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	testProject  = "checkout-api"
	testAPIKey   = "ingest-key-123"
	testPassword = "s3cret"
)

// testServer is the full HTTP stack over an in-memory database and fake
// step collaborators
type testServer struct {
	t        *testing.T
	db       *gorm.DB
	handler  http.Handler
	engine   *workflow.Engine
	store    *services.IncidentStore
	hub      *events.Hub
	secrets  *secrets.Store
	jwt      *middleware.JWTAuthMiddleware
	verifier *testhelpers.FakeVerifier
	host     *testhelpers.FakeCodeHost
	notifier *testhelpers.FakeNotifier
	token    string
}

func newTestServer(t *testing.T, verifyOutcomes ...bool) *testServer {
	t.Helper()
	db := testhelpers.NewTestDB(t)

	store := services.NewIncidentStore(db)
	projects := services.NewProjectService(db)
	if err := projects.Create(context.Background(), testhelpers.NewProjectBuilder().WithID(testProject).Build()); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	secretStore, err := secrets.NewStore(db, strings.Repeat("ab", secrets.KeySize))
	if err != nil {
		t.Fatalf("failed to create secret store: %v", err)
	}
	if err := secretStore.Put(context.Background(), testProject, database.SecretKindGitHubToken, "ghp_test_token"); err != nil {
		t.Fatalf("failed to store token: %v", err)
	}

	activeCache, err := cache.NewActiveIncidents(64)
	if err != nil {
		t.Fatal(err)
	}

	s := &testServer{
		t:        t,
		db:       db,
		store:    store,
		hub:      events.NewHub(1024),
		secrets:  secretStore,
		verifier: testhelpers.NewFakeVerifier(verifyOutcomes...),
		host:     &testhelpers.FakeCodeHost{},
		notifier: &testhelpers.FakeNotifier{},
	}
	reasoner := testhelpers.NewFakeReasoner()

	s.engine, err = workflow.New(workflow.Deps{
		Store:        store,
		Deduplicator: services.NewDeduplicator(db),
		Projects:     projects,
		Cache:        activeCache,
		Hub:          s.hub,
		Notifier:     s.notifier,
		RCA:          executor.NewRCAStep(reasoner),
		Patch:        executor.NewPatchStep(reasoner),
		Verify:       executor.NewVerifyStep(s.verifier, secretStore),
		PR:           executor.NewPRStep(s.host, secretStore),
		Config:       workflow.Config{VerifyTimeout: 5 * time.Second},
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.engine.Shutdown(ctx)
	})

	hash, err := middleware.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	s.jwt = middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		Enabled:           true,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-jwt-secret",
		JWTExpiryHours:    1,
		SkipPaths:         PublicPaths,
		QueryTokenPaths:   QueryTokenPaths,
	})
	s.token, _, err = s.jwt.GenerateToken("alice")
	if err != nil {
		t.Fatal(err)
	}

	router := &Router{
		HTTP:    NewHTTPHandler(db, prometheus.NewRegistry()),
		Auth:    NewAuthHandler(s.jwt),
		API:     NewAPIHandler(s.engine, store, projects, secretStore, db, slackutil.NewManager(db)),
		Webhook: NewWebhookHandler(s.engine, middleware.NewAPIKeyAuth([]string{testAPIKey})),
		Events:  NewEventsWSHandler(s.hub),
		JWT:     s.jwt,
	}
	s.handler = router.Handler()
	return s
}

// do runs an authenticated request against the full stack
func (s *testServer) do(method, path string, body interface{}) *testhelpers.HTTPTestContext {
	s.t.Helper()
	ctx := testhelpers.NewHTTPTestContext(s.t, method, path, nil).WithBearerToken(s.token)
	if body != nil {
		ctx = ctx.WithJSONBody(body)
	}
	return ctx.Execute(s.handler)
}

func (s *testServer) wait() {
	s.t.Helper()
	testhelpers.MustCompleteWithin(s.t, 10*time.Second, s.engine.Wait)
}

func submission(errorSource string) map[string]interface{} {
	return map[string]interface{}{
		"message":      "panic: assignment to entry in nil map at cache.go:42",
		"source":       "GITHUB",
		"severity":     "CRITICAL",
		"project_id":   testProject,
		"error_source": errorSource,
		"verify_env":   map[string]string{"DB_PASSWORD": "hunter2-very-secret"},
	}
}
