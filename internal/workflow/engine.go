// Package workflow drives incidents through root cause analysis, patching,
// verification and pull request creation, with an approval gate for
// production faults.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/akmatori/autoheal/internal/cache"
	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/events"
	"github.com/akmatori/autoheal/internal/executor"
	"github.com/akmatori/autoheal/internal/fingerprint"
	"github.com/akmatori/autoheal/internal/metrics"
	"github.com/akmatori/autoheal/internal/services"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrIncidentNotFound is returned for unknown incident ids
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrAlreadyRunning is returned when a workflow for the incident is already executing
	ErrAlreadyRunning = errors.New("workflow already running for incident")
	// ErrShuttingDown is returned once Shutdown has been called
	ErrShuttingDown = errors.New("workflow engine is shutting down")
	// ErrInvalidCandidate wraps candidate validation failures
	ErrInvalidCandidate = errors.New("invalid incident")
	// ErrUnknownProject is returned when a candidate names a project that does not exist
	ErrUnknownProject = errors.New("unknown project")
	// ErrProjectDisabled is returned when a candidate names a disabled project
	ErrProjectDisabled = errors.New("project is disabled")
)

// Config tunes the engine
type Config struct {
	MaxVerifyAttempts      int
	MaxConcurrentWorkflows int64
	RCATimeout             time.Duration
	PatchTimeout           time.Duration
	VerifyTimeout          time.Duration
	PRTimeout              time.Duration
	NotifyTimeout          time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxVerifyAttempts:      3,
		MaxConcurrentWorkflows: 16,
		RCATimeout:             5 * time.Minute,
		PatchTimeout:           5 * time.Minute,
		VerifyTimeout:          15 * time.Minute,
		PRTimeout:              2 * time.Minute,
		NotifyTimeout:          10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxVerifyAttempts <= 0 {
		c.MaxVerifyAttempts = d.MaxVerifyAttempts
	}
	if c.MaxConcurrentWorkflows <= 0 {
		c.MaxConcurrentWorkflows = d.MaxConcurrentWorkflows
	}
	if c.RCATimeout <= 0 {
		c.RCATimeout = d.RCATimeout
	}
	if c.PatchTimeout <= 0 {
		c.PatchTimeout = d.PatchTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = d.VerifyTimeout
	}
	if c.PRTimeout <= 0 {
		c.PRTimeout = d.PRTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

func (c Config) timeoutFor(agent database.AgentName) time.Duration {
	switch agent {
	case database.AgentRCA:
		return c.RCATimeout
	case database.AgentPatch:
		return c.PatchTimeout
	case database.AgentVerify:
		return c.VerifyTimeout
	default:
		return c.PRTimeout
	}
}

// Deps are the collaborators of an Engine. Projects and Notifier may be nil.
type Deps struct {
	Store        *services.IncidentStore
	Deduplicator *services.Deduplicator
	Projects     *services.ProjectService
	Cache        *cache.ActiveIncidents
	Hub          *events.Hub
	Notifier     Notifier

	RCA    executor.Step
	Patch  executor.Step
	Verify executor.Step
	PR     executor.Step

	Config Config
}

// flight tracks one executing workflow goroutine
type flight struct {
	rerun bool
}

// Engine owns incident workflows
type Engine struct {
	store    *services.IncidentStore
	dedup    *services.Deduplicator
	projects *services.ProjectService
	cache    *cache.ActiveIncidents
	hub      *events.Hub
	notifier Notifier

	rca, patch, verify, pr executor.Step

	cfg Config
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]*flight
	closing  bool
	wg       sync.WaitGroup
}

// New creates an Engine
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Deduplicator == nil || deps.Cache == nil || deps.Hub == nil {
		return nil, errors.New("workflow: store, deduplicator, cache and hub are required")
	}
	if deps.RCA == nil || deps.Patch == nil || deps.Verify == nil || deps.PR == nil {
		return nil, errors.New("workflow: all step executors are required")
	}

	cfg := deps.Config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:    deps.Store,
		dedup:    deps.Deduplicator,
		projects: deps.Projects,
		cache:    deps.Cache,
		hub:      deps.Hub,
		notifier: deps.Notifier,
		rca:      deps.RCA,
		patch:    deps.Patch,
		verify:   deps.Verify,
		pr:       deps.PR,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentWorkflows),
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]*flight),
	}, nil
}

// Candidate is a fault report submitted by a detector or an operator
type Candidate struct {
	Title       string
	Message     string
	Source      database.IncidentSource
	Severity    database.Severity
	ProjectID   string
	ErrorSource string
	RawError    string
	// VerifyEnv is forwarded to the sandbox with blocked variables removed
	VerifyEnv      map[string]string
	Branch         string
	CredentialsRef string
}

func (c Candidate) validate() error {
	if strings.TrimSpace(c.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidCandidate)
	}
	switch c.Source {
	case database.IncidentSourceGitHub, database.IncidentSourceJenkins,
		database.IncidentSourceProductionWatcher, database.IncidentSourceLogIngestion,
		database.IncidentSourceManual:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidCandidate, c.Source)
	}
	switch c.Severity {
	case database.SeverityInfo, database.SeverityWarning, database.SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidCandidate, c.Severity)
	}
	return nil
}

// SubmitResult reports what SubmitIncident did
type SubmitResult struct {
	IncidentID string
	Duplicate  bool
}

// SubmitIncident registers a candidate. A repeat of an open fault bumps the
// existing incident; a new fault is persisted and its workflow starts in the
// background.
func (e *Engine) SubmitIncident(ctx context.Context, c Candidate) (SubmitResult, error) {
	if err := c.validate(); err != nil {
		metrics.IncidentSubmitted(metrics.ResultError)
		return SubmitResult{}, err
	}

	meta := database.IncidentMetadata{
		ProjectID:      c.ProjectID,
		ErrorSource:    c.ErrorSource,
		RawError:       c.RawError,
		VerifyEnv:      c.VerifyEnv,
		Branch:         c.Branch,
		CredentialsRef: c.CredentialsRef,
	}
	if c.ProjectID != "" && e.projects != nil {
		project, err := e.projects.Get(ctx, c.ProjectID)
		if errors.Is(err, services.ErrNotFound) {
			metrics.IncidentSubmitted(metrics.ResultError)
			return SubmitResult{}, fmt.Errorf("%w: %s", ErrUnknownProject, c.ProjectID)
		}
		if err != nil {
			metrics.IncidentSubmitted(metrics.ResultError)
			return SubmitResult{}, err
		}
		if !project.Enabled {
			metrics.IncidentSubmitted(metrics.ResultError)
			return SubmitResult{}, fmt.Errorf("%w: %s", ErrProjectDisabled, c.ProjectID)
		}
		meta.RepoOwner = project.RepoOwner
		meta.RepoName = project.RepoName
		meta.BaseBranch = project.BaseBranch
	}

	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = services.FallbackTitle(c.Message, string(c.Source))
	}

	candidate := &database.Incident{
		Title:       title,
		Description: c.Message,
		Source:      c.Source,
		Severity:    c.Severity,
		Fingerprint: fingerprint.Compute(c.Message, c.ProjectID),
		ProjectID:   c.ProjectID,
		Metadata:    meta,
	}

	incident, duplicate, err := e.dedup.Register(ctx, candidate)
	if err != nil {
		metrics.IncidentSubmitted(metrics.ResultError)
		return SubmitResult{}, err
	}

	e.cache.Put(incident)
	if duplicate {
		metrics.IncidentSubmitted(metrics.ResultDuplicate)
		log.Printf("Workflow: repeat occurrence #%d of incident %s", incident.OccurrenceCount, incident.ID)
		e.hub.IncidentUpdated(incident, "duplicate occurrence")
		return SubmitResult{IncidentID: incident.ID, Duplicate: true}, nil
	}

	metrics.IncidentSubmitted(metrics.ResultCreated)
	metrics.Transition(string(incident.Status))
	log.Printf("Workflow: created incident %s (%s) for project %q", incident.ID, incident.Title, incident.ProjectID)
	e.hub.IncidentUpdated(incident, "incident created")

	if err := e.launch(incident.ID, false); err != nil {
		log.Printf("Workflow: failed to start incident %s: %v", incident.ID, err)
	}
	return SubmitResult{IncidentID: incident.ID}, nil
}

// ListActiveIncidents serves incident listings from the in-memory index
func (e *Engine) ListActiveIncidents(filter cache.Filter) []database.Incident {
	return e.cache.List(filter)
}

// Get returns the stored incident
func (e *Engine) Get(ctx context.Context, id string) (*database.Incident, error) {
	inc, err := e.store.Get(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		return nil, ErrIncidentNotFound
	}
	return inc, err
}

// Runs returns the agent run timeline of an incident
func (e *Engine) Runs(ctx context.Context, id string) ([]database.AgentRun, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListRuns(ctx, id)
}

// InFlight returns the number of executing workflows
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// launch starts a workflow goroutine for the incident. When one is already
// running, queue asks it to run once more after it finishes instead of failing.
func (e *Engine) launch(id string, queue bool) error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return ErrShuttingDown
	}
	if f, ok := e.inFlight[id]; ok {
		if queue {
			f.rerun = true
			e.mu.Unlock()
			log.Printf("Workflow: incident %s busy, queued follow-up run", id)
			return nil
		}
		e.mu.Unlock()
		log.Printf("Workflow: incident %s already running, ignoring launch", id)
		return ErrAlreadyRunning
	}
	e.inFlight[id] = &flight{}
	e.wg.Add(1)
	e.mu.Unlock()

	go e.execute(id)
	return nil
}

func (e *Engine) execute(id string) {
	defer e.wg.Done()
	for {
		e.runOnce(id)

		e.mu.Lock()
		f := e.inFlight[id]
		if f.rerun && e.ctx.Err() == nil {
			f.rerun = false
			e.mu.Unlock()
			continue
		}
		delete(e.inFlight, id)
		e.mu.Unlock()
		return
	}
}

func (e *Engine) runOnce(id string) {
	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		log.Printf("Workflow: incident %s not started: %v", id, err)
		return
	}
	defer e.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Workflow: panic while driving incident %s: %v\n%s", id, r, debug.Stack())
			e.failByID(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	inc, err := e.store.Get(e.ctx, id)
	if err != nil {
		log.Printf("Workflow: failed to load incident %s: %v", id, err)
		return
	}
	e.drive(e.ctx, inc)
}

// Wait blocks until every running workflow has returned
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops accepting launches, cancels running steps and waits for the
// workflow goroutines. Interrupted incidents keep their in-progress status
// and are picked up by recovery on the next start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
