// Package executor holds the step executors the workflow drives: root cause
// analysis, patch generation, sandboxed verification and pull request creation.
package executor

import (
	"context"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/github"
	"github.com/akmatori/autoheal/internal/llm"
	"github.com/akmatori/autoheal/internal/sandbox"
)

// Reasoner produces root cause analyses and patches
type Reasoner interface {
	Analyze(ctx context.Context, ic llm.IncidentContext) (*database.RootCause, error)
	GeneratePatch(ctx context.Context, ic llm.IncidentContext, priorFailureLogs []string) (*database.Patch, error)
}

// Verifier applies a patch in isolation and runs the project's checks
type Verifier interface {
	Verify(ctx context.Context, req sandbox.Request, onLog func(string)) (*sandbox.Result, error)
}

// CodeHost publishes a verified patch as a pull request
type CodeHost interface {
	CreateBranch(ctx context.Context, token, repo, base, branch string) error
	CommitFiles(ctx context.Context, token, repo, branch, message string, files []database.FileUpdate) (string, error)
	CreatePullRequest(ctx context.Context, token, repo, head, base, title, body string) (*github.PullRequest, error)
	// FindPullRequest returns the open pull request from head, or nil when there is none
	FindPullRequest(ctx context.Context, token, repo, head string) (*github.PullRequest, error)
}

// SecretGetter resolves per-project credentials
type SecretGetter interface {
	Get(ctx context.Context, projectID, kind string) (string, bool, error)
}

// StepInput is what a step sees of the incident
type StepInput struct {
	Incident *database.Incident
	Attempt  int
	// PriorFailureLogs carries the previous verification logs into a patch regeneration
	PriorFailureLogs []string
	// OnLog receives streamed log lines; may be nil
	OnLog func(line string)
	// Checkpoint persists progress a resumed step must not repeat; may be nil
	Checkpoint func(mutate func(meta *database.IncidentMetadata)) error
}

func (in StepInput) log(line string) {
	if in.OnLog != nil {
		in.OnLog(line)
	}
}

func (in StepInput) checkpoint(mutate func(meta *database.IncidentMetadata)) error {
	if in.Checkpoint == nil {
		return nil
	}
	return in.Checkpoint(mutate)
}

// StepResult is the outcome of one step execution.
// Only the field matching the step kind is set.
type StepResult struct {
	Thoughts    string
	Output      database.JSONB
	RootCause   *database.RootCause
	Patch       *database.Patch
	Verify      *sandbox.Result
	PullRequest *github.PullRequest
	Branch      string
}

// Step is one stage of the remediation workflow
type Step interface {
	Name() database.AgentName
	Run(ctx context.Context, input StepInput) (*StepResult, error)
}
