package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/github"
	"github.com/akmatori/autoheal/internal/utils"
)

// BranchPrefix namespaces the branches created for fixes
const BranchPrefix = "autoheal"

// ErrMissingCredentials is returned when the project has no code-hosting token
var ErrMissingCredentials = errors.New("project has no code hosting token")

// PRStep publishes the verified patch as a pull request
type PRStep struct {
	host    CodeHost
	secrets SecretGetter
}

// NewPRStep creates a new PRStep
func NewPRStep(host CodeHost, secrets SecretGetter) *PRStep {
	return &PRStep{host: host, secrets: secrets}
}

func (s *PRStep) Name() database.AgentName { return database.AgentPR }

// Run creates the branch, commits the patch and opens the pull request
func (s *PRStep) Run(ctx context.Context, input StepInput) (*StepResult, error) {
	inc := input.Incident
	meta := inc.Metadata
	repo := meta.Repository()
	if repo == "" {
		return nil, errors.New("project has no repository configured")
	}
	if meta.Patch == nil || len(meta.Patch.FileUpdates) == 0 {
		return nil, errors.New("no patch to publish")
	}

	kind := meta.CredentialsRef
	if kind == "" {
		kind = database.SecretKindGitHubToken
	}
	token, ok, err := s.secrets.Get(ctx, inc.ProjectID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load code hosting token: %w", err)
	}
	if !ok {
		return nil, ErrMissingCredentials
	}

	base := meta.BaseBranch
	if base == "" {
		base = "main"
	}
	branch := meta.Branch
	if branch == "" {
		branch = utils.BranchName(BranchPrefix, inc.ID)
	}

	input.log(fmt.Sprintf("creating branch %s from %s", branch, base))
	if err := s.host.CreateBranch(ctx, token, repo, base, branch); err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}

	title := "fix: " + utils.TruncateText(inc.Title, 72)
	if meta.PatchCommitSHA != "" {
		input.log(fmt.Sprintf("patch already committed as %s", meta.PatchCommitSHA))
	} else {
		sha, err := s.host.CommitFiles(ctx, token, repo, branch, title, meta.Patch.FileUpdates)
		if err != nil {
			return nil, fmt.Errorf("failed to commit patch: %w", err)
		}
		if err := input.checkpoint(func(m *database.IncidentMetadata) { m.PatchCommitSHA = sha }); err != nil {
			input.log(fmt.Sprintf("failed to record commit %s: %v", sha, err))
		}
	}

	pr, err := s.openPullRequest(ctx, token, repo, branch, base, title, pullRequestBody(inc))
	if err != nil {
		return nil, err
	}
	input.log("pull request " + pr.HTMLURL)

	return &StepResult{
		Thoughts: "opened " + pr.HTMLURL,
		Output: database.JSONB{
			"url":    pr.HTMLURL,
			"number": pr.Number,
			"branch": branch,
		},
		PullRequest: pr,
		Branch:      branch,
	}, nil
}

// openPullRequest reuses an open pull request from branch, which exists when an
// interrupted run already got this far
func (s *PRStep) openPullRequest(ctx context.Context, token, repo, branch, base, title, body string) (*github.PullRequest, error) {
	if pr, err := s.host.FindPullRequest(ctx, token, repo, branch); err == nil && pr != nil {
		return pr, nil
	}

	pr, err := s.host.CreatePullRequest(ctx, token, repo, branch, base, title, body)
	if err == nil {
		return pr, nil
	}
	// Lost a race with another opener; GitHub answers 422 for the duplicate
	if existing, findErr := s.host.FindPullRequest(ctx, token, repo, branch); findErr == nil && existing != nil {
		return existing, nil
	}
	return nil, err
}

func pullRequestBody(inc *database.Incident) string {
	meta := inc.Metadata
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Automated fix for incident `%s`.\n\n", inc.ID))
	if !meta.RootCause.IsEmpty() {
		sb.WriteString("## Root cause\n\n")
		sb.WriteString(meta.RootCause.Analysis)
		sb.WriteString("\n\n")
	}
	if meta.Patch != nil && meta.Patch.Explanation != "" {
		sb.WriteString("## Change\n\n")
		sb.WriteString(meta.Patch.Explanation)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Verification attempts: %d\n", meta.VerifyAttempts))
	if meta.ApprovedBy != "" {
		sb.WriteString(fmt.Sprintf("Approved by: %s\n", meta.ApprovedBy))
	}
	return sb.String()
}
