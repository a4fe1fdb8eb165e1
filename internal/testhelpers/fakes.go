package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/akmatori/autoheal/internal/database"
	"github.com/akmatori/autoheal/internal/github"
	"github.com/akmatori/autoheal/internal/llm"
	"github.com/akmatori/autoheal/internal/output"
	"github.com/akmatori/autoheal/internal/sandbox"
)

// ========================================
// Reasoner
// ========================================

// FakeReasoner scripts root cause and patch replies
type FakeReasoner struct {
	mu sync.Mutex

	RootCause  *database.RootCause
	AnalyzeErr error
	// AnalyzePanic makes Analyze panic, for crash containment tests
	AnalyzePanic bool
	// Gate, when set, blocks Analyze until it is closed
	Gate chan struct{}

	// Patches and PatchErrs are consumed one per GeneratePatch call; the last entry repeats
	Patches   []*database.Patch
	PatchErrs []error

	analyzeCalls int
	patchCalls   [][]string
}

// NewFakeReasoner returns a reasoner that always succeeds with a one-file patch
func NewFakeReasoner() *FakeReasoner {
	return &FakeReasoner{
		RootCause: &database.RootCause{Analysis: "nil map write in cache", Hints: map[string]string{"file": "cache.go"}},
		Patches:   []*database.Patch{SamplePatch("initialize map")},
	}
}

// SamplePatch builds a single-file patch
func SamplePatch(explanation string) *database.Patch {
	return &database.Patch{
		Explanation: explanation,
		FileUpdates: []database.FileUpdate{{Path: "cache.go", Content: "package cache // " + explanation}},
	}
}

func (f *FakeReasoner) Analyze(ctx context.Context, ic llm.IncidentContext) (*database.RootCause, error) {
	f.mu.Lock()
	f.analyzeCalls++
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.AnalyzePanic {
		panic("reasoner exploded")
	}
	if f.AnalyzeErr != nil {
		return nil, f.AnalyzeErr
	}
	return f.RootCause, nil
}

func (f *FakeReasoner) GeneratePatch(ctx context.Context, ic llm.IncidentContext, priorFailureLogs []string) (*database.Patch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.patchCalls)
	f.patchCalls = append(f.patchCalls, append([]string(nil), priorFailureLogs...))

	if len(f.PatchErrs) > 0 {
		if err := f.PatchErrs[min(n, len(f.PatchErrs)-1)]; err != nil {
			return nil, err
		}
	}
	if len(f.Patches) == 0 {
		return nil, errors.New("no patch scripted")
	}
	return f.Patches[min(n, len(f.Patches)-1)], nil
}

// AnalyzeCalls returns the number of Analyze calls
func (f *FakeReasoner) AnalyzeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyzeCalls
}

// PatchCalls returns the prior failure logs passed to each GeneratePatch call
func (f *FakeReasoner) PatchCalls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.patchCalls...)
}

// ========================================
// Verifier
// ========================================

// FakeVerifier scripts verification outcomes
type FakeVerifier struct {
	mu sync.Mutex

	// Results and Errs are consumed one per Verify call; the last entry repeats
	Results []sandbox.Result
	Errs    []error

	requests []sandbox.Request
}

// NewFakeVerifier returns a verifier answering with the given outcomes in order
func NewFakeVerifier(outcomes ...bool) *FakeVerifier {
	f := &FakeVerifier{}
	for i, ok := range outcomes {
		logs := []string{fmt.Sprintf("attempt %d: PASS", i+1)}
		if !ok {
			logs = []string{fmt.Sprintf("attempt %d: --- FAIL: TestCache", i+1)}
		}
		f.Results = append(f.Results, sandbox.Result{Success: ok, Logs: logs})
	}
	return f
}

func (f *FakeVerifier) Verify(ctx context.Context, req sandbox.Request, onLog func(string)) (*sandbox.Result, error) {
	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	var err error
	if len(f.Errs) > 0 {
		err = f.Errs[min(n, len(f.Errs)-1)]
	}
	var res sandbox.Result
	if len(f.Results) > 0 {
		res = f.Results[min(n, len(f.Results)-1)]
	}
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for _, line := range res.Logs {
		if onLog != nil {
			onLog(line)
		}
	}
	out := res
	out.Logs = append([]string(nil), res.Logs...)
	return &out, nil
}

// Requests returns every request received
func (f *FakeVerifier) Requests() []sandbox.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sandbox.Request(nil), f.requests...)
}

// Calls returns the number of Verify calls
func (f *FakeVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// ========================================
// Code host
// ========================================

// FakeCodeHost records branch, commit and pull request calls. Like GitHub it
// refuses a second open pull request from the same head.
type FakeCodeHost struct {
	mu sync.Mutex

	BranchErr error
	CommitErr error
	PRErr     error

	Branches     []string
	Commits      [][]database.FileUpdate
	PullRequests []string
	Tokens       []string

	open map[string]*github.PullRequest
}

func (f *FakeCodeHost) CreateBranch(ctx context.Context, token, repo, base, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens = append(f.Tokens, token)
	if f.BranchErr != nil {
		return f.BranchErr
	}
	f.Branches = append(f.Branches, branch)
	return nil
}

func (f *FakeCodeHost) CommitFiles(ctx context.Context, token, repo, branch, message string, files []database.FileUpdate) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return "", f.CommitErr
	}
	f.Commits = append(f.Commits, files)
	return fmt.Sprintf("sha-%d", len(f.Commits)), nil
}

func (f *FakeCodeHost) CreatePullRequest(ctx context.Context, token, repo, head, base, title, body string) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PRErr != nil {
		return nil, f.PRErr
	}
	key := repo + ":" + head
	if _, exists := f.open[key]; exists {
		return nil, &github.APIError{StatusCode: 422, Message: "A pull request already exists for " + head}
	}
	f.PullRequests = append(f.PullRequests, head)
	pr := &github.PullRequest{
		Number:  len(f.PullRequests),
		HTMLURL: fmt.Sprintf("https://github.com/%s/pull/%d", repo, len(f.PullRequests)),
	}
	pr.Head.Ref = head
	if f.open == nil {
		f.open = make(map[string]*github.PullRequest)
	}
	f.open[key] = pr
	return pr, nil
}

func (f *FakeCodeHost) FindPullRequest(ctx context.Context, token, repo, head string) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[repo+":"+head], nil
}

// CommitCount returns the number of commits pushed
func (f *FakeCodeHost) CommitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commits)
}

// PullRequestCount returns the number of pull requests opened
func (f *FakeCodeHost) PullRequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.PullRequests)
}

// ========================================
// Notifier
// ========================================

// SentMessage is one recorded chat message
type SentMessage struct {
	Channel  string
	Text     string
	ThreadOf *database.MessageRef
	Decision *output.DecisionSummary
}

// FakeNotifier records chat traffic
type FakeNotifier struct {
	mu       sync.Mutex
	Err      error
	messages []SentMessage

	// OnDecisionRequest runs while a decision request is being delivered
	OnDecisionRequest func(summary output.DecisionSummary)
}

func (f *FakeNotifier) SendDecisionRequest(ctx context.Context, channel string, summary output.DecisionSummary) (*database.MessageRef, error) {
	if f.OnDecisionRequest != nil {
		f.OnDecisionRequest(summary)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := summary
	f.messages = append(f.messages, SentMessage{Channel: channel, Decision: &s})
	return &database.MessageRef{Channel: channel, Timestamp: fmt.Sprintf("1700000000.%06d", len(f.messages))}, nil
}

func (f *FakeNotifier) ReplyInThread(ctx context.Context, ref database.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	r := ref
	f.messages = append(f.messages, SentMessage{Channel: ref.Channel, Text: text, ThreadOf: &r})
	return nil
}

func (f *FakeNotifier) Notify(ctx context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.messages = append(f.messages, SentMessage{Channel: channel, Text: text})
	return nil
}

// Messages returns everything sent so far
func (f *FakeNotifier) Messages() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.messages...)
}

// DecisionRequests returns only the approval requests
func (f *FakeNotifier) DecisionRequests() []SentMessage {
	var out []SentMessage
	for _, m := range f.Messages() {
		if m.Decision != nil {
			out = append(out, m)
		}
	}
	return out
}

// ========================================
// Secrets
// ========================================

// FakeSecrets is an in-memory secret store keyed by project and kind
type FakeSecrets struct {
	mu     sync.Mutex
	values map[string]string
	Err    error
}

// NewFakeSecrets creates an empty secret store
func NewFakeSecrets() *FakeSecrets {
	return &FakeSecrets{values: make(map[string]string)}
}

// Set stores a secret
func (f *FakeSecrets) Set(projectID, kind, value string) *FakeSecrets {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[projectID+"/"+kind] = value
	return f
}

func (f *FakeSecrets) Get(ctx context.Context, projectID, kind string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", false, f.Err
	}
	v, ok := f.values[projectID+"/"+kind]
	return v, ok, nil
}
