// Package github is a small client for the GitHub REST endpoints needed to
// publish a fix: branch creation, commits through the git data API, and pull requests.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/akmatori/autoheal/internal/database"
)

// DefaultAPIURL is the public GitHub API endpoint
const DefaultAPIURL = "https://api.github.com"

// ErrUnauthorized is returned when the token is missing or rejected
var ErrUnauthorized = errors.New("github: unauthorized")

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %d %s", e.StatusCode, e.Message)
}

// PullRequest is the subset of the pull request resource the workflow records
type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

// Client talks to the GitHub REST API with a per-call token
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new client; an empty baseURL selects DefaultAPIURL
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out interface{}) error {
	if token == "" {
		return ErrUnauthorized
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read github response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(data, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse github response: %w", err)
		}
	}
	return nil
}

type gitRef struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

func (c *Client) headSHA(ctx context.Context, token, repo, branch string) (string, error) {
	var ref gitRef
	if err := c.do(ctx, token, http.MethodGet, fmt.Sprintf("/repos/%s/git/ref/heads/%s", repo, branch), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates branch from the head of base. An existing branch is reused.
func (c *Client) CreateBranch(ctx context.Context, token, repo, base, branch string) error {
	sha, err := c.headSHA(ctx, token, repo, base)
	if err != nil {
		return fmt.Errorf("failed to resolve base branch %s: %w", base, err)
	}

	err = c.do(ctx, token, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", repo), map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		// Reference already exists, typically from an earlier interrupted attempt
		return nil
	}
	return err
}

type treeEntry struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// CommitFiles writes all files as a single commit on top of branch and returns the commit sha
func (c *Client) CommitFiles(ctx context.Context, token, repo, branch, message string, files []database.FileUpdate) (string, error) {
	if len(files) == 0 {
		return "", errors.New("github: nothing to commit")
	}

	parentSHA, err := c.headSHA(ctx, token, repo, branch)
	if err != nil {
		return "", fmt.Errorf("failed to resolve branch %s: %w", branch, err)
	}

	var parent struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.do(ctx, token, http.MethodGet, fmt.Sprintf("/repos/%s/git/commits/%s", repo, parentSHA), nil, &parent); err != nil {
		return "", fmt.Errorf("failed to load parent commit: %w", err)
	}

	entries := make([]treeEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", Content: f.Content})
	}
	var tree struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, token, http.MethodPost, fmt.Sprintf("/repos/%s/git/trees", repo), map[string]interface{}{
		"base_tree": parent.Tree.SHA,
		"tree":      entries,
	}, &tree); err != nil {
		return "", fmt.Errorf("failed to create tree: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, token, http.MethodPost, fmt.Sprintf("/repos/%s/git/commits", repo), map[string]interface{}{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{parentSHA},
	}, &commit); err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}

	if err := c.do(ctx, token, http.MethodPatch, fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, branch), map[string]interface{}{
		"sha":   commit.SHA,
		"force": false,
	}, nil); err != nil {
		return "", fmt.Errorf("failed to update branch: %w", err)
	}
	return commit.SHA, nil
}

// CreatePullRequest opens a pull request from head into base
func (c *Client) CreatePullRequest(ctx context.Context, token, repo, head, base, title, body string) (*PullRequest, error) {
	var pr PullRequest
	err := c.do(ctx, token, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repo), map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	}, &pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	return &pr, nil
}

// FindPullRequest returns the open pull request whose head is branch, or nil
func (c *Client) FindPullRequest(ctx context.Context, token, repo, branch string) (*PullRequest, error) {
	owner, _, _ := strings.Cut(repo, "/")
	query := url.Values{}
	query.Set("head", owner+":"+branch)
	query.Set("state", "open")

	var prs []PullRequest
	if err := c.do(ctx, token, http.MethodGet, fmt.Sprintf("/repos/%s/pulls?%s", repo, query.Encode()), nil, &prs); err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}
