package git

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// PullRequest represents an opened GitHub pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Branch string `json:"headRefName"`
	URL    string `json:"url"`
}

// GitHubClient wraps the gh CLI for the upstream change-request surface.
type GitHubClient interface {
	CreatePullRequest(ctx context.Context, repoDir, base, head, title, body string) (*PullRequest, error)
	OpenPRs(ctx context.Context, repoDir string) ([]PullRequest, error)
}

// RealGitHubClient implements GitHubClient using the gh CLI.
type RealGitHubClient struct{}

// NewGitHubClient returns a new RealGitHubClient.
func NewGitHubClient() *RealGitHubClient {
	return &RealGitHubClient{}
}

func ghCmd(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CreatePullRequest opens a PR from head into base and returns its metadata.
// gh prints the PR URL on success; the URL is the authoritative reference
// stored on the proposal.
func (c *RealGitHubClient) CreatePullRequest(ctx context.Context, repoDir, base, head, title, body string) (*PullRequest, error) {
	out, err := ghCmd(ctx, repoDir, "pr", "create",
		"--base", base,
		"--head", head,
		"--title", title,
		"--body", body,
	)
	if err != nil {
		return nil, err
	}

	// Last non-empty line is the PR URL.
	url := out
	if i := strings.LastIndex(out, "\n"); i >= 0 {
		url = strings.TrimSpace(out[i+1:])
	}
	if url == "" {
		return nil, fmt.Errorf("gh pr create returned no URL")
	}
	return &PullRequest{URL: url, Branch: head, State: "open", Title: title}, nil
}

func (c *RealGitHubClient) OpenPRs(ctx context.Context, repoDir string) ([]PullRequest, error) {
	out, err := ghCmd(ctx, repoDir, "pr", "list",
		"--state", "open",
		"--json", "number,title,state,headRefName,url",
	)
	if err != nil {
		return nil, err
	}

	var prs []PullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PRs: %w", err)
	}
	return prs, nil
}
