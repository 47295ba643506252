package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sidellis/mend/internal/git"
	"github.com/sidellis/mend/internal/mirror"
	"github.com/sidellis/mend/internal/models"
)

// ChangePublisher commits a verified proposal and opens an upstream
// change request, returning its reference URL.
type ChangePublisher interface {
	Publish(ctx context.Context, p *models.Proposal) (string, error)
}

// GitPublisher publishes through the git CLI and the GitHub adapter:
// branch, commit the already-written file, push, open a PR, and return
// the working copy to the base branch.
type GitPublisher struct {
	mirror *mirror.Manager
	git    git.Client
	gh     git.GitHubClient
	base   string
	log    *slog.Logger
}

// NewGitPublisher wires a publisher against the shared mirror.
func NewGitPublisher(m *mirror.Manager, gc git.Client, ghc git.GitHubClient, baseBranch string, log *slog.Logger) *GitPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &GitPublisher{mirror: m, git: gc, gh: ghc, base: baseBranch, log: log}
}

// branchName derives a stable per-proposal branch.
func branchName(p *models.Proposal) string {
	id := p.ID
	if len(id) > 12 {
		id = id[:12]
	}
	return "mend/" + strings.ToLower(p.Reviewer) + "-" + strings.ToLower(id)
}

// Publish commits the proposal's file on a dedicated branch and opens a
// pull request against the base branch. The verified content is already
// on disk; publishing never re-runs verification. Every step tolerates
// leftovers from a previously failed attempt: an existing branch is
// reused, an already-committed tree skips the commit, and an already-open
// PR is returned instead of created. On failure the working copy is
// returned to the branch it started on so the next pass starts clean.
func (pub *GitPublisher) Publish(ctx context.Context, p *models.Proposal) (string, error) {
	dir := pub.mirror.Path()
	branch := branchName(p)

	orig, err := pub.git.CurrentBranch(ctx, dir)
	if err != nil || orig == "" || orig == branch {
		orig = pub.base
	}
	if err := pub.git.Checkout(ctx, dir, branch, true); err != nil {
		// Branch may survive a previously failed publish attempt.
		if err2 := pub.git.Checkout(ctx, dir, branch, false); err2 != nil {
			return "", fmt.Errorf("checkout publish branch: %w", err)
		}
	}
	defer func() {
		if err := pub.git.Checkout(ctx, dir, orig, false); err != nil {
			pub.log.Warn("failed to return mirror to branch", "branch", orig, "error", err)
		}
	}()

	if err := pub.git.Add(ctx, dir, p.FilePath); err != nil {
		return "", fmt.Errorf("stage %s: %w", p.FilePath, err)
	}

	title := fmt.Sprintf("%s: update %s", p.Reviewer, p.FilePath)

	// A prior attempt that failed after committing leaves a clean tree;
	// committing again would exit non-zero with nothing to commit. Skip
	// straight to push in that case.
	changed, err := pub.git.HasChanges(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("inspect working tree: %w", err)
	}
	if changed {
		message := title
		if p.Description != "" {
			message += "\n\n" + p.Description
		}
		if err := pub.git.Commit(ctx, dir, message); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
	}

	if err := pub.git.Push(ctx, dir, branch); err != nil {
		return "", fmt.Errorf("push %s: %w", branch, err)
	}

	// An earlier attempt may have pushed and opened the PR before failing.
	// gh refuses to open a second PR for the same branch, so reuse it.
	if prs, err := pub.gh.OpenPRs(ctx, dir); err == nil {
		for _, pr := range prs {
			if pr.Branch == branch {
				return pr.URL, nil
			}
		}
	}

	body := fmt.Sprintf("Automated change proposed by the %s reviewer.\n\nProposal: %s", p.Reviewer, p.ID)
	pr, err := pub.gh.CreatePullRequest(ctx, dir, pub.base, branch, title, body)
	if err != nil {
		return "", fmt.Errorf("open pull request: %w", err)
	}
	return pr.URL, nil
}
