package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Client defines the interface for git operations on the mirror working copy.
// All methods take a path parameter so the client itself stays stateless.
type Client interface {
	Clone(ctx context.Context, remote, path, branch string) error
	Pull(ctx context.Context, path string) error
	CurrentBranch(ctx context.Context, path string) (string, error)
	Checkout(ctx context.Context, path, branch string, create bool) error
	Add(ctx context.Context, path string, files ...string) error
	HasChanges(ctx context.Context, path string) (bool, error)
	Commit(ctx context.Context, path, message string) error
	Push(ctx context.Context, path, branch string) error
	LastCommitHash(ctx context.Context, path string) (string, error)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) Clone(ctx context.Context, remote, path, branch string) error {
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, remote, path)
	if _, err := exec.CommandContext(ctx, "git", args...).Output(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("git clone: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

func (c *RealClient) Pull(ctx context.Context, path string) error {
	_, err := gitCmd(ctx, path, "pull", "--ff-only")
	return err
}

func (c *RealClient) CurrentBranch(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) Checkout(ctx context.Context, path, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	_, err := gitCmd(ctx, path, args...)
	return err
}

func (c *RealClient) Add(ctx context.Context, path string, files ...string) error {
	args := append([]string{"add", "--"}, files...)
	_, err := gitCmd(ctx, path, args...)
	return err
}

// HasChanges reports whether the working tree or index differ from HEAD.
func (c *RealClient) HasChanges(ctx context.Context, path string) (bool, error) {
	out, err := gitCmd(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) Commit(ctx context.Context, path, message string) error {
	_, err := gitCmd(ctx, path, "commit", "-m", message)
	return err
}

func (c *RealClient) Push(ctx context.Context, path, branch string) error {
	_, err := gitCmd(ctx, path, "push", "-u", "origin", branch)
	return err
}

func (c *RealClient) LastCommitHash(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "log", "-1", "--format=%h")
}
