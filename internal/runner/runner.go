// Package runner invokes the external verification command over the
// mirror working copy.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Result holds the outcome of one verification run. A Result is only
// produced when the command actually ran to completion; inability to run
// it at all is reported as an error instead, which callers treat as
// inconclusive rather than a test failure.
type Result struct {
	Passed bool
	Output string
}

// Runner executes the verification command in a directory.
type Runner interface {
	Run(ctx context.Context, dir string) (*Result, error)
}

// CommandRunner runs a configured argv as the verification step.
// One process per invocation, blocking until it exits.
type CommandRunner struct {
	Argv []string
}

// NewCommandRunner creates a runner for the given command and arguments.
func NewCommandRunner(argv []string) (*CommandRunner, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("test command is empty")
	}
	return &CommandRunner{Argv: argv}, nil
}

func (r *CommandRunner) Run(ctx context.Context, dir string) (*Result, error) {
	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	res := &Result{Output: string(output)}

	if err == nil {
		res.Passed = true
		return res, nil
	}

	// A non-zero exit means the suite ran and failed. Anything else
	// (missing binary, context cancelled, spawn failure) means the run
	// never concluded.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.Passed = false
		return res, nil
	}
	return nil, fmt.Errorf("run test command: %w", err)
}
