package crank

import (
	"context"
	"io"
	"os/exec"
)

// runFixer invokes the external fixer collaborator for issueID, discarding
// its stdio per the context-window protection invariant (spec.md §5):
// the orchestrator decides fixed/failed from the exit code alone, never
// from anything the fixer prints. revert, when true, asks the fixer to
// undo the commit it just made rather than apply a new one. The caller
// bounds ctx with the fixer timeout before calling.
func runFixer(ctx context.Context, bin, issueID, runDir string, revert bool) error {
	args := []string{"--issue", issueID, "--run-dir", runDir}
	if revert {
		args = append(args, "--revert")
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run()
}

// startMatcher launches the external matcher collaborator in the background
// and returns immediately: the matcher communicates its verdict only
// through the decisions file, which the caller awaits separately via
// pkg/matchwait, never through this process's stdio.
func startMatcher(bin, feedbackPath, decisionsPath string) (*exec.Cmd, error) {
	cmd := exec.Command(bin, "--feedback", feedbackPath, "--decisions-out", decisionsPath)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return cmd, nil
}
