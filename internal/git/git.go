// Package git provides the thin git glue the run loop needs: clean-state
// checks, branch detection, and change summaries for ledger outcomes.
// All operations shell out to the git binary.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	cuberrors "github.com/cubtools/cub/internal/errors"
)

// RunCommand executes a git command in the specified directory and returns
// its trimmed stdout. All errors are wrapped with ErrGitOperation and
// include stderr for debugging.
func RunCommand(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //#nosec G204 -- args are constructed internally, not user input
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if stderr.Len() > 0 {
			return "", fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(stderr.String()), cuberrors.ErrGitOperation)
		}
		return "", fmt.Errorf("git %s failed: %w", args[0], cuberrors.ErrGitOperation)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether workDir is inside a git work tree.
func IsRepo(ctx context.Context, workDir string) bool {
	out, err := RunCommand(ctx, workDir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the current branch name, or "HEAD" when detached.
func CurrentBranch(ctx context.Context, workDir string) (string, error) {
	return RunCommand(ctx, workDir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadCommit returns the current HEAD commit hash.
func HeadCommit(ctx context.Context, workDir string) (string, error) {
	return RunCommand(ctx, workDir, "rev-parse", "HEAD")
}

// IsClean reports whether the working directory has no uncommitted
// changes. When trackedOnly is true, untracked files are ignored.
func IsClean(ctx context.Context, workDir string, trackedOnly bool) (bool, error) {
	args := []string{"status", "--porcelain"}
	if trackedOnly {
		args = append(args, "-uno")
	} else {
		args = append(args, "-uall")
	}
	out, err := RunCommand(ctx, workDir, args...)
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// ChangedFiles lists paths changed since the given commit (staged,
// unstaged, and untracked). since may be "HEAD" or a specific hash.
func ChangedFiles(ctx context.Context, workDir, since string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	diff, err := RunCommand(ctx, workDir, "diff", "--name-only", since)
	if err == nil {
		for _, line := range strings.Split(diff, "\n") {
			add(strings.TrimSpace(line))
		}
	}

	status, err := RunCommand(ctx, workDir, "status", "--porcelain", "-uall")
	if err != nil {
		return files, nil //nolint:nilerr // best-effort: diff output alone is acceptable
	}
	for _, line := range strings.Split(status, "\n") {
		if len(line) < 4 {
			continue
		}
		add(strings.TrimSpace(line[3:]))
	}
	return files, nil
}

// CommitsSince returns the commit hashes made after the given hash, oldest
// first. Returns nil when since is empty or unknown.
func CommitsSince(ctx context.Context, workDir, since string) ([]string, error) {
	if since == "" {
		return nil, nil
	}
	out, err := RunCommand(ctx, workDir, "rev-list", "--reverse", since+"..HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
