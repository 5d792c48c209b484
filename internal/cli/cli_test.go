package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/config"
)

// execute runs the CLI against a temp project dir and captures output.
func execute(t *testing.T, projectDir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")

	flags := &GlobalFlags{}
	cmd := newRootCmd(flags, BuildInfo{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--project-dir", projectDir}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootShowsHelp(t *testing.T) {
	out, err := execute(t, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "autonomous coding")
	assert.Contains(t, out, "task")
	assert.Contains(t, out, "ledger")
}

func TestFormatVersionDefaults(t *testing.T) {
	assert.Equal(t, "dev (commit: none, built: unknown)", formatVersion(BuildInfo{}))
	assert.Equal(t, "1.2.0 (commit: abc123, built: 2026-08-24)",
		formatVersion(BuildInfo{Version: "1.2.0", Commit: "abc123", Date: "2026-08-24"}))
}

func TestTaskLifecycleCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "task", "create", "proj-a-1", "--title", "Wire the parser", "--priority", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "created proj-a-1")

	out, err = execute(t, dir, "task", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "proj-a-1")
	assert.Contains(t, out, "Wire the parser")
	assert.Contains(t, out, "open")

	out, err = execute(t, dir, "task", "ready")
	require.NoError(t, err)
	assert.Contains(t, out, "proj-a-1")

	out, err = execute(t, dir, "task", "close", "proj-a-1", "--reason", "done")
	require.NoError(t, err)
	assert.Contains(t, out, "closed proj-a-1")

	out, err = execute(t, dir, "task", "show", "proj-a-1")
	require.NoError(t, err)
	assert.Contains(t, out, "closed")
	assert.Contains(t, out, "done")

	out, err = execute(t, dir, "task", "ready")
	require.NoError(t, err)
	assert.Contains(t, out, "no tasks")
}

func TestTaskDependencyBlocksReadiness(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "task", "create", "proj-a-1", "--title", "first")
	require.NoError(t, err)
	_, err = execute(t, dir, "task", "create", "proj-a-2", "--title", "second", "--depends-on", "proj-a-1")
	require.NoError(t, err)

	out, err := execute(t, dir, "task", "ready")
	require.NoError(t, err)
	assert.Contains(t, out, "proj-a-1")
	assert.NotContains(t, out, "proj-a-2")

	_, err = execute(t, dir, "task", "close", "proj-a-1")
	require.NoError(t, err)

	out, err = execute(t, dir, "task", "ready")
	require.NoError(t, err)
	assert.Contains(t, out, "proj-a-2")
}

func TestTaskShowUnknownFails(t *testing.T) {
	_, err := execute(t, t.TempDir(), "task", "show", "proj-a-99")
	require.Error(t, err)
}

func TestRunsEmptyProject(t *testing.T) {
	out, err := execute(t, t.TempDir(), "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")
}

func TestLedgerVerifyRequiresFix(t *testing.T) {
	out, err := execute(t, t.TempDir(), "ledger", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "--fix")
}

func TestHookSwallowsMalformedInput(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	flags := &GlobalFlags{}
	cmd := newRootCmd(flags, BuildInfo{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader("{not json"))
	cmd.SetArgs([]string{"--project-dir", t.TempDir(), "hook"})

	// Hook events must never fail the observed session.
	require.NoError(t, cmd.ExecuteContext(context.Background()))
}

func TestApplyRunFlagsOnlyOverridesChanged(t *testing.T) {
	root := &GlobalFlags{}
	parent := newRootCmd(root, BuildInfo{})
	cmd, _, err := parent.Find([]string{"run"})
	require.NoError(t, err)

	require.NoError(t, cmd.Flags().Set("max-cost-usd", "2.5"))
	require.NoError(t, cmd.Flags().Set("harness", "codex"))
	require.NoError(t, cmd.Flags().Set("per-task-timeout", "90s"))

	cfg := config.DefaultConfig()
	cfg.Harness.Model = "keep-me"
	flags := &runFlags{maxCostUSD: 2.5, harness: "codex", perTaskTimeout: 90 * time.Second}
	applyRunFlags(cmd, cfg, flags)

	assert.Equal(t, "codex", cfg.Harness.Name)
	assert.Equal(t, "keep-me", cfg.Harness.Model)
	assert.InDelta(t, 2.5, cfg.Budget.MaxCostUSD, 0.001)
	assert.Equal(t, 90*time.Second, cfg.Loop.PerTaskTimeout)
}

func TestCheckBranchOutsideRepo(t *testing.T) {
	require.NoError(t, checkBranch(context.Background(), t.TempDir(), false))
	require.NoError(t, checkBranch(context.Background(), t.TempDir(), true))
}
