// Package ledger owns the on-disk record of everything that happened to a
// task: per-task entries with their attempt sequences, prompt and harness-log
// artifacts, epic aggregation entries, per-run groupings, forensics event
// logs, and the fast-lookup index over all of it.
//
// Layout under {project}/.cub/ledger/:
//
//	index.jsonl                     one record per entry, last record wins
//	by-task/{task_id}/entry.json    full LedgerEntry
//	by-task/{task_id}/attempts/     NNN-prompt.md, NNN-harness.log
//	by-epic/{epic_id}/entry.json    EpicEntry with aggregates
//	by-run/{run_id}/{task_id}       marker file naming the entry's task id
//	forensics/{session_id}.jsonl    session event log
//
// Every write goes to a sibling temp file and renames into place. The index
// is derived data, rebuildable from by-task/ and by-epic/; corruption
// triggers a rebuild, never a failure. No other package writes under the
// ledger root.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cubtools/cub/internal/constants"
)

// Paths computes every location under one ledger root.
type Paths struct {
	root string
}

// NewPaths creates a path set for a project directory.
func NewPaths(projectDir string) Paths {
	return Paths{root: filepath.Join(projectDir, constants.CubDir, constants.LedgerDir)}
}

// Root returns the ledger root directory.
func (p Paths) Root() string { return p.root }

// IndexPath returns the index file location.
func (p Paths) IndexPath() string { return filepath.Join(p.root, constants.IndexFileName) }

// IndexLockPath returns the index lock file location.
func (p Paths) IndexLockPath() string { return filepath.Join(p.root, constants.IndexLockName) }

// TaskDir returns the per-task directory.
func (p Paths) TaskDir(taskID string) string {
	return filepath.Join(p.root, constants.ByTaskDir, taskID)
}

// EntryPath returns the per-task entry file.
func (p Paths) EntryPath(taskID string) string {
	return filepath.Join(p.TaskDir(taskID), constants.EntryFileName)
}

// AttemptsDir returns the per-task artifact directory.
func (p Paths) AttemptsDir(taskID string) string {
	return filepath.Join(p.TaskDir(taskID), constants.AttemptsDir)
}

// PromptPath returns the prompt artifact for one attempt.
func (p Paths) PromptPath(taskID string, attempt int) string {
	return filepath.Join(p.AttemptsDir(taskID), fmt.Sprintf("%03d-prompt.md", attempt))
}

// HarnessLogPath returns the raw-output artifact for one attempt.
func (p Paths) HarnessLogPath(taskID string, attempt int) string {
	return filepath.Join(p.AttemptsDir(taskID), fmt.Sprintf("%03d-harness.log", attempt))
}

// EpicDir returns the per-epic directory.
func (p Paths) EpicDir(epicID string) string {
	return filepath.Join(p.root, constants.ByEpicDir, epicID)
}

// EpicEntryPath returns the per-epic entry file.
func (p Paths) EpicEntryPath(epicID string) string {
	return filepath.Join(p.EpicDir(epicID), constants.EntryFileName)
}

// RunDir returns the per-run grouping directory.
func (p Paths) RunDir(runID string) string {
	return filepath.Join(p.root, constants.ByRunDir, runID)
}

// RunMarkerPath returns the per-run marker for one task entry.
func (p Paths) RunMarkerPath(runID, taskID string) string {
	return filepath.Join(p.RunDir(runID), taskID)
}

// ForensicsDir returns the forensics directory.
func (p Paths) ForensicsDir() string {
	return filepath.Join(p.root, constants.ForensicsDir)
}

// ForensicsPath returns the event log for one session.
func (p Paths) ForensicsPath(sessionID string) string {
	return filepath.Join(p.ForensicsDir(), sessionID+".jsonl")
}

// ensureRoot creates the ledger directory skeleton.
func (p Paths) ensureRoot() error {
	for _, dir := range []string{
		p.root,
		filepath.Join(p.root, constants.ByTaskDir),
		filepath.Join(p.root, constants.ByEpicDir),
		filepath.Join(p.root, constants.ByRunDir),
		p.ForensicsDir(),
	} {
		if err := os.MkdirAll(dir, constants.DirPerm); err != nil {
			return err
		}
	}
	return nil
}
