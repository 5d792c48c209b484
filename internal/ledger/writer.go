package ledger

import (
	"context"
	stderrors "errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/cubtools/cub/internal/clock"
	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

// Writer is the single mutation surface over a ledger root. It serialises
// its own operations with an in-process mutex and coordinates with other
// processes via an advisory lock on the index.
type Writer struct {
	paths  Paths
	mu     sync.Mutex
	clk    clock.Clock
	logger zerolog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriterClock sets the clock used for timestamps.
func WithWriterClock(clk clock.Clock) WriterOption {
	return func(w *Writer) {
		w.clk = clk
	}
}

// WithWriterLogger sets the writer logger.
func WithWriterLogger(logger zerolog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// NewWriter creates a ledger writer for a project directory, creating the
// ledger skeleton if missing.
func NewWriter(projectDir string, opts ...WriterOption) (*Writer, error) {
	if projectDir == "" {
		return nil, cuberrors.Wrap(cuberrors.ErrEmptyValue, "project dir")
	}
	w := &Writer{
		paths:  NewPaths(projectDir),
		clk:    clock.RealClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.paths.ensureRoot(); err != nil {
		return nil, cuberrors.Wrap(err, "failed to create ledger root")
	}
	return w, nil
}

// Paths exposes the writer's path set for artifact naming.
func (w *Writer) Paths() Paths { return w.paths }

// withLock acquires the in-process mutex plus the advisory index lock and
// runs fn.
func (w *Writer) withLock(ctx context.Context, fn func() error) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	fl := flock.New(w.paths.IndexLockPath())
	lockCtx, cancel := context.WithTimeout(ctx, constants.LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, constants.LockRetryInterval)
	if err != nil || !locked {
		return cuberrors.Wrapf(cuberrors.ErrLockTimeout, "ledger index lock %s", w.paths.IndexLockPath())
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// CreateTaskEntry records the first sighting of a task. Idempotent: an
// existing entry is returned unchanged except for lineage fields it was
// missing.
func (w *Writer) CreateTaskEntry(ctx context.Context, t *domain.Task, lineage domain.Lineage, runID string, source domain.EntrySource) (*domain.LedgerEntry, error) {
	var entry *domain.LedgerEntry
	err := w.withLock(ctx, func() error {
		existing, readErr := readTaskEntry(w.paths, t.ID)
		if readErr == nil {
			entry = existing
			dirty := false
			if entry.Lineage.EpicID == "" && lineage.EpicID != "" {
				entry.Lineage.EpicID = lineage.EpicID
				dirty = true
			}
			if entry.Lineage.SpecFile == "" && lineage.SpecFile != "" {
				entry.Lineage.SpecFile = lineage.SpecFile
				dirty = true
			}
			if entry.Lineage.PlanFile == "" && lineage.PlanFile != "" {
				entry.Lineage.PlanFile = lineage.PlanFile
				dirty = true
			}
			if dirty {
				return writeJSON(w.paths.EntryPath(t.ID), entry)
			}
			return nil
		}
		if !stderrors.Is(readErr, cuberrors.ErrEntryNotFound) {
			return readErr
		}

		now := w.clk.Now().UTC()
		entry = &domain.LedgerEntry{
			ID:      t.ID,
			Version: constants.LedgerSchemaVersion,
			Lineage: lineage,
			Source:  source,
			Task: domain.TaskSnapshot{
				Title:       t.Title,
				Description: t.Description,
				Type:        t.Type,
				Priority:    t.Priority,
				Labels:      t.Labels,
				CreatedAt:   t.CreatedAt,
				CapturedAt:  now,
			},
		}
		// Parent is the canonical lineage field; the id-prefix heuristic
		// only covers tasks created without one.
		if entry.Lineage.EpicID == "" {
			entry.Lineage.EpicID = t.Parent
		}
		if entry.Lineage.EpicID == "" {
			entry.Lineage.EpicID = t.EpicID()
		}
		if err := writeJSON(w.paths.EntryPath(t.ID), entry); err != nil {
			return err
		}
		if runID != "" {
			if err := w.linkRun(runID, t.ID); err != nil {
				return err
			}
		}
		return appendIndexRecord(w.paths.IndexPath(), indexRecordFor(entry, now))
	})
	return entry, err
}

// AppendAttempt appends one attempt to a task's entry. The writer owns
// attempt numbering: the stored number is always the entry's next number.
// The entry rewrite is synced before return.
func (w *Writer) AppendAttempt(ctx context.Context, taskID string, attempt domain.Attempt) error {
	return w.withLock(ctx, func() error {
		entry, err := readTaskEntry(w.paths, taskID)
		if err != nil {
			return err
		}
		attempt.Number = entry.NextAttemptNumber()
		entry.Attempts = append(entry.Attempts, attempt)

		if err := writeJSON(w.paths.EntryPath(taskID), entry); err != nil {
			return err
		}
		if attempt.RunID != "" {
			if err := w.linkRun(attempt.RunID, taskID); err != nil {
				return err
			}
		}
		return appendIndexRecord(w.paths.IndexPath(), indexRecordFor(entry, w.clk.Now().UTC()))
	})
}

// PromptFrontmatter is the YAML metadata block heading each prompt artifact.
type PromptFrontmatter struct {
	TaskID     string    `yaml:"task_id"`
	Attempt    int       `yaml:"attempt"`
	RunID      string    `yaml:"run_id,omitempty"`
	Harness    string    `yaml:"harness,omitempty"`
	Model      string    `yaml:"model,omitempty"`
	ComposedAt time.Time `yaml:"composed_at"`
	Layers     []string  `yaml:"layers,omitempty"`
}

// WritePromptFile persists the composed prompt for one attempt as markdown
// with a YAML frontmatter. Returns the artifact path.
func (w *Writer) WritePromptFile(ctx context.Context, taskID string, attempt int, prompt string, fm PromptFrontmatter) (string, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return "", err
	}

	meta, err := yaml.Marshal(fm)
	if err != nil {
		return "", cuberrors.Wrap(err, "failed to marshal prompt frontmatter")
	}

	var buf []byte
	buf = append(buf, "---\n"...)
	buf = append(buf, meta...)
	buf = append(buf, "---\n\n"...)
	buf = append(buf, prompt...)
	if len(prompt) > 0 && prompt[len(prompt)-1] != '\n' {
		buf = append(buf, '\n')
	}

	path := w.paths.PromptPath(taskID, attempt)
	if err := atomicWrite(path, buf); err != nil {
		return "", err
	}
	return path, nil
}

// HarnessLogPath allocates the raw-output sink for one attempt, creating
// the artifact directory.
func (w *Writer) HarnessLogPath(taskID string, attempt int) (string, error) {
	if err := os.MkdirAll(w.paths.AttemptsDir(taskID), constants.DirPerm); err != nil {
		return "", err
	}
	return w.paths.HarnessLogPath(taskID, attempt), nil
}

// FinalizeTaskEntry closes out a task's entry: sets the outcome, optional
// drift and verification, moves the workflow stage to dev_complete, and
// records the transition.
func (w *Writer) FinalizeTaskEntry(ctx context.Context, taskID string, outcome domain.Outcome, drift *domain.SpecDrift, verification *domain.Verification) error {
	return w.withLock(ctx, func() error {
		entry, err := readTaskEntry(w.paths, taskID)
		if err != nil {
			return err
		}

		now := w.clk.Now().UTC()
		if outcome.CompletedAt.IsZero() {
			outcome.CompletedAt = now
		}
		if outcome.TotalAttempts == 0 {
			outcome.TotalAttempts = len(entry.Attempts)
		}
		if outcome.TotalCostUSD == 0 {
			for i := range entry.Attempts {
				outcome.TotalCostUSD += entry.Attempts[i].CostUSD
			}
		}
		if outcome.TotalDurationS == 0 {
			for i := range entry.Attempts {
				outcome.TotalDurationS += entry.Attempts[i].DurationS
			}
		}
		if outcome.FinalModel == "" && len(entry.Attempts) > 0 {
			outcome.FinalModel = entry.Attempts[len(entry.Attempts)-1].Model
		}

		entry.Outcome = &outcome
		if drift != nil {
			entry.Drift = drift
		}
		if verification != nil {
			entry.Verification = verification
		}
		entry.Workflow = constants.StageDevComplete
		entry.WorkflowUpdatedAt = &now
		entry.StateHistory = append(entry.StateHistory, domain.StateTransition{
			Stage: string(constants.StageDevComplete),
			At:    now,
			By:    string(entry.Source),
		})

		if err := writeJSON(w.paths.EntryPath(taskID), entry); err != nil {
			return err
		}
		return appendIndexRecord(w.paths.IndexPath(), indexRecordFor(entry, now))
	})
}

// UpdateWorkflowStage moves an entry to a new post-completion stage. Any
// transition is legal and recorded, with one exception: a released entry
// refuses to return to dev_complete unless override is set.
func (w *Writer) UpdateWorkflowStage(ctx context.Context, taskID string, stage constants.WorkflowStage, reason, by string, override bool) error {
	return w.withLock(ctx, func() error {
		entry, err := readTaskEntry(w.paths, taskID)
		if err != nil {
			return err
		}

		if entry.Workflow == constants.StageReleased && stage == constants.StageDevComplete && !override {
			return cuberrors.Wrapf(cuberrors.ErrStageTransition,
				"%s is released; returning to dev_complete requires override", taskID)
		}

		now := w.clk.Now().UTC()
		entry.Workflow = stage
		entry.WorkflowUpdatedAt = &now
		entry.StateHistory = append(entry.StateHistory, domain.StateTransition{
			Stage:  string(stage),
			At:     now,
			By:     by,
			Reason: reason,
		})

		if err := writeJSON(w.paths.EntryPath(taskID), entry); err != nil {
			return err
		}
		return appendIndexRecord(w.paths.IndexPath(), indexRecordFor(entry, now))
	})
}

// AppendStateHistory records a transition without touching the workflow
// stage. Used for claim-abandonment notes during reconciliation.
func (w *Writer) AppendStateHistory(ctx context.Context, taskID string, transition domain.StateTransition) error {
	return w.withLock(ctx, func() error {
		entry, err := readTaskEntry(w.paths, taskID)
		if err != nil {
			return err
		}
		entry.StateHistory = append(entry.StateHistory, transition)
		return writeJSON(w.paths.EntryPath(taskID), entry)
	})
}

// RecordTaskDrift stores before/after field changes observed between the
// first snapshot and the task's state at close.
func (w *Writer) RecordTaskDrift(ctx context.Context, taskID string, drift domain.TaskDrift) error {
	return w.withLock(ctx, func() error {
		entry, err := readTaskEntry(w.paths, taskID)
		if err != nil {
			return err
		}
		if len(drift.Fields) == 0 {
			return nil
		}
		entry.TaskChanged = &drift
		return writeJSON(w.paths.EntryPath(taskID), entry)
	})
}

// UpsertEpic creates or refreshes the aggregation entry for an epic.
func (w *Writer) UpsertEpic(ctx context.Context, epic *domain.Task) error {
	return w.withLock(ctx, func() error {
		entry, err := readEpicEntry(w.paths, epic.ID)
		if stderrors.Is(err, cuberrors.ErrEntryNotFound) {
			entry = &domain.EpicEntry{
				ID:        epic.ID,
				Version:   constants.LedgerSchemaVersion,
				CreatedAt: epic.CreatedAt,
			}
		} else if err != nil {
			return err
		}

		entry.Title = epic.Title
		entry.Description = epic.Description
		if err := writeJSON(w.paths.EpicEntryPath(epic.ID), entry); err != nil {
			return err
		}
		return appendIndexRecord(w.paths.IndexPath(), indexRecordForEpic(entry, w.clk.Now().UTC()))
	})
}

// RecomputeEpicAggregates rescans the epic's per-task entries and rewrites
// the derived totals. Per-task entries are authoritative; any discrepancy
// resolves in their favour by recomputing from scratch.
func (w *Writer) RecomputeEpicAggregates(ctx context.Context, epicID string) error {
	return w.withLock(ctx, func() error {
		entry, err := readEpicEntry(w.paths, epicID)
		if err != nil {
			return err
		}

		taskIDs, err := listEntryDirs(w.paths.root, constants.ByTaskDir)
		if err != nil {
			return err
		}
		sort.Strings(taskIDs)

		var agg domain.EpicAggregates
		var members []string
		escalated := 0
		for _, id := range taskIDs {
			te, readErr := readTaskEntry(w.paths, id)
			if readErr != nil || te.Lineage.EpicID != epicID {
				continue
			}
			members = append(members, id)
			agg.TotalTasks++
			agg.TotalAttempts += len(te.Attempts)
			for i := range te.Attempts {
				agg.TotalCostUSD += te.Attempts[i].CostUSD
				agg.Tokens.Input += te.Attempts[i].Tokens.Input
				agg.Tokens.Output += te.Attempts[i].Tokens.Output
				agg.Tokens.CacheRead += te.Attempts[i].Tokens.CacheRead
				agg.Tokens.CacheWrite += te.Attempts[i].Tokens.CacheWrite
			}
			if te.Finalized() {
				agg.TasksCompleted++
				if len(te.Outcome.Escalation) > 0 {
					escalated++
				}
			} else if len(te.Attempts) > 0 {
				agg.TasksInProgress++
			}
		}
		if agg.TasksCompleted > 0 {
			agg.EscalationRate = float64(escalated) / float64(agg.TasksCompleted)
			agg.AvgCostPerTask = agg.TotalCostUSD / float64(agg.TasksCompleted)
		}

		entry.TaskIDs = members
		entry.Aggregates = agg
		if err := writeJSON(w.paths.EpicEntryPath(epicID), entry); err != nil {
			return err
		}
		return appendIndexRecord(w.paths.IndexPath(), indexRecordForEpic(entry, w.clk.Now().UTC()))
	})
}

// RebuildIndex regenerates the index from the entry files. Used on detected
// corruption and by verification tooling.
func (w *Writer) RebuildIndex(ctx context.Context) error {
	return w.withLock(ctx, func() error {
		return rebuildIndex(w.paths, w.clk.Now().UTC())
	})
}

// linkRun drops a marker grouping this entry under a run session. The
// marker's content is the task id: portable, greppable, no symlinks.
func (w *Writer) linkRun(runID, taskID string) error {
	path := w.paths.RunMarkerPath(runID, taskID)
	if err := os.MkdirAll(w.paths.RunDir(runID), constants.DirPerm); err != nil {
		return err
	}
	return atomicWrite(path, []byte(taskID+"\n"))
}
