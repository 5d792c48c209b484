package ledger

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	return w, dir
}

func sampleTask(id string) *domain.Task {
	return &domain.Task{
		ID:        id,
		Title:     "implement " + id,
		Type:      constants.TaskTypeTask,
		Priority:  1,
		CreatedAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
}

func sampleAttempt(runID string, success bool) domain.Attempt {
	return domain.Attempt{
		RunID:     runID,
		Source:    domain.SourceLoop,
		StartedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		Harness:   "claude",
		Model:     "sonnet",
		Success:   success,
		Tokens:    domain.TokenUsage{Input: 100, Output: 50, Known: true},
		CostUSD:   0.10,
		DurationS: 12.5,
	}
}

func TestCreateTaskEntryIdempotent(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	task := sampleTask("proj-a-1")

	first, err := w.CreateTaskEntry(ctx, task, domain.Lineage{EpicID: "proj-a"}, "run-1", domain.SourceLoop)
	require.NoError(t, err)
	assert.Equal(t, "proj-a-1", first.ID)
	assert.Equal(t, constants.LedgerSchemaVersion, first.Version)
	assert.Equal(t, "implement proj-a-1", first.Task.Title)
	assert.Equal(t, "proj-a", first.Lineage.EpicID)

	// A second create extends rather than resets.
	require.NoError(t, w.AppendAttempt(ctx, "proj-a-1", sampleAttempt("run-1", false)))
	second, err := w.CreateTaskEntry(ctx, task, domain.Lineage{}, "run-2", domain.SourceLoop)
	require.NoError(t, err)
	assert.Len(t, second.Attempts, 1)
}

func TestAppendAttemptNumbersMonotonically(t *testing.T) {
	w, dir := newTestWriter(t)
	ctx := context.Background()
	_, err := w.CreateTaskEntry(ctx, sampleTask("proj-a-1"), domain.Lineage{}, "run-1", domain.SourceLoop)
	require.NoError(t, err)

	// Attempts carry bogus caller-side numbers; the writer owns numbering.
	a := sampleAttempt("run-1", false)
	a.Number = 99
	require.NoError(t, w.AppendAttempt(ctx, "proj-a-1", a))
	require.NoError(t, w.AppendAttempt(ctx, "proj-a-1", sampleAttempt("run-1", false)))
	require.NoError(t, w.AppendAttempt(ctx, "proj-a-1", sampleAttempt("run-1", true)))

	// Durability: a fresh reader process sees every attempt.
	r, err := NewReader(dir)
	require.NoError(t, err)
	entry, err := r.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	require.Len(t, entry.Attempts, 3)
	for i, att := range entry.Attempts {
		assert.Equal(t, i+1, att.Number)
	}
}

func TestAppendAttemptUnknownTask(t *testing.T) {
	w, _ := newTestWriter(t)
	err := w.AppendAttempt(context.Background(), "proj-ghost-1", sampleAttempt("", false))
	assert.ErrorIs(t, err, cuberrors.ErrEntryNotFound)
}

func TestFinalizeTaskEntryComputesTotals(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	_, err := w.CreateTaskEntry(ctx, sampleTask("proj-a-1"), domain.Lineage{}, "run-1", domain.SourceLoop)
	require.NoError(t, err)
	require.NoError(t, w.AppendAttempt(ctx, "proj-a-1", sampleAttempt("run-1", false)))
	require.NoError(t, w.AppendAttempt(ctx, "proj-a-1", sampleAttempt("run-1", true)))

	require.NoError(t, w.FinalizeTaskEntry(ctx, "proj-a-1", domain.Outcome{Success: true}, nil, &domain.Verification{
		Status: constants.VerificationPass,
		Tests:  true,
	}))

	entry, err := readTaskEntry(w.Paths(), "proj-a-1")
	require.NoError(t, err)
	require.True(t, entry.Finalized())
	assert.True(t, entry.Outcome.Success)
	assert.Equal(t, 2, entry.Outcome.TotalAttempts)
	assert.InDelta(t, 0.20, entry.Outcome.TotalCostUSD, 0.0001)
	assert.InDelta(t, 25.0, entry.Outcome.TotalDurationS, 0.0001)
	assert.Equal(t, "sonnet", entry.Outcome.FinalModel)
	assert.Equal(t, constants.StageDevComplete, entry.Workflow)
	require.Len(t, entry.StateHistory, 1)
	assert.Equal(t, "dev_complete", entry.StateHistory[0].Stage)
	require.NotNil(t, entry.Verification)
	assert.Equal(t, constants.VerificationPass, entry.Verification.Status)
}

func TestUpdateWorkflowStage(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	_, err := w.CreateTaskEntry(ctx, sampleTask("proj-a-1"), domain.Lineage{}, "", domain.SourceLoop)
	require.NoError(t, err)
	require.NoError(t, w.FinalizeTaskEntry(ctx, "proj-a-1", domain.Outcome{Success: true}, nil, nil))

	require.NoError(t, w.UpdateWorkflowStage(ctx, "proj-a-1", constants.StageNeedsReview, "review queued", "alice", false))
	require.NoError(t, w.UpdateWorkflowStage(ctx, "proj-a-1", constants.StageReleased, "shipped", "alice", false))

	// released → dev_complete is refused without override.
	err = w.UpdateWorkflowStage(ctx, "proj-a-1", constants.StageDevComplete, "rework", "bob", false)
	assert.ErrorIs(t, err, cuberrors.ErrStageTransition)

	require.NoError(t, w.UpdateWorkflowStage(ctx, "proj-a-1", constants.StageDevComplete, "rework", "bob", true))

	entry, err := readTaskEntry(w.Paths(), "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, constants.StageDevComplete, entry.Workflow)
	assert.Len(t, entry.StateHistory, 4) // finalize + three successful transitions
}

func TestWritePromptFile(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	path, err := w.WritePromptFile(ctx, "proj-a-1", 1, "# Task\n\nDo the thing.", PromptFrontmatter{
		TaskID:     "proj-a-1",
		Attempt:    1,
		RunID:      "run-1",
		Harness:    "claude",
		Model:      "sonnet",
		ComposedAt: time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		Layers:     []string{"runloop", "task"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "001-prompt.md"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "---\n"))
	assert.Contains(t, content, "task_id: proj-a-1")
	assert.Contains(t, content, "harness: claude")
	assert.Contains(t, content, "# Task\n\nDo the thing.")
}

func TestHarnessLogPath(t *testing.T) {
	w, _ := newTestWriter(t)
	path, err := w.HarnessLogPath("proj-a-1", 2)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "002-harness.log"))

	// The artifact directory exists so the harness can open the sink.
	info, err := os.Stat(w.Paths().AttemptsDir("proj-a-1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEpicAggregates(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	epic := sampleTask("proj-a")
	epic.Type = constants.TaskTypeEpic
	epic.Title = "epic a"
	require.NoError(t, w.UpsertEpic(ctx, epic))

	lineage := domain.Lineage{EpicID: "proj-a"}
	for _, id := range []string{"proj-a-1", "proj-a-2"} {
		_, err := w.CreateTaskEntry(ctx, sampleTask(id), lineage, "run-1", domain.SourceLoop)
		require.NoError(t, err)
		require.NoError(t, w.AppendAttempt(ctx, id, sampleAttempt("run-1", true)))
	}
	require.NoError(t, w.FinalizeTaskEntry(ctx, "proj-a-1", domain.Outcome{
		Success:    true,
		Escalation: []string{"sonnet", "opus"},
	}, nil, nil))

	require.NoError(t, w.RecomputeEpicAggregates(ctx, "proj-a"))

	entry, err := readEpicEntry(w.Paths(), "proj-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-a-1", "proj-a-2"}, entry.TaskIDs)
	assert.Equal(t, 2, entry.Aggregates.TotalTasks)
	assert.Equal(t, 1, entry.Aggregates.TasksCompleted)
	assert.Equal(t, 1, entry.Aggregates.TasksInProgress)
	assert.Equal(t, 2, entry.Aggregates.TotalAttempts)
	assert.InDelta(t, 0.20, entry.Aggregates.TotalCostUSD, 0.0001)
	assert.Equal(t, int64(200), entry.Aggregates.Tokens.Input)
	assert.InDelta(t, 1.0, entry.Aggregates.EscalationRate, 0.0001)
}

func TestLineageEpicIDFollowsParentField(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	epic := sampleTask("infra-core")
	epic.Type = constants.TaskTypeEpic
	require.NoError(t, w.UpsertEpic(ctx, epic))

	// The parent field wins over the id-prefix heuristic.
	child := sampleTask("proj-b-7")
	child.Parent = "infra-core"
	entry, err := w.CreateTaskEntry(ctx, child, domain.Lineage{}, "run-1", domain.SourceLoop)
	require.NoError(t, err)
	assert.Equal(t, "infra-core", entry.Lineage.EpicID)

	require.NoError(t, w.AppendAttempt(ctx, "proj-b-7", sampleAttempt("run-1", true)))
	require.NoError(t, w.RecomputeEpicAggregates(ctx, "infra-core"))

	epicEntry, err := readEpicEntry(w.Paths(), "infra-core")
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-b-7"}, epicEntry.TaskIDs)
	assert.Equal(t, 1, epicEntry.Aggregates.TotalTasks)

	// Without a parent the id prefix stands in.
	orphan, err := w.CreateTaskEntry(ctx, sampleTask("proj-c-1"), domain.Lineage{}, "run-1", domain.SourceLoop)
	require.NoError(t, err)
	assert.Equal(t, "proj-c", orphan.Lineage.EpicID)
}

func TestRecordTaskDrift(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()
	_, err := w.CreateTaskEntry(ctx, sampleTask("proj-a-1"), domain.Lineage{}, "", domain.SourceLoop)
	require.NoError(t, err)

	require.NoError(t, w.RecordTaskDrift(ctx, "proj-a-1", domain.TaskDrift{Fields: []domain.FieldChange{
		{Field: "title", Before: "implement proj-a-1", After: "implement and test proj-a-1"},
	}}))

	entry, err := readTaskEntry(w.Paths(), "proj-a-1")
	require.NoError(t, err)
	require.NotNil(t, entry.TaskChanged)
	assert.Equal(t, "title", entry.TaskChanged.Fields[0].Field)
}
