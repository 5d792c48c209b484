package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

func newTestBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func mustCreate(t *testing.T, b *FileBackend, task *domain.Task) {
	t.Helper()
	require.NoError(t, b.Create(context.Background(), task))
}

func openTask(id string) *domain.Task {
	return &domain.Task{
		ID:     id,
		Title:  "task " + id,
		Type:   constants.TaskTypeTask,
		Status: constants.TaskStatusOpen,
	}
}

func TestCreateAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, b, openTask("proj-a-1"))

	got, err := b.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-a-1", got.ID)
	assert.Equal(t, constants.TaskStatusOpen, got.Status)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCreateRejectsInvalidID(t *testing.T) {
	b := newTestBackend(t)
	err := b.Create(context.Background(), openTask("NOT VALID"))
	assert.ErrorIs(t, err, cuberrors.ErrInvalidTaskID)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	b := newTestBackend(t)
	mustCreate(t, b, openTask("proj-a-1"))
	err := b.Create(context.Background(), openTask("proj-a-1"))
	assert.ErrorIs(t, err, cuberrors.ErrTaskExists)
}

func TestCreateRejectsMissingReferences(t *testing.T) {
	b := newTestBackend(t)

	child := openTask("proj-a-2")
	child.Parent = "proj-ghost"
	assert.ErrorIs(t, b.Create(context.Background(), child), cuberrors.ErrTaskBroken)

	dep := openTask("proj-a-3")
	dep.DependsOn = []string{"proj-ghost-1"}
	assert.ErrorIs(t, b.Create(context.Background(), dep), cuberrors.ErrTaskBroken)
}

func TestClaimTransitions(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	mustCreate(t, b, openTask("proj-a-1"))

	require.NoError(t, b.Claim(ctx, "proj-a-1", "cub-20260824-120000"))

	got, err := b.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusInProgress, got.Status)
	assert.Equal(t, "cub-20260824-120000", got.ClaimedBy)

	// Second claim loses the race.
	err = b.Claim(ctx, "proj-a-1", "cub-20260824-120001")
	assert.ErrorIs(t, err, cuberrors.ErrClaimRace)

	// Claim on a closed task is not a race.
	require.NoError(t, b.Close(ctx, "proj-a-1", "done"))
	err = b.Claim(ctx, "proj-a-1", "cub-20260824-120002")
	assert.ErrorIs(t, err, cuberrors.ErrTaskNotOpen)
}

func TestClaimExclusivityUnderConcurrency(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	mustCreate(t, b, openTask("proj-a-1"))

	const claimants = 8
	var wg sync.WaitGroup
	results := make([]error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = b.Claim(ctx, "proj-a-1", "session")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, cuberrors.ErrClaimRace)
		}
	}
	assert.Equal(t, 1, wins, "exactly one claim must succeed")
}

func TestCloseReopenClose(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	mustCreate(t, b, openTask("proj-a-1"))

	require.NoError(t, b.Close(ctx, "proj-a-1", "first"))
	require.NoError(t, b.Reopen(ctx, "proj-a-1", "not quite"))
	require.NoError(t, b.Close(ctx, "proj-a-1", "second"))

	got, err := b.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusClosed, got.Status)
	assert.Equal(t, "second", got.CloseReason)
	assert.Contains(t, got.Notes, "reopened")
}

func TestCloseIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	mustCreate(t, b, openTask("proj-a-1"))

	require.NoError(t, b.Close(ctx, "proj-a-1", "done"))
	require.NoError(t, b.Close(ctx, "proj-a-1", "again"))

	got, err := b.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, "done", got.CloseReason)
}

func TestReadyExcludesBlockedTasks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, b, openTask("proj-a-1"))
	dependent := openTask("proj-a-2")
	dependent.DependsOn = []string{"proj-a-1"}
	mustCreate(t, b, dependent)

	ready, err := b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "proj-a-1", ready[0].ID)

	// Closing the dependency unblocks the dependent.
	require.NoError(t, b.Close(ctx, "proj-a-1", "done"))
	ready, err = b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "proj-a-2", ready[0].ID)
}

func TestReadyExcludesUnapprovedGateTransitively(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	gate := openTask("proj-a-1")
	gate.Type = constants.TaskTypeGate
	mustCreate(t, b, gate)

	mid := openTask("proj-a-2")
	mid.DependsOn = []string{"proj-a-1"}
	mustCreate(t, b, mid)

	leaf := openTask("proj-a-3")
	leaf.DependsOn = []string{"proj-a-2"}
	mustCreate(t, b, leaf)

	require.NoError(t, b.Close(ctx, "proj-a-1", "work done"))
	require.NoError(t, b.Close(ctx, "proj-a-2", "work done"))

	// A closed gate counts as passed.
	ready, err := b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "proj-a-3", ready[0].ID)

	// Reopen the gate without approval: the leaf is blocked again even
	// though its direct dependency is closed... once the gate is also a
	// direct dep of the middle task and the middle reopens.
	require.NoError(t, b.Reopen(ctx, "proj-a-2", "redo"))
	ready, err = b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "proj-a-2", ready[0].ID)

	require.NoError(t, b.Reopen(ctx, "proj-a-1", "gate reopened"))
	ready, err = b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, ready, 1, "gate itself stays selectable")
	assert.Equal(t, "proj-a-1", ready[0].ID)

	// Approving the pending gate is not enough for proj-a-2: its direct
	// dependency must still be closed.
	approved := true
	require.NoError(t, b.Update(ctx, "proj-a-1", domain.TaskPatch{Approved: &approved}))
	ready, err = b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(ready))
	for _, r := range ready {
		ids = append(ids, r.ID)
	}
	assert.NotContains(t, ids, "proj-a-2")
}

func TestReadyOrdering(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	older := openTask("proj-a-1")
	older.Priority = 2
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mustCreate(t, b, older)

	urgent := openTask("proj-a-2")
	urgent.Priority = 0
	mustCreate(t, b, urgent)

	newer := openTask("proj-a-3")
	newer.Priority = 2
	newer.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	mustCreate(t, b, newer)

	ready, err := b.Ready(ctx, domain.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, ready, 3)
	assert.Equal(t, "proj-a-2", ready[0].ID)
	assert.Equal(t, "proj-a-1", ready[1].ID)
	assert.Equal(t, "proj-a-3", ready[2].ID)
}

func TestReadyFilters(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	epic := openTask("proj-epic1")
	epic.Type = constants.TaskTypeEpic
	mustCreate(t, b, epic)

	child := openTask("proj-epic1-1")
	child.Parent = "proj-epic1"
	child.Labels = []string{"pr"}
	mustCreate(t, b, child)

	other := openTask("proj-b-1")
	mustCreate(t, b, other)

	byParent, err := b.Ready(ctx, domain.TaskFilter{Parent: "proj-epic1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(byParent))
	for _, r := range byParent {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "proj-epic1-1")
	assert.NotContains(t, ids, "proj-b-1")

	byLabel, err := b.Ready(ctx, domain.TaskFilter{Label: "pr"})
	require.NoError(t, err)
	require.Len(t, byLabel, 1)
	assert.Equal(t, "proj-epic1-1", byLabel[0].ID)

	byID, err := b.Ready(ctx, domain.TaskFilter{ID: "proj-b-1"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "proj-b-1", byID[0].ID)
}

func TestParentFilterMatchesGrandchildren(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	top := openTask("proj-epic1")
	top.Type = constants.TaskTypeEpic
	mustCreate(t, b, top)

	sub := openTask("proj-epic2")
	sub.Type = constants.TaskTypeEpic
	sub.Parent = "proj-epic1"
	mustCreate(t, b, sub)

	grandchild := openTask("proj-epic2-1")
	grandchild.Parent = "proj-epic2"
	mustCreate(t, b, grandchild)

	outside := openTask("proj-b-1")
	mustCreate(t, b, outside)

	// Descendants at any depth match the top-level epic filter.
	byTop, err := b.List(ctx, domain.TaskFilter{Parent: "proj-epic1"})
	require.NoError(t, err)
	ids := make([]string, 0, len(byTop))
	for _, r := range byTop {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "proj-epic2")
	assert.Contains(t, ids, "proj-epic2-1")
	assert.NotContains(t, ids, "proj-b-1")

	ready, err := b.Ready(ctx, domain.TaskFilter{Parent: "proj-epic1"})
	require.NoError(t, err)
	readyIDs := make([]string, 0, len(ready))
	for _, r := range ready {
		readyIDs = append(readyIDs, r.ID)
	}
	assert.Contains(t, readyIDs, "proj-epic2-1")
}

func TestAddDepRejectsCycle(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, b, openTask("proj-a-1"))
	mustCreate(t, b, openTask("proj-a-2"))
	mustCreate(t, b, openTask("proj-a-3"))

	require.NoError(t, b.AddDep(ctx, "proj-a-2", "proj-a-1"))
	require.NoError(t, b.AddDep(ctx, "proj-a-3", "proj-a-2"))

	err := b.AddDep(ctx, "proj-a-1", "proj-a-3")
	assert.ErrorIs(t, err, cuberrors.ErrDependencyCycle)

	err = b.AddDep(ctx, "proj-a-1", "proj-a-1")
	assert.ErrorIs(t, err, cuberrors.ErrDependencyCycle)
}

func TestBlocked(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, b, openTask("proj-a-1"))
	dependent := openTask("proj-a-2")
	dependent.DependsOn = []string{"proj-a-1"}
	mustCreate(t, b, dependent)

	blocked, err := b.Blocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"proj-a-2": {"proj-a-1"}}, blocked)
}

func TestLabels(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	mustCreate(t, b, openTask("proj-a-1"))

	require.NoError(t, b.AddLabel(ctx, "proj-a-1", "model:opus"))
	require.NoError(t, b.AddLabel(ctx, "proj-a-1", "pr"))
	require.NoError(t, b.AddLabel(ctx, "proj-a-1", "pr")) // idempotent

	labels, err := b.Labels(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"model:opus", "pr"}, labels)

	got, err := b.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, "opus", got.ModelOverride())

	require.NoError(t, b.RemoveLabel(ctx, "proj-a-1", "pr"))
	labels, err = b.Labels(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"model:opus"}, labels)
}

func TestCounts(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	mustCreate(t, b, openTask("proj-a-1"))
	mustCreate(t, b, openTask("proj-a-2"))
	require.NoError(t, b.Claim(ctx, "proj-a-1", "s"))
	mustCreate(t, b, openTask("proj-a-3"))
	require.NoError(t, b.Close(ctx, "proj-a-3", "done"))

	counts, err := b.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCounts{Open: 1, InProgress: 1, Closed: 1, Total: 3}, counts)
}

func TestPersistenceAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, first.Create(ctx, openTask("proj-a-1")))
	require.NoError(t, first.Claim(ctx, "proj-a-1", "s"))

	second, err := NewFileBackend(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, "proj-a-1")
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusInProgress, got.Status)
}
