// Package task provides the task backend abstraction and its line-delimited
// JSON file implementation.
//
// The run loop sees a backend through the Backend capability set: readiness
// queries, atomic claim/close transitions, and standard CRUD plus dependency
// and label relationship operations. Backends are selected at process start
// and never swapped mid-run.
package task

import (
	"context"

	"github.com/cubtools/cub/internal/domain"
)

// Backend is the capability set over an ordered, dependency-aware set of
// work items.
//
// Failure modes are distinguished via sentinel errors: ErrTaskNotFound,
// ErrClaimRace, ErrTaskNotOpen, ErrInvalidTaskID. ErrClaimRace is retried
// once by the loop; other errors propagate.
type Backend interface {
	// Ready returns ready tasks matching the optional filters, ordered by
	// priority ascending (lower = more urgent) with ties broken by
	// created_at (older first). A task is ready iff it is open, every
	// dependency is closed, and no approval-pending gate is transitively
	// in its dependency closure.
	Ready(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error)

	// Get retrieves a task by id.
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Claim atomically transitions open → in_progress, recording the
	// session. A losing claimant receives ErrClaimRace; a claim on a
	// closed task receives ErrTaskNotOpen.
	Claim(ctx context.Context, id, sessionID string) error

	// Close atomically transitions the task to closed with a reason.
	Close(ctx context.Context, id, reason string) error

	// Reopen returns a closed task to open.
	Reopen(ctx context.Context, id, reason string) error

	// Update applies a partial update.
	Update(ctx context.Context, id string, patch domain.TaskPatch) error

	// Create adds a new task. The id must match the task-id format and
	// be unique project-wide.
	Create(ctx context.Context, t *domain.Task) error

	// Delete removes a task.
	Delete(ctx context.Context, id string) error

	// List returns tasks matching the filter, in priority order.
	List(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error)

	// Search returns tasks whose id, title, or description contains the
	// query (case-insensitive).
	Search(ctx context.Context, query string) ([]*domain.Task, error)

	// Counts summarizes tasks by status.
	Counts(ctx context.Context) (domain.TaskCounts, error)

	// Blocked returns open tasks that are not ready, with the ids
	// blocking them.
	Blocked(ctx context.Context) (map[string][]string, error)

	// AddDep records that id depends on dep. Rejects cycles and
	// references to missing tasks.
	AddDep(ctx context.Context, id, dep string) error

	// RemoveDep removes a dependency edge.
	RemoveDep(ctx context.Context, id, dep string) error

	// Deps lists the direct dependencies of id.
	Deps(ctx context.Context, id string) ([]string, error)

	// AddLabel and RemoveLabel manage the task's label set.
	AddLabel(ctx context.Context, id, label string) error
	RemoveLabel(ctx context.Context, id, label string) error

	// Labels lists the task's labels.
	Labels(ctx context.Context, id string) ([]string, error)
}
