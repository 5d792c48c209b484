// Package domain provides shared domain types for the cub orchestration core.
//
// IMPORTANT: This package may import internal/constants, but MUST NOT import
// any other internal packages. It exists so that the task backend, harness,
// ledger, and run loop can exchange values without circular imports.
package domain

import (
	"strings"
	"time"

	"github.com/cubtools/cub/internal/constants"
)

// Task represents a unit of work in the task backend.
//
// IDs are hierarchical: {project}-{epic}-{task}, e.g. "cub-048a-5.4".
// Uniqueness is enforced project-wide.
type Task struct {
	// ID is the hierarchical task identifier.
	ID string `json:"id"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description is free-form markdown describing the work.
	Description string `json:"description,omitempty"`

	// Type classifies the work item (task, feature, bug, epic, gate).
	Type constants.TaskType `json:"type"`

	// Status is the lifecycle state (open, in_progress, closed).
	Status constants.TaskStatus `json:"status"`

	// Priority orders selection: 0 (highest) through 4.
	Priority int `json:"priority"`

	// Parent is the optional id of the parent task/epic. This field is
	// canonical; any epic:{parent} label is a derived view.
	Parent string `json:"parent,omitempty"`

	// DependsOn lists task ids that must be closed before this task
	// becomes ready.
	DependsOn []string `json:"depends_on,omitempty"`

	// Labels are free-form string tags. Recognized labels include
	// "model:<name>" and "pr".
	Labels []string `json:"labels,omitempty"`

	// Assignee is an optional owner.
	Assignee string `json:"assignee,omitempty"`

	// Notes holds free-form working notes.
	Notes string `json:"notes,omitempty"`

	// Approved marks a gate task as explicitly approved. Only meaningful
	// for Type == gate; an unapproved gate blocks its transitive dependents.
	Approved bool `json:"approved,omitempty"`

	// ClaimedBy records the run session holding an in_progress claim.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// CloseReason records why the task was closed.
	CloseReason string `json:"close_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// ModelOverride returns the model named by a "model:<name>" label,
// or empty string when no override label is present.
func (t *Task) ModelOverride() string {
	for _, l := range t.Labels {
		if strings.HasPrefix(l, constants.LabelModelPrefix) {
			return strings.TrimPrefix(l, constants.LabelModelPrefix)
		}
	}
	return ""
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// EpicID returns the {project}-{epic} prefix of the task id, or the id
// itself for epic-only ids.
func (t *Task) EpicID() string {
	parts := strings.Split(t.ID, "-")
	if len(parts) < 3 {
		return t.ID
	}
	return strings.Join(parts[:len(parts)-1], "-")
}

// TaskPatch is a partial update applied by Backend.Update.
// Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string               `json:"title,omitempty"`
	Description *string               `json:"description,omitempty"`
	Priority    *int                  `json:"priority,omitempty"`
	Parent      *string               `json:"parent,omitempty"`
	Assignee    *string               `json:"assignee,omitempty"`
	Notes       *string               `json:"notes,omitempty"`
	Approved    *bool                 `json:"approved,omitempty"`
	Type        *constants.TaskType   `json:"type,omitempty"`
	Status      *constants.TaskStatus `json:"status,omitempty"`
}

// TaskFilter restricts task queries.
type TaskFilter struct {
	// ID restricts selection to a single task.
	ID string

	// Parent restricts selection to descendants of this parent id.
	Parent string

	// Label restricts selection to tasks carrying this label.
	Label string

	// Status restricts selection to tasks in this status.
	Status constants.TaskStatus
}

// TaskCounts summarizes the backend by status.
type TaskCounts struct {
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Closed     int `json:"closed"`
	Total      int `json:"total"`
}
