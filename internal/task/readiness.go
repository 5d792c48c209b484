package task

import (
	"sort"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
)

// isReady reports whether t is selectable: open, every direct dependency
// closed, and no approval-pending gate transitively in its dependency
// closure. A gate passes once it is approved or closed.
func isReady(t *domain.Task, tasks map[string]*domain.Task) bool {
	if t.Status != constants.TaskStatusOpen {
		return false
	}
	for _, dep := range t.DependsOn {
		d, ok := tasks[dep]
		if !ok {
			// Broken reference: the task is flagged, never ready.
			return false
		}
		if d.Status != constants.TaskStatusClosed {
			return false
		}
	}
	return !gatePending(t, tasks, make(map[string]bool))
}

// gatePending walks the transitive dependency closure looking for an
// unapproved gate.
func gatePending(t *domain.Task, tasks map[string]*domain.Task, visited map[string]bool) bool {
	if visited[t.ID] {
		return false
	}
	visited[t.ID] = true

	for _, dep := range t.DependsOn {
		d, ok := tasks[dep]
		if !ok {
			continue
		}
		if d.Type == constants.TaskTypeGate && !gateApproved(d) {
			return true
		}
		if gatePending(d, tasks, visited) {
			return true
		}
	}
	return false
}

func gateApproved(gate *domain.Task) bool {
	return gate.Approved || gate.Status == constants.TaskStatusClosed
}

// blockingIDs returns the ids preventing an open task from being ready:
// unclosed dependencies, missing references, and pending gates.
func blockingIDs(t *domain.Task, tasks map[string]*domain.Task) []string {
	seen := make(map[string]bool)
	var blockers []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			blockers = append(blockers, id)
		}
	}

	for _, dep := range t.DependsOn {
		d, ok := tasks[dep]
		if !ok || d.Status != constants.TaskStatusClosed {
			add(dep)
		}
	}

	var walk func(cur *domain.Task, visited map[string]bool)
	walk = func(cur *domain.Task, visited map[string]bool) {
		if visited[cur.ID] {
			return
		}
		visited[cur.ID] = true
		for _, dep := range cur.DependsOn {
			d, ok := tasks[dep]
			if !ok {
				continue
			}
			if d.Type == constants.TaskTypeGate && !gateApproved(d) {
				add(d.ID)
			}
			walk(d, visited)
		}
	}
	walk(t, make(map[string]bool))

	return blockers
}

// reachable reports whether `to` is reachable from `from` over depends_on
// edges. Used for cycle detection before adding an edge.
func reachable(tasks map[string]*domain.Task, from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		t, ok := tasks[cur]
		if !ok {
			continue
		}
		for _, dep := range t.DependsOn {
			if dep == to {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}

// matchesFilter applies a TaskFilter. Parent matching includes transitive
// descendants, so a sub-epic's tasks are selected by the top-level epic id.
func matchesFilter(t *domain.Task, filter domain.TaskFilter, tasks map[string]*domain.Task) bool {
	if filter.ID != "" && t.ID != filter.ID {
		return false
	}
	if filter.Label != "" && !t.HasLabel(filter.Label) {
		return false
	}
	if filter.Status != "" && t.Status != filter.Status {
		return false
	}
	if filter.Parent != "" && !underParent(t, filter.Parent, tasks) {
		return false
	}
	return true
}

// underParent walks the parent chain looking for ancestorID. The task
// itself counts; a cycle or missing link ends the walk.
func underParent(t *domain.Task, ancestorID string, tasks map[string]*domain.Task) bool {
	visited := make(map[string]bool)
	for cur := t; cur != nil && !visited[cur.ID]; {
		if cur.ID == ancestorID {
			return true
		}
		visited[cur.ID] = true
		if cur.Parent == "" {
			return false
		}
		if cur.Parent == ancestorID {
			return true
		}
		cur = tasks[cur.Parent]
	}
	return false
}

// sortByPriority orders tasks by priority ascending (lower = more urgent),
// ties broken by created_at (older first), then id for stability.
func sortByPriority(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
