package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/task"
	"github.com/cubtools/cub/internal/tui"
)

// openBackend creates a file backend rooted at the project's state dir.
func openBackend(global *GlobalFlags) (*task.FileBackend, error) {
	projectDir, err := resolveProjectDir(global)
	if err != nil {
		return nil, err
	}
	return task.NewFileBackend(filepath.Join(projectDir, constants.CubDir), task.WithLogger(GetLogger()))
}

func addTaskCommand(root *cobra.Command, global *GlobalFlags) {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the task backend",
		Long: `Task subcommands create and mutate work items. The run loop selects
from the same backend, and harness prompts instruct the assistant to
close its task with "cub task close".`,
	}

	cmd.AddCommand(
		newTaskCreateCmd(global),
		newTaskListCmd(global),
		newTaskReadyCmd(global),
		newTaskShowCmd(global),
		newTaskClaimCmd(global),
		newTaskCloseCmd(global),
		newTaskReopenCmd(global),
		newTaskUpdateCmd(global),
		newTaskDepCmd(global),
		newTaskLabelCmd(global),
		newTaskSearchCmd(global),
	)
	root.AddCommand(cmd)
}

func newTaskCreateCmd(global *GlobalFlags) *cobra.Command {
	var (
		title       string
		description string
		taskType    string
		priority    int
		parent      string
		deps        []string
		labels      []string
	)
	cmd := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			t := &domain.Task{
				ID:          args[0],
				Title:       title,
				Description: description,
				Type:        constants.TaskType(taskType),
				Priority:    priority,
				Parent:      parent,
				DependsOn:   deps,
				Labels:      labels,
			}
			if err := backend.Create(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "task title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&taskType, "type", string(constants.TaskTypeTask), "task type (task, feature, bug, epic, gate)")
	cmd.Flags().IntVarP(&priority, "priority", "p", 2, "priority 0 (highest) to 4")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task/epic id")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "dependency task ids")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "labels (repeatable)")
	return cmd
}

func newTaskListCmd(global *GlobalFlags) *cobra.Command {
	var (
		parent string
		label  string
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			filter := domain.TaskFilter{
				Parent: parent,
				Label:  label,
				Status: constants.TaskStatus(status),
			}
			tasks, err := backend.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printTaskTable(cmd, tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "filter by parent id")
	cmd.Flags().StringVar(&label, "label", "", "filter by label")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (open, in_progress, closed)")
	return cmd
}

// newTaskReadyCmd builds the ready listing. It is registered both under
// "task ready" and as the top-level "ready" shorthand.
func newTaskReadyCmd(global *GlobalFlags) *cobra.Command {
	var (
		parent string
		label  string
	)
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List ready tasks in selection order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			tasks, err := backend.Ready(cmd.Context(), domain.TaskFilter{Parent: parent, Label: label})
			if err != nil {
				return err
			}
			printTaskTable(cmd, tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "filter by parent id")
	cmd.Flags().StringVar(&label, "label", "", "filter by label")
	return cmd
}

func newTaskShowCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			t, err := backend.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTaskDetail(cmd, t)
			return nil
		},
	}
}

func newTaskClaimCmd(global *GlobalFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim an open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			if err := backend.Claim(cmd.Context(), args[0], session); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "manual", "claiming session id")
	return cmd
}

func newTaskCloseCmd(global *GlobalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "close <task-id>",
		Short: "Close a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			if err := backend.Close(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "done", "close reason")
	return cmd
}

func newTaskReopenCmd(global *GlobalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <task-id>",
		Short: "Reopen a closed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			if err := backend.Reopen(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reopened %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reopen reason")
	return cmd
}

func newTaskUpdateCmd(global *GlobalFlags) *cobra.Command {
	var (
		title    string
		priority int
		notes    string
		approved bool
	)
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			var patch domain.TaskPatch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("notes") {
				patch.Notes = &notes
			}
			if cmd.Flags().Changed("approved") {
				patch.Approved = &approved
			}
			if err := backend.Update(cmd.Context(), args[0], patch); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().StringVar(&notes, "notes", "", "new notes")
	cmd.Flags().BoolVar(&approved, "approved", false, "approve a gate task")
	return cmd
}

func newTaskDepCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage task dependencies",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <task-id> <dep-id>",
			Short: "Add a dependency",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				backend, err := openBackend(global)
				if err != nil {
					return err
				}
				return backend.AddDep(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "remove <task-id> <dep-id>",
			Short: "Remove a dependency",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				backend, err := openBackend(global)
				if err != nil {
					return err
				}
				return backend.RemoveDep(cmd.Context(), args[0], args[1])
			},
		},
	)
	return cmd
}

func newTaskLabelCmd(global *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Manage task labels",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <task-id> <label>",
			Short: "Add a label",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				backend, err := openBackend(global)
				if err != nil {
					return err
				}
				return backend.AddLabel(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "remove <task-id> <label>",
			Short: "Remove a label",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				backend, err := openBackend(global)
				if err != nil {
					return err
				}
				return backend.RemoveLabel(cmd.Context(), args[0], args[1])
			},
		},
	)
	return cmd
}

func newTaskSearchCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search tasks by title, description, and notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := openBackend(global)
			if err != nil {
				return err
			}
			tasks, err := backend.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTaskTable(cmd, tasks)
			return nil
		},
	}
}

func printTaskTable(cmd *cobra.Command, tasks []*domain.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
		return
	}
	tbl := tui.NewTable(cmd.OutOrStdout(), []tui.Column{
		{Name: "ID", Width: 16},
		{Name: "P", Width: 1, Align: tui.AlignRight},
		{Name: "STATUS", Width: 14},
		{Name: "TITLE", Width: 40},
	})
	tbl.Header()
	for _, t := range tasks {
		tbl.Row(
			t.ID,
			fmt.Sprintf("%d", t.Priority),
			tui.FormatTaskStatus(t.Status),
			t.Title,
		)
	}
}

func printTaskDetail(cmd *cobra.Command, t *domain.Task) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", tui.StyleBold.Render(t.ID), t.Title)
	fmt.Fprintf(w, "  type: %s  priority: %d  status: %s\n", t.Type, t.Priority, tui.FormatTaskStatus(t.Status))
	if t.Parent != "" {
		fmt.Fprintf(w, "  parent: %s\n", t.Parent)
	}
	if len(t.DependsOn) > 0 {
		fmt.Fprintf(w, "  depends on: %s\n", strings.Join(t.DependsOn, ", "))
	}
	if len(t.Labels) > 0 {
		fmt.Fprintf(w, "  labels: %s\n", strings.Join(t.Labels, ", "))
	}
	if t.ClaimedBy != "" {
		fmt.Fprintf(w, "  claimed by: %s\n", t.ClaimedBy)
	}
	if t.CloseReason != "" {
		fmt.Fprintf(w, "  close reason: %s\n", t.CloseReason)
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	if t.Notes != "" {
		fmt.Fprintf(w, "\nnotes:\n%s\n", t.Notes)
	}
}
