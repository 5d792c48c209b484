// Package prompt composes the layered system prompt and the short task
// prompt handed to a harness.
//
// Layer order is fixed: runloop template, project instructions, plan
// context, epic summary, task context, retry context. The composer is pure
// over its inputs: identical task, lineage, and attempt state produce
// byte-identical prompts.
package prompt

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/ctxutil"
	"github.com/cubtools/cub/internal/domain"
	cuberrors "github.com/cubtools/cub/internal/errors"
)

//go:embed templates/runloop.md
var builtinRunloopTemplate string

// Layer names, in composition order, as recorded in prompt frontmatter.
const (
	LayerRunloop = "runloop"
	LayerProject = "project"
	LayerPlan    = "plan"
	LayerEpic    = "epic"
	LayerTask    = "task"
	LayerRetry   = "retry"
)

// Input is everything one composition depends on.
type Input struct {
	// Task is the task being attempted. Required.
	Task *domain.Task

	// Lineage locates the task's plan and epic documents.
	Lineage domain.Lineage

	// Epic is the parent epic, when the task has one.
	Epic *domain.Task

	// Siblings are the epic's other child tasks, for the status summary.
	Siblings []*domain.Task

	// PreviousAttempts is the task's attempt history from the ledger.
	PreviousAttempts []domain.Attempt
}

// Result is one composed prompt pair.
type Result struct {
	SystemPrompt string
	TaskPrompt   string

	// Layers names the layers that contributed, in order.
	Layers []string
}

// Composer builds prompts for one project.
type Composer struct {
	projectDir string
	logger     zerolog.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

// WithComposerLogger sets the logger.
func WithComposerLogger(logger zerolog.Logger) ComposerOption {
	return func(c *Composer) {
		c.logger = logger
	}
}

// NewComposer creates a composer rooted at a project directory.
func NewComposer(projectDir string, opts ...ComposerOption) (*Composer, error) {
	if projectDir == "" {
		return nil, cuberrors.Wrap(cuberrors.ErrEmptyValue, "project dir")
	}
	c := &Composer{
		projectDir: projectDir,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compose produces the prompt pair for one attempt.
func (c *Composer) Compose(ctx context.Context, in Input) (*Result, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	if in.Task == nil {
		return nil, cuberrors.Wrap(cuberrors.ErrEmptyValue, "task")
	}

	var sections []string
	var layers []string
	add := func(layer, content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		sections = append(sections, content)
		layers = append(layers, layer)
	}

	add(LayerRunloop, c.runloopTemplate())
	add(LayerProject, c.projectInstructions())
	add(LayerPlan, c.planContext(in.Lineage))
	add(LayerEpic, epicSummary(in.Epic, in.Siblings))
	add(LayerTask, taskContext(in.Task))
	add(LayerRetry, retryContext(in.PreviousAttempts))

	return &Result{
		SystemPrompt: strings.Join(sections, "\n\n---\n\n") + "\n",
		TaskPrompt:   taskPrompt(in.Task),
		Layers:       layers,
	}, nil
}

// runloopTemplate returns the first hit in the fixed lookup list, falling
// back to the built-in template.
func (c *Composer) runloopTemplate() string {
	lookup := []string{
		filepath.Join(c.projectDir, constants.CubDir, constants.RunloopTemplateName),
		filepath.Join(c.projectDir, constants.RunloopTemplateName),
	}
	for _, path := range lookup {
		if data, err := os.ReadFile(path); err == nil { //nolint:gosec // project-local path
			c.logger.Debug().Str("path", path).Msg("using project runloop template")
			return string(data)
		}
	}
	return builtinRunloopTemplate
}

func (c *Composer) projectInstructions() string {
	data, err := os.ReadFile(filepath.Join(c.projectDir, constants.ProjectInstructionsName))
	if err != nil {
		return ""
	}
	return "# Project instructions\n\n" + string(data)
}

// planContext reads the prompt-context document next to the task's plan
// file, when lineage names one.
func (c *Composer) planContext(lineage domain.Lineage) string {
	if lineage.PlanFile == "" {
		return ""
	}
	path := filepath.Join(c.projectDir, filepath.Dir(lineage.PlanFile), "prompt-context.md")
	data, err := os.ReadFile(path) //nolint:gosec // project-local path
	if err != nil {
		return ""
	}
	return "# Plan context\n\n" + string(data)
}

// epicSummary renders the parent epic with sibling-task status counts.
func epicSummary(epic *domain.Task, siblings []*domain.Task) string {
	if epic == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Epic: %s - %s\n", epic.ID, epic.Title)
	if epic.Description != "" {
		b.WriteString("\n" + epic.Description + "\n")
	}

	if len(siblings) > 0 {
		var open, inProgress, closed int
		for _, s := range siblings {
			switch s.Status {
			case constants.TaskStatusClosed:
				closed++
			case constants.TaskStatusInProgress:
				inProgress++
			default:
				open++
			}
		}
		fmt.Fprintf(&b, "\nSibling tasks: %d closed, %d in progress, %d open.\n", closed, inProgress, open)
		for _, s := range siblings {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", s.Status, s.ID, s.Title)
		}
	}
	return b.String()
}

// taskContext renders the task itself plus the closure protocol.
func taskContext(t *domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s - %s\n", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}
	if t.Notes != "" {
		b.WriteString("\nNotes:\n" + t.Notes + "\n")
	}
	fmt.Fprintf(&b, "\nWhen the work is done and verified, close the task:\n\n    cub task close %s --reason \"<summary>\"\n", t.ID)
	return b.String()
}

// retryContext summarizes earlier attempts so the assistant does not repeat
// a failed approach blind.
func retryContext(attempts []domain.Attempt) string {
	if len(attempts) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Previous attempts (%d)\n\n", len(attempts))
	b.WriteString("This task has been attempted before. Review the failures and take a different approach where it matters.\n")
	for _, a := range attempts {
		status := "succeeded"
		if !a.Success {
			status = "failed"
			if a.ErrorCategory != domain.ErrorCategoryNone {
				status = fmt.Sprintf("failed (%s)", a.ErrorCategory)
			}
		}
		fmt.Fprintf(&b, "- attempt %d with %s/%s %s", a.Number, a.Harness, a.Model, status)
		if a.ErrorSummary != "" {
			fmt.Fprintf(&b, ": %s", a.ErrorSummary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// taskPrompt is the short per-task directive.
func taskPrompt(t *domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work on task %s: %s\n", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString("\n" + t.Description + "\n")
	}
	return b.String()
}
