package domain

import (
	"time"

	"github.com/cubtools/cub/internal/constants"
)

// BudgetLimits are the configured run budgets. Zero values mean unlimited.
type BudgetLimits struct {
	MaxTokens     int64   `json:"max_tokens,omitempty"`
	MaxCostUSD    float64 `json:"max_cost_usd,omitempty"`
	MaxTasks      int     `json:"max_tasks,omitempty"`
	MaxIterations int     `json:"max_iterations,omitempty"`
}

// Unlimited reports whether no limit is configured at all.
func (b BudgetLimits) Unlimited() bool {
	return b.MaxTokens == 0 && b.MaxCostUSD == 0 && b.MaxTasks == 0 && b.MaxIterations == 0
}

// BudgetUsage is cumulative run usage tracked by the accountant.
type BudgetUsage struct {
	TokensUsed     int64   `json:"tokens_used"`
	CostUSD        float64 `json:"cost_usd"`
	TasksCompleted int     `json:"tasks_completed"`
	Iterations     int     `json:"iterations"`

	// UnknownUsage counts attempts whose harness emitted no token/cost
	// data; their usage was treated as zero.
	UnknownUsage int `json:"unknown_usage,omitempty"`
}

// RunSession represents one invocation of the loop.
type RunSession struct {
	// ID is the monotone-timestamped run id, e.g. cub-20260824-153000.
	ID string `json:"id"`

	// Version is the run-session schema version.
	Version int `json:"version"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Harness is the selected harness name.
	Harness string `json:"harness"`

	// Model is the model override, when set.
	Model string `json:"model,omitempty"`

	// PID is the loop process id, used for orphan detection.
	PID int `json:"pid"`

	// ProjectDir is the project root the loop operated on.
	ProjectDir string `json:"project_dir"`

	// Filters restrict task selection for this run.
	Filters TaskFilter `json:"-"`

	// FilterTask/FilterParent/FilterLabel are the persisted filter fields.
	FilterTask   string `json:"filter_task,omitempty"`
	FilterParent string `json:"filter_parent,omitempty"`
	FilterLabel  string `json:"filter_label,omitempty"`

	// Limits are the configured budgets.
	Limits BudgetLimits `json:"limits"`

	// Usage is the cumulative budget usage.
	Usage BudgetUsage `json:"usage"`

	// Phase is the session lifecycle phase.
	Phase constants.RunPhase `json:"phase"`

	// StopReason records why the run ended.
	StopReason constants.StopReason `json:"stop_reason,omitempty"`

	// CurrentTask is the task being worked in the current iteration.
	CurrentTask string `json:"current_task,omitempty"`

	// Warnings accumulates non-fatal events (budget warn threshold,
	// precheck warnings).
	Warnings []string `json:"warnings,omitempty"`

	// Iterations summarizes each loop body entered.
	Iterations []IterationSummary `json:"iterations,omitempty"`
}

// IterationSummary is one per-iteration record in the run artifact.
type IterationSummary struct {
	Number        int           `json:"number"`
	TaskID        string        `json:"task_id,omitempty"`
	Success       bool          `json:"success"`
	Closed        bool          `json:"closed"`
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	CostUSD       float64       `json:"cost_usd"`
	DurationS     float64       `json:"duration_s"`
}

// Terminal reports whether the session phase is final.
func (r *RunSession) Terminal() bool {
	switch r.Phase {
	case constants.RunPhaseCompleted, constants.RunPhaseFailed,
		constants.RunPhaseStopped, constants.RunPhaseOrphaned:
		return true
	default:
		return false
	}
}
