package domain

import (
	"time"

	"github.com/cubtools/cub/internal/constants"
)

// Attempt records one harness invocation for one task. All attempts for a
// task share the same ledger entry; numbering is 1-based and strictly
// monotone per task.
type Attempt struct {
	// Number is the 1-based attempt number within the task's entry.
	Number int `json:"attempt_number"`

	// RunID is the owning run session, or empty for direct sessions.
	RunID string `json:"run_id,omitempty"`

	// Source is "loop" or "direct_session".
	Source EntrySource `json:"source"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Harness is the harness name (claude, codex, ...).
	Harness string `json:"harness,omitempty"`

	// Model is the model used for this attempt.
	Model string `json:"model,omitempty"`

	// Success indicates whether the attempt completed the task's work.
	Success bool `json:"success"`

	// ErrorCategory and ErrorSummary are set when the attempt failed.
	ErrorCategory ErrorCategory `json:"error_category,omitempty"`
	ErrorSummary  string        `json:"error_summary,omitempty"`

	// Tokens is the token split; Known=false flags missing usage data.
	Tokens TokenUsage `json:"tokens"`

	// CostUSD is the attempt cost.
	CostUSD float64 `json:"cost_usd"`

	// DurationS is the attempt duration in seconds.
	DurationS float64 `json:"duration_s"`
}

// EntrySource records how a ledger entry was produced.
type EntrySource string

const (
	// SourceLoop marks entries written by the run loop.
	SourceLoop EntrySource = "loop"

	// SourceDirectSession marks entries reconciled from forensics of a
	// non-loop assistant session.
	SourceDirectSession EntrySource = "direct_session"
)

// Lineage links a ledger entry back to the documents it grew from.
type Lineage struct {
	SpecFile string `json:"spec_file,omitempty"`
	PlanFile string `json:"plan_file,omitempty"`
	EpicID   string `json:"epic_id,omitempty"`
}

// TaskSnapshot captures the task as first seen by the ledger.
type TaskSnapshot struct {
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Type        constants.TaskType   `json:"type"`
	Priority    int                  `json:"priority"`
	Labels      []string             `json:"labels,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	CapturedAt  time.Time            `json:"captured_at"`
}

// TaskDrift records fields that changed between first capture and final close.
type TaskDrift struct {
	Fields []FieldChange `json:"fields,omitempty"`
}

// FieldChange is one before/after field difference.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// DriftSeverity classifies spec drift on an outcome.
type DriftSeverity string

const (
	DriftNone        DriftSeverity = "none"
	DriftMinor       DriftSeverity = "minor"
	DriftSignificant DriftSeverity = "significant"
)

// SpecDrift records additions/omissions versus the task's spec file at
// close time.
type SpecDrift struct {
	Additions []string      `json:"additions,omitempty"`
	Omissions []string      `json:"omissions,omitempty"`
	Severity  DriftSeverity `json:"severity"`
}

// Outcome is filled on final close of a ledger entry.
type Outcome struct {
	Success        bool      `json:"success"`
	Partial        bool      `json:"partial,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
	TotalAttempts  int       `json:"total_attempts"`
	TotalDurationS float64   `json:"total_duration_s"`

	// FinalModel is the model used on the closing attempt.
	FinalModel string `json:"final_model,omitempty"`

	// Escalation is the ordered list of models tried when escalation
	// kicked in.
	Escalation []string `json:"escalation,omitempty"`

	FilesChanged []string `json:"files_changed,omitempty"`
	Commits      []string `json:"commits,omitempty"`

	Approach       string   `json:"approach,omitempty"`
	KeyDecisions   []string `json:"key_decisions,omitempty"`
	LessonsLearned []string `json:"lessons_learned,omitempty"`
}

// Verification records report-only gate results at finalize time.
type Verification struct {
	Status      constants.VerificationStatus `json:"status"`
	StartedAt   *time.Time                   `json:"started_at,omitempty"`
	CompletedAt *time.Time                   `json:"completed_at,omitempty"`
	Tests       bool                         `json:"tests"`
	Typecheck   bool                         `json:"typecheck"`
	Lint        bool                         `json:"lint"`
	Notes       string                       `json:"notes,omitempty"`
}

// StateTransition is one workflow/state history record.
type StateTransition struct {
	Stage  string    `json:"stage"`
	At     time.Time `json:"at"`
	By     string    `json:"by,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// LedgerEntry is the append-mostly record of everything that happened to
// one task.
type LedgerEntry struct {
	// ID is the task id.
	ID string `json:"id"`

	// Version is the entry schema version.
	Version int `json:"version"`

	Lineage Lineage      `json:"lineage,omitempty"`
	Task    TaskSnapshot `json:"task"`

	// TaskChanged records drift between first capture and final close.
	TaskChanged *TaskDrift `json:"task_changed,omitempty"`

	// Attempts is the ordered attempt sequence.
	Attempts []Attempt `json:"attempts,omitempty"`

	// Outcome is set when the entry is finalized.
	Outcome *Outcome `json:"outcome,omitempty"`

	Drift        *SpecDrift    `json:"drift,omitempty"`
	Verification *Verification `json:"verification,omitempty"`

	// Workflow is the post-completion stage.
	Workflow constants.WorkflowStage `json:"workflow,omitempty"`

	// WorkflowUpdatedAt is the last stage change time.
	WorkflowUpdatedAt *time.Time `json:"workflow_updated_at,omitempty"`

	// StateHistory is the ordered transition log.
	StateHistory []StateTransition `json:"state_history,omitempty"`

	// Source records how the entry was created.
	Source EntrySource `json:"source"`
}

// NextAttemptNumber returns the number the next appended attempt must carry.
func (e *LedgerEntry) NextAttemptNumber() int {
	return len(e.Attempts) + 1
}

// Finalized reports whether the entry carries an outcome.
func (e *LedgerEntry) Finalized() bool {
	return e.Outcome != nil
}

// EpicAggregates are derived totals over an epic's per-task entries.
// Any discrepancy resolves in favour of the per-task entries.
type EpicAggregates struct {
	TotalTasks      int        `json:"total_tasks"`
	TasksCompleted  int        `json:"tasks_completed"`
	TasksInProgress int        `json:"tasks_in_progress"`
	TotalCostUSD    float64    `json:"total_cost_usd"`
	Tokens          TokenUsage `json:"tokens"`
	TotalAttempts   int        `json:"total_attempts"`
	EscalationRate  float64    `json:"escalation_rate"`
	AvgCostPerTask  float64    `json:"avg_cost_per_task"`
}

// EpicEntry is the aggregation record for an epic id.
type EpicEntry struct {
	ID      string  `json:"id"`
	Version int     `json:"version"`
	Lineage Lineage `json:"lineage,omitempty"`

	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// TaskIDs lists the per-task entries belonging to this epic.
	TaskIDs []string `json:"task_ids,omitempty"`

	Aggregates EpicAggregates `json:"aggregates"`

	Workflow     constants.WorkflowStage `json:"workflow,omitempty"`
	StateHistory []StateTransition       `json:"state_history,omitempty"`
}
