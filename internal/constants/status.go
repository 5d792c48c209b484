package constants

// TaskStatus represents the state of a task in the backend.
// Status values use snake_case for JSON serialization compatibility.
//
// The lifecycle is:
//
//	open → in_progress (claim)
//	in_progress → closed (close)
//	closed → open (reopen)
type TaskStatus string

const (
	// TaskStatusOpen indicates a task that has not been claimed.
	TaskStatusOpen TaskStatus = "open"

	// TaskStatusInProgress indicates a task claimed by a run session.
	TaskStatusInProgress TaskStatus = "in_progress"

	// TaskStatusClosed indicates a finished task. A closed task stays
	// closed absent an explicit reopen.
	TaskStatusClosed TaskStatus = "closed"
)

// TaskType classifies work items.
type TaskType string

const (
	// TaskTypeTask is a plain unit of work.
	TaskTypeTask TaskType = "task"

	// TaskTypeFeature is a feature-level work item.
	TaskTypeFeature TaskType = "feature"

	// TaskTypeBug is a defect fix.
	TaskTypeBug TaskType = "bug"

	// TaskTypeEpic is a parent grouping of tasks.
	TaskTypeEpic TaskType = "epic"

	// TaskTypeGate is a checkpoint that blocks execution of transitive
	// dependents until explicitly approved.
	TaskTypeGate TaskType = "gate"
)

// RunPhase represents the lifecycle phase of a run session.
type RunPhase string

const (
	// RunPhaseInitializing covers run-session setup before the first iteration.
	RunPhaseInitializing RunPhase = "initializing"

	// RunPhaseRunning covers active loop iteration.
	RunPhaseRunning RunPhase = "running"

	// RunPhaseCompleted indicates the loop drained the queue or hit --once.
	RunPhaseCompleted RunPhase = "completed"

	// RunPhaseFailed indicates a fatal error (precheck, backend, harness).
	RunPhaseFailed RunPhase = "failed"

	// RunPhaseStopped indicates a deliberate stop (budget, stagnation,
	// interrupt, max iterations).
	RunPhaseStopped RunPhase = "stopped"

	// RunPhaseOrphaned marks a session whose active-run designator
	// outlived its process.
	RunPhaseOrphaned RunPhase = "orphaned"
)

// StopReason records why a run ended.
type StopReason string

const (
	// StopReasonNoReadyTasks means the queue had no selectable task.
	StopReasonNoReadyTasks StopReason = "no_ready_tasks"

	// StopReasonTaskClosed means the explicit --task filter closed.
	StopReasonTaskClosed StopReason = "task_closed"

	// StopReasonOnce means --once ended the loop after one iteration.
	StopReasonOnce StopReason = "once"

	// StopReasonBudgetExhausted means a budget limit was met or exceeded.
	StopReasonBudgetExhausted StopReason = "budget_exhausted"

	// StopReasonStagnation means the circuit breaker tripped.
	StopReasonStagnation StopReason = "stagnation"

	// StopReasonInterrupted means the user interrupted the loop.
	StopReasonInterrupted StopReason = "interrupted"

	// StopReasonPrecheckFailed means the clean-state gate denied an iteration.
	StopReasonPrecheckFailed StopReason = "precheck_failed"

	// StopReasonBackendError means the task backend failed fatally.
	StopReasonBackendError StopReason = "backend_error"

	// StopReasonHarnessUnavailable means the harness was missing or
	// failed authentication.
	StopReasonHarnessUnavailable StopReason = "harness_unavailable"
)

// WorkflowStage is the post-completion stage of a ledger entry.
type WorkflowStage string

const (
	// StageDevComplete is set when an entry is finalized by the loop or
	// reconciler.
	StageDevComplete WorkflowStage = "dev_complete"

	// StageNeedsReview marks an entry waiting on human review.
	StageNeedsReview WorkflowStage = "needs_review"

	// StageValidated marks an entry whose work has been verified.
	StageValidated WorkflowStage = "validated"

	// StageReleased marks shipped work. A released entry refuses a
	// dev_complete transition without an explicit override.
	StageReleased WorkflowStage = "released"
)

// VerificationStatus is the outcome of report-only gate checks at finalize time.
type VerificationStatus string

const (
	// VerificationPass means all checks passed.
	VerificationPass VerificationStatus = "pass"

	// VerificationFail means at least one check failed.
	VerificationFail VerificationStatus = "fail"

	// VerificationSkip means verification was disabled.
	VerificationSkip VerificationStatus = "skip"
)

// WellKnownLabels recognized by the loop.
const (
	// LabelModelPrefix prefixes a per-task harness model override,
	// e.g. "model:opus".
	LabelModelPrefix = "model:"
)
