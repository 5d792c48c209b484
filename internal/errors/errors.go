// Package errors provides centralized error handling for cub.
//
// This package defines sentinel errors used for programmatic error categorization
// throughout the application. All error types can be checked using errors.Is().
//
// IMPORTANT: This package MUST NOT import any other internal packages.
// Only standard library imports are allowed.
package errors

import "errors"

// Sentinel errors for error categorization.
// These allow callers to check error types with errors.Is().
// All errors use lowercase descriptions per Go conventions.
var (
	// ErrTaskNotFound indicates that the requested task does not exist
	// in the task backend.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists indicates an attempt to create a task whose id is
	// already taken.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotOpen indicates a claim on a task that is already closed.
	ErrTaskNotOpen = errors.New("task is not open")

	// ErrClaimRace indicates a claim lost to a concurrent claimant.
	ErrClaimRace = errors.New("task claim race")

	// ErrInvalidTaskID indicates a task id that does not match the
	// required {project}-{epic}-{task} format.
	ErrInvalidTaskID = errors.New("invalid task id")

	// ErrDependencyCycle indicates that adding a dependency would create
	// a cycle in the dependency graph.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrTaskBroken indicates a task referencing a parent or dependency
	// that does not exist.
	ErrTaskBroken = errors.New("task references missing id")

	// ErrHarnessMissing indicates the harness executable was not found
	// on PATH.
	ErrHarnessMissing = errors.New("harness executable not found")

	// ErrHarnessAuth indicates the harness rejected its credentials.
	ErrHarnessAuth = errors.New("harness authentication failed")

	// ErrHarnessInvocation indicates the harness child process failed
	// to execute or returned an unusable response.
	ErrHarnessInvocation = errors.New("harness invocation failed")

	// ErrHarnessNotRegistered indicates no harness is registered under
	// the requested name.
	ErrHarnessNotRegistered = errors.New("harness not registered")

	// ErrGitOperation indicates that a git command failed during execution.
	ErrGitOperation = errors.New("git operation failed")

	// ErrPrecheckFailed indicates the clean-state gate denied an iteration.
	ErrPrecheckFailed = errors.New("precheck failed")

	// ErrNestedRun indicates the loop was invoked from within another
	// running loop (CUB_RUN_ACTIVE set).
	ErrNestedRun = errors.New("nested run detected")

	// ErrProtectedBranch indicates a refusal to run on main/master
	// without --main-ok.
	ErrProtectedBranch = errors.New("refusing to run on protected branch")

	// ErrLedgerCorrupt indicates the ledger index could not be parsed
	// and a rebuild is required.
	ErrLedgerCorrupt = errors.New("ledger index corrupt")

	// ErrEntryNotFound indicates the requested ledger entry does not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrEntryExists indicates reconciliation found an existing entry
	// and --force was not supplied.
	ErrEntryExists = errors.New("ledger entry already exists")

	// ErrSchemaVersion indicates a ledger entry with an unsupported
	// schema version was written or read.
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrStageTransition indicates a workflow stage transition that
	// requires an explicit override.
	ErrStageTransition = errors.New("workflow stage transition refused")

	// ErrNoTaskAssociation indicates a forensic session without any
	// task_claim event; reconciliation skips it.
	ErrNoTaskAssociation = errors.New("session has no task association")

	// ErrLockTimeout indicates a file lock could not be acquired within
	// the timeout period.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrConfigNil indicates that a nil config was passed to validation.
	ErrConfigNil = errors.New("config is nil")

	// ErrConfigInvalid indicates an invalid configuration value.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrEmptyValue indicates that a required value was empty.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrValueOutOfRange indicates that a value is outside the allowed range.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrCommandNotConfigured indicates that a mock command was not
	// configured in tests.
	ErrCommandNotConfigured = errors.New("command not configured")

	// ErrRunSessionNotFound indicates the referenced run-session file
	// does not exist.
	ErrRunSessionNotFound = errors.New("run session not found")

	// ErrMalformedEvent indicates a forensic event line that could not
	// be decoded. Reconciliation skips such lines with a warning.
	ErrMalformedEvent = errors.New("malformed forensic event")

	// ErrBudgetExhausted indicates a configured budget limit has been
	// met or exceeded.
	ErrBudgetExhausted = errors.New("budget exhausted")

	// ErrNotInGitRepo indicates a git repository is required but not found.
	ErrNotInGitRepo = errors.New("not in a git repository")
)
