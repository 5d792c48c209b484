// Package constants provides centralized constant values used throughout cub.
// This package is the single source of truth for all shared constants and MUST NOT
// import any other internal packages.
package constants

import "time"

// Environment variable names forming the external contract.
const (
	// EnvRunActive is set by the loop during harness invocation so hook
	// handlers know a parent loop is tracking the session and stand down.
	EnvRunActive = "CUB_RUN_ACTIVE"

	// EnvProjectDir overrides autodetection of the project root.
	EnvProjectDir = "CUB_PROJECT_DIR"

	// EnvDebug enables verbose diagnostic logging when set.
	EnvDebug = "CUB_DEBUG"

	// EnvPrefix is the viper environment variable prefix (CUB_*).
	EnvPrefix = "CUB"
)

// Timeout configurations for various operations.
const (
	// DefaultHarnessTimeout is the default maximum duration for one
	// harness invocation when no per-task timeout is configured.
	DefaultHarnessTimeout = 30 * time.Minute

	// DefaultCheckTimeout is the default timeout for a single clean-state
	// gate command (tests, typecheck, lint).
	DefaultCheckTimeout = 10 * time.Minute

	// GracePeriod is how long a cancelled harness child is given to shut
	// down after SIGTERM before it is killed.
	GracePeriod = 10 * time.Second

	// LockTimeout is the maximum duration to wait for acquiring a file lock.
	LockTimeout = 5 * time.Second

	// LockRetryInterval is the polling interval while waiting for a lock.
	LockRetryInterval = 50 * time.Millisecond
)

// Retry configuration defaults for recoverable operations.
const (
	// MaxHarnessRetries is the maximum number of in-process retries for
	// transient harness launch failures.
	MaxHarnessRetries = 3

	// InitialBackoff is the initial backoff duration before the first retry.
	InitialBackoff = 1 * time.Second
)

// Circuit breaker defaults.
const (
	// BreakerWindow is the number of recent iterations the breaker observes.
	BreakerWindow = 5

	// BreakerSameTaskFailures is the consecutive-failure count on one
	// task that trips the breaker.
	BreakerSameTaskFailures = 3

	// BreakerNoProgressIterations is the number of iterations without a
	// task close that trips the breaker.
	BreakerNoProgressIterations = 10
)

// Budget defaults.
const (
	// BudgetWarnFraction is the usage fraction at which a single budget
	// warning is emitted.
	BudgetWarnFraction = 0.8
)

// Schema versions for persisted documents.
const (
	// LedgerSchemaVersion is the current ledger entry schema version.
	// Mixed-version writes are rejected.
	LedgerSchemaVersion = 1

	// RunSessionSchemaVersion is the current run-session file schema version.
	RunSessionSchemaVersion = 1
)

// Exit codes for the run loop entry point.
const (
	// ExitOK covers normal completion, including no-ready-tasks, --once,
	// budget exhaustion, stagnation, and graceful interruption.
	ExitOK = 0

	// ExitFailure covers precheck failures, missing harnesses, unexpected
	// errors, and task-not-found for an explicit --task.
	ExitFailure = 1

	// ExitInterrupted is returned after a forced (second-signal) exit.
	ExitInterrupted = 130
)
