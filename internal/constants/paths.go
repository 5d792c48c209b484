package constants

// Directory names and paths used by cub for organizing project state.
// All state lives under {project}/.cub/.
const (
	// CubDir is the hidden directory name where cub stores all project state.
	CubDir = ".cub"

	// ActiveRunName is the well-known symlink designating the currently
	// active run session.
	ActiveRunName = "active-run"

	// RunSessionsDir holds one file per run session.
	RunSessionsDir = "run-sessions"

	// LedgerDir is the ledger root below CubDir.
	LedgerDir = "ledger"

	// ByTaskDir groups ledger entries by task id.
	ByTaskDir = "by-task"

	// ByEpicDir groups ledger entries by epic id.
	ByEpicDir = "by-epic"

	// ByRunDir groups ledger entries by run session.
	ByRunDir = "by-run"

	// ForensicsDir holds per-session JSON-lines event logs.
	ForensicsDir = "forensics"

	// AttemptsDir holds per-attempt prompt and harness-log files under
	// a task's ledger directory.
	AttemptsDir = "attempts"

	// LogsDir is the directory name where diagnostic log files are stored.
	LogsDir = "logs"

	// IndexFileName is the ledger fast-lookup index (JSON lines).
	IndexFileName = "index.jsonl"

	// IndexLockName is the advisory lock file guarding index writes.
	IndexLockName = "index.lock"

	// EntryFileName is the per-task (and per-epic) full entry document.
	EntryFileName = "entry.json"

	// TasksFileName is the line-delimited JSON task backend store.
	TasksFileName = "tasks.jsonl"

	// TasksLockName is the advisory lock file guarding task mutations.
	TasksLockName = "tasks.lock"

	// CLILogFileName is the rotating diagnostic log under LogsDir.
	CLILogFileName = "cub.log"

	// RunloopTemplateName is the project-installed runloop prompt template.
	RunloopTemplateName = "runloop.md"

	// ProjectInstructionsName is the project agent-instruction file
	// appended to every system prompt when present.
	ProjectInstructionsName = "AGENTS.md"
)

// Configuration file names.
const (
	// GlobalConfigName is the global cub configuration file, located in
	// ~/.cub/.
	GlobalConfigName = "config.yaml"

	// ProjectConfigName is the project configuration file, located in
	// {project}/.cub/.
	ProjectConfigName = "config.yaml"
)

// Log rotation settings for the CLI diagnostic log.
const (
	// LogMaxSizeMB is the size at which the log file rotates.
	LogMaxSizeMB = 10

	// LogMaxBackups is how many rotated files are retained.
	LogMaxBackups = 3

	// LogMaxAgeDays is how long rotated files are retained.
	LogMaxAgeDays = 30

	// LogCompress gzips rotated files.
	LogCompress = true
)

// File and directory permissions.
const (
	// DirPerm is the permission mode for cub-created directories.
	DirPerm = 0o750

	// FilePerm is the permission mode for cub-created files.
	FilePerm = 0o600
)
